package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

// ScheduledTaskStore backs the Scheduler's TaskStore and JobStateReader
// ports (§4.2) over the scheduled_tasks and jobs tables.
type ScheduledTaskStore struct {
	pool *pgxpool.Pool
}

// NewScheduledTaskStore constructs a ScheduledTaskStore.
func NewScheduledTaskStore(pool *pgxpool.Pool) *ScheduledTaskStore {
	return &ScheduledTaskStore{pool: pool}
}

const scheduledTaskColumns = `id, task_name, payload, interval_seconds, overrun_policy, last_queued_at,
	active_fire_key, active_fire_key_set_at, enabled, created_at`

func scanScheduledTask(row pgx.Row) (*model.ScheduledTask, error) {
	var t model.ScheduledTask
	var intervalSeconds int64
	var policy *string
	if err := row.Scan(
		&t.ID, &t.TaskName, &t.Payload, &intervalSeconds, &policy, &t.LastQueuedAt,
		&t.ActiveFireKey, &t.ActiveFireKeySetAt, &t.Enabled, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	t.Interval = time.Duration(intervalSeconds) * time.Second
	if policy != nil {
		p := model.OverrunPolicy(*policy)
		t.OverrunPolicy = &p
	}
	return &t, nil
}

// FindDue returns up to limit enabled tasks whose interval has elapsed,
// ordered by last_queued_at ascending with never-queued tasks first, so the
// tasks that have waited longest since their last enqueue come first.
func (s *ScheduledTaskStore) FindDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduledTaskColumns+`
		FROM scheduled_tasks
		WHERE enabled
		  AND (last_queued_at IS NULL OR last_queued_at + make_interval(secs => interval_seconds) <= $1)
		ORDER BY COALESCE(last_queued_at, 'epoch'::timestamptz) ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	defer rows.Close()

	var out []model.ScheduledTask
	for rows.Next() {
		t, err := scanScheduledTask(rows)
		if err != nil {
			return nil, mmerrors.MapDBError(err)
		}
		out = append(out, *t)
	}
	return out, mmerrors.MapDBError(rows.Err())
}

// MarkQueued advances last_queued_at and, when the caller supplies one,
// records the active fire key in the same statement (§4.2 step 4/6).
func (s *ScheduledTaskStore) MarkQueued(ctx context.Context, params model.MarkQueuedParams) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET last_queued_at = $2,
		    active_fire_key = COALESCE($3, active_fire_key),
		    active_fire_key_set_at = COALESCE($4, active_fire_key_set_at)
		WHERE id = $1`,
		params.ID, params.Now, params.ActiveFireKey, params.ActiveFireKeySetAt)
	if err != nil {
		return false, mmerrors.MapDBError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateActiveFireKey records the fire key from a task's most recent
// enqueue attempt without touching last_queued_at.
func (s *ScheduledTaskStore) UpdateActiveFireKey(ctx context.Context, params model.UpdateActiveFireKeyParams) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_tasks
		SET active_fire_key = $2, active_fire_key_set_at = $3
		WHERE id = $1`, params.ID, params.FireKey, params.SetAt)
	return mmerrors.MapDBError(err)
}

// JobStatesByTaskName reports which overrun-relevant job states currently
// exist for taskName. A lease that has already expired does not count as
// active: a crashed worker must not block the next firing forever.
func (s *ScheduledTaskStore) JobStatesByTaskName(ctx context.Context, taskName string, now time.Time) (model.JobStateSnapshot, error) {
	var snapshot model.JobStateSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM jobs WHERE task_name = $1 AND state = 'active' AND (lease_until IS NULL OR lease_until > $2)),
			EXISTS(SELECT 1 FROM jobs WHERE task_name = $1 AND state = 'pending' AND attempts = 0),
			EXISTS(SELECT 1 FROM jobs WHERE task_name = $1 AND state = 'pending' AND attempts > 0)
	`, taskName, now).Scan(&snapshot.HasActive, &snapshot.HasPending, &snapshot.HasRetrying)
	if err != nil {
		return model.JobStateSnapshot{}, mmerrors.MapDBError(err)
	}
	return snapshot, nil
}

// Upsert creates or updates a scheduled task definition by task name,
// used by operator tooling and by the composition root's seed step.
func (s *ScheduledTaskStore) Upsert(ctx context.Context, task model.ScheduledTask) (*model.ScheduledTask, error) {
	if task.Payload == nil {
		task.Payload = json.RawMessage(`{}`)
	}
	var policy *string
	if task.OverrunPolicy != nil {
		p := string(*task.OverrunPolicy)
		policy = &p
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO scheduled_tasks (task_name, payload, interval_seconds, overrun_policy, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_name) DO UPDATE
		SET payload = EXCLUDED.payload,
		    interval_seconds = EXCLUDED.interval_seconds,
		    overrun_policy = EXCLUDED.overrun_policy,
		    enabled = EXCLUDED.enabled
		RETURNING `+scheduledTaskColumns,
		task.TaskName, task.Payload, int64(task.Interval/time.Second), policy, task.Enabled)

	out, err := scanScheduledTask(row)
	if err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	return out, nil
}

// GetByTaskName loads a scheduled task definition by its task name.
func (s *ScheduledTaskStore) GetByTaskName(ctx context.Context, taskName string) (*model.ScheduledTask, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scheduledTaskColumns+` FROM scheduled_tasks WHERE task_name = $1`, taskName)
	out, err := scanScheduledTask(row)
	if err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	return out, nil
}

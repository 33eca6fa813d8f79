// Package postgres provides the durable-queue Job Store adapter backing
// ports.JobStore, plus the Reaper's maintenance operations (§4.1, §4.4).
// It talks to Postgres through a pgxpool.Pool directly: unlike the session
// store's upstream counterpart, there is no database/sql caller above this
// layer to satisfy, so the native pgx driver is used end to end rather than
// bridging through database/sql + pgx/v5/stdlib.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

const jobColumns = `
	id, task_name, payload, state, attempts, max_attempts, idempotency_key,
	available_at, lease_until, heartbeat_at, worker_id, created_at,
	started_at, finished_at, failed_reason`

// JobStore implements ports.JobStore and ports.JobMaintenance over Postgres.
type JobStore struct {
	pool         *pgxpool.Pool
	retryBase    time.Duration
	retryCeiling time.Duration
}

// NewJobStore constructs a JobStore. retryBase and retryCeiling configure
// the exponential backoff applied by Fail; zero values fall back to the
// spec defaults.
func NewJobStore(pool *pgxpool.Pool, retryBase, retryCeiling time.Duration) *JobStore {
	if retryBase <= 0 {
		retryBase = model.DefaultRetryBaseSeconds * time.Second
	}
	if retryCeiling <= 0 {
		retryCeiling = model.DefaultRetryCeilingSeconds * time.Second
	}
	return &JobStore{pool: pool, retryBase: retryBase, retryCeiling: retryCeiling}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	err := row.Scan(
		&j.ID, &j.TaskName, &j.Payload, &j.State, &j.Attempts, &j.MaxAttempts, &j.IdempotencyKey,
		&j.AvailableAt, &j.LeaseUntil, &j.HeartbeatAt, &j.WorkerID, &j.CreatedAt,
		&j.StartedAt, &j.FinishedAt, &j.FailedReason,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func notifyChannel(taskName string) string {
	return "job_added_" + taskName
}

// Create implements ports.JobStore (§4.1).
func (s *JobStore) Create(ctx context.Context, taskName string, payload []byte, opts model.CreateOptions) (*model.Job, bool, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultMaxAttempts
	}
	availableAt := opts.AvailableAt
	if availableAt.IsZero() {
		availableAt = time.Now().UTC()
	}
	var idempotencyKey *string
	if opts.IdempotencyKey != "" {
		idempotencyKey = &opts.IdempotencyKey
	}

	const insertSQL = `
		INSERT INTO jobs (task_name, payload, max_attempts, idempotency_key, available_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_name, idempotency_key)
			WHERE idempotency_key IS NOT NULL AND state NOT IN ('completed', 'failed', 'expired')
			DO NOTHING
		RETURNING ` + jobColumns

	row := s.pool.QueryRow(ctx, insertSQL, taskName, payload, maxAttempts, idempotencyKey, availableAt)
	job, err := scanJob(row)
	switch {
	case err == nil:
		if _, notifyErr := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel(taskName), job.ID); notifyErr != nil {
			return job, true, mmerrors.Transient(notifyErr, "notify job availability")
		}
		return job, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		if idempotencyKey == nil {
			return nil, false, mmerrors.Internal("job insert returned no row without an idempotency key")
		}
		existing, getErr := s.getActiveByIdempotencyKey(ctx, taskName, *idempotencyKey)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, model.ErrIdempotencyConflict
	default:
		return nil, false, mmerrors.MapDBError(err)
	}
}

func (s *JobStore) getActiveByIdempotencyKey(ctx context.Context, taskName, idempotencyKey string) (*model.Job, error) {
	const q = `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE task_name = $1 AND idempotency_key = $2 AND state NOT IN ('completed', 'failed', 'expired')
		ORDER BY created_at DESC
		LIMIT 1`
	row := s.pool.QueryRow(ctx, q, taskName, idempotencyKey)
	job, err := scanJob(row)
	if err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	return job, nil
}

// ReserveNext implements ports.JobStore (§4.1). Selection is a single
// write that both selects and locks via FOR UPDATE SKIP LOCKED, making it
// linearizable across concurrently racing workers.
func (s *JobStore) ReserveNext(ctx context.Context, taskNames []string, workerID string, lease time.Duration) (*model.Job, error) {
	leaseUntil := time.Now().UTC().Add(lease)

	const q = `
		WITH candidate AS (
			SELECT id FROM jobs
			WHERE task_name = ANY($1) AND state = 'pending' AND available_at <= now()
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs
		SET state = 'active', started_at = now(), lease_until = $2,
			heartbeat_at = now(), worker_id = $3, attempts = attempts + 1
		FROM candidate
		WHERE jobs.id = candidate.id
		RETURNING ` + jobColumns

	row := s.pool.QueryRow(ctx, q, taskNames, leaseUntil, workerID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, mmerrors.MapDBError(err)
	}
	return job, nil
}

// WaitForNotification implements ports.JobStore. It acquires a dedicated
// connection from the pool for the duration of the wait, LISTENs on the
// task's channel, and blocks on the first NOTIFY or ctx cancellation.
func (s *JobStore) WaitForNotification(ctx context.Context, taskName string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return mmerrors.Transient(err, "acquire notification connection")
	}
	defer conn.Release()

	channel := pgx.Identifier{notifyChannel(taskName)}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return mmerrors.Transient(err, "listen for job availability")
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN "+channel)
	}()

	_, err = conn.Conn().WaitForNotification(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return mmerrors.Transient(err, "wait for job notification")
	}
	return nil
}

// Heartbeat implements ports.JobStore (§4.1).
func (s *JobStore) Heartbeat(ctx context.Context, jobID, workerID string, newLeaseUntil time.Time) error {
	const q = `
		UPDATE jobs SET heartbeat_at = now(), lease_until = $3
		WHERE id = $1 AND worker_id = $2 AND state = 'active'`
	tag, err := s.pool.Exec(ctx, q, jobID, workerID, newLeaseUntil)
	if err != nil {
		return mmerrors.MapDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return mmerrors.LeaseLost(fmt.Sprintf("job %s: lease no longer held by worker %s", jobID, workerID))
	}
	return nil
}

// Complete implements ports.JobStore (§4.1).
func (s *JobStore) Complete(ctx context.Context, jobID, workerID string, result *model.JobResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mmerrors.Transient(err, "begin complete transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		UPDATE jobs SET state = 'completed', finished_at = now()
		WHERE id = $1 AND worker_id = $2 AND state = 'active'`
	tag, err := tx.Exec(ctx, q, jobID, workerID)
	if err != nil {
		return mmerrors.MapDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return mmerrors.LeaseLost(fmt.Sprintf("job %s: lease no longer held by worker %s", jobID, workerID))
	}

	if result != nil {
		const insertResult = `INSERT INTO job_results (job_id, outcome, payload) VALUES ($1, $2, $3)`
		if _, err := tx.Exec(ctx, insertResult, jobID, result.Outcome, result.Payload); err != nil {
			return mmerrors.MapDBError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mmerrors.Transient(err, "commit complete transaction")
	}
	return nil
}

// Fail implements ports.JobStore (§4.1). The retry/terminal decision and
// the exponential backoff computation both happen inside the single
// conditional UPDATE so the transition stays a compare-and-set.
func (s *JobStore) Fail(ctx context.Context, jobID, workerID, reason string, retry bool) error {
	baseSeconds := s.retryBase.Seconds()
	ceilingSeconds := s.retryCeiling.Seconds()

	const q = `
		UPDATE jobs SET
			state = CASE WHEN $4 AND attempts < max_attempts THEN 'pending' ELSE 'failed' END,
			available_at = CASE WHEN $4 AND attempts < max_attempts
				THEN now() + (LEAST($5::double precision * power(2, attempts - 1), $6::double precision) * interval '1 second')
				ELSE available_at END,
			lease_until = NULL,
			heartbeat_at = NULL,
			worker_id = NULL,
			finished_at = CASE WHEN $4 AND attempts < max_attempts THEN NULL ELSE now() END,
			failed_reason = $3
		WHERE id = $1 AND worker_id = $2 AND state = 'active'`

	tag, err := s.pool.Exec(ctx, q, jobID, workerID, reason, retry, baseSeconds, ceilingSeconds)
	if err != nil {
		return mmerrors.MapDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return mmerrors.LeaseLost(fmt.Sprintf("job %s: lease no longer held by worker %s", jobID, workerID))
	}
	return nil
}

// GetByID implements ports.JobStore.
func (s *JobStore) GetByID(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mmerrors.NotFoundf("job %s not found", jobID)
		}
		return nil, mmerrors.MapDBError(err)
	}
	return job, nil
}

// JobStates implements ports.JobStore, used by the scheduler's overrun
// policies to decide whether a task's prior fire is still "blocking".
func (s *JobStore) JobStates(ctx context.Context, taskName string) (map[model.JobState]int64, error) {
	const q = `
		SELECT state, count(*) FROM jobs
		WHERE task_name = $1 AND state IN ('pending', 'active')
		GROUP BY state`

	rows, err := s.pool.Query(ctx, q, taskName)
	if err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	defer rows.Close()

	states := make(map[model.JobState]int64)
	for rows.Next() {
		var state model.JobState
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, mmerrors.MapDBError(err)
		}
		states[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	return states, nil
}

// Stats implements ports.JobStore. taskName scopes the summary; an empty
// string summarises across all tasks.
func (s *JobStore) Stats(ctx context.Context, taskName string) (model.JobStats, error) {
	const q = `
		SELECT
			count(*) FILTER (WHERE state = 'pending'),
			count(*) FILTER (WHERE state = 'active'),
			count(*) FILTER (WHERE state = 'completed'),
			count(*) FILTER (WHERE state = 'failed'),
			count(*) FILTER (WHERE state = 'failed' AND finished_at > now() - interval '1 hour')
		FROM jobs
		WHERE ($1 = '' OR task_name = $1)`

	var stats model.JobStats
	err := s.pool.QueryRow(ctx, q, taskName).Scan(
		&stats.Pending, &stats.Active, &stats.Completed, &stats.Failed, &stats.FailedLastHour,
	)
	if err != nil {
		return model.JobStats{}, mmerrors.MapDBError(err)
	}
	return stats, nil
}

// FailStalePendingJobs implements ports.JobMaintenance (§4.4).
func (s *JobStore) FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batch int) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	const q = `
		UPDATE jobs SET state = 'failed', finished_at = now(), failed_reason = 'stale-pending'
		WHERE id IN (
			SELECT id FROM jobs
			WHERE state = 'pending' AND created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`
	tag, err := s.pool.Exec(ctx, q, cutoff, batch)
	if err != nil {
		return 0, mmerrors.MapDBError(err)
	}
	return tag.RowsAffected(), nil
}

// ExpireLeases implements ports.JobMaintenance (§4.4): any active job whose
// lease has passed returns to pending for another attempt, or to expired
// once attempts are exhausted.
func (s *JobStore) ExpireLeases(ctx context.Context, batch int) (int64, error) {
	baseSeconds := s.retryBase.Seconds()
	ceilingSeconds := s.retryCeiling.Seconds()

	const q = `
		UPDATE jobs SET
			state = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'expired' END,
			available_at = CASE WHEN attempts < max_attempts
				THEN now() + (LEAST($2::double precision * power(2, attempts - 1), $3::double precision) * interval '1 second')
				ELSE available_at END,
			finished_at = CASE WHEN attempts < max_attempts THEN NULL ELSE now() END,
			lease_until = NULL,
			heartbeat_at = NULL,
			worker_id = NULL,
			failed_reason = CASE WHEN attempts < max_attempts THEN failed_reason ELSE 'lease-expired' END
		WHERE id IN (
			SELECT id FROM jobs
			WHERE state = 'active' AND lease_until < now()
			ORDER BY lease_until ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)`
	tag, err := s.pool.Exec(ctx, q, batch, baseSeconds, ceilingSeconds)
	if err != nil {
		return 0, mmerrors.MapDBError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOldJobs implements ports.JobMaintenance (§4.4). Only terminal jobs
// are eligible so an in-flight job is never purged out from under a worker.
func (s *JobStore) DeleteOldJobs(ctx context.Context, olderThan time.Duration, batch int) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	const q = `
		DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs
			WHERE state IN ('completed', 'failed', 'expired') AND created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`
	tag, err := s.pool.Exec(ctx, q, cutoff, batch)
	if err != nil {
		return 0, mmerrors.MapDBError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOldJobResults implements ports.JobMaintenance (§4.4).
func (s *JobStore) DeleteOldJobResults(ctx context.Context, olderThan time.Duration, batch int) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	const q = `
		DELETE FROM job_results WHERE ctid IN (
			SELECT ctid FROM job_results
			WHERE produced_at < $1
			ORDER BY produced_at ASC
			LIMIT $2
		)`
	tag, err := s.pool.Exec(ctx, q, cutoff, batch)
	if err != nil {
		return 0, mmerrors.MapDBError(err)
	}
	return tag.RowsAffected(), nil
}

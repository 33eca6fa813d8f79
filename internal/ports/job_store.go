// Package ports also defines the hexagonal boundary for the durable job
// queue (§4.1): the Job Runner, Scheduler, and Reaper all depend on this
// interface, never on a concrete storage engine.
package ports

import (
	"context"
	"time"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// JobStore is the durable queue over a relational store (§3, §4.1). All
// methods are safe for concurrent use by multiple workers across multiple
// processes.
type JobStore interface {
	// Create inserts a job for taskName. If opts.IdempotencyKey collides with
	// a non-terminal job for the same task, the existing job is returned with
	// created=false and no row is inserted.
	Create(ctx context.Context, taskName string, payload []byte, opts model.CreateOptions) (job *model.Job, created bool, err error)

	// ReserveNext atomically claims the oldest pending, available job among
	// taskNames (FIFO tie-break on created_at, then id), sets it active, and
	// starts its lease. Returns model.ErrNoJobsAvailable when none are ready.
	ReserveNext(ctx context.Context, taskNames []string, workerID string, lease time.Duration) (*model.Job, error)

	// WaitForNotification blocks until a producer signals job availability for
	// taskName or ctx is cancelled. It never guarantees a subsequent
	// ReserveNext will succeed.
	WaitForNotification(ctx context.Context, taskName string) error

	// Heartbeat extends a held lease. It fails with a LeaseLost AppError if
	// the job is no longer active or workerID no longer owns it.
	Heartbeat(ctx context.Context, jobID, workerID string, newLeaseUntil time.Time) error

	// Complete transitions an active job to completed and records result, if
	// given.
	Complete(ctx context.Context, jobID, workerID string, result *model.JobResult) error

	// Fail transitions an active job. When retry is true and attempts remain,
	// the job returns to pending with exponential backoff; otherwise it
	// becomes failed.
	Fail(ctx context.Context, jobID, workerID, reason string, retry bool) error

	// GetByID fetches a single job by id.
	GetByID(ctx context.Context, jobID string) (*model.Job, error)

	// JobStates reports the set of non-terminal states currently held by jobs
	// of taskName, used by the scheduler's overrun policies.
	JobStates(ctx context.Context, taskName string) (map[model.JobState]int64, error)

	// Stats summarises job counts, scoped to taskName when non-empty.
	Stats(ctx context.Context, taskName string) (model.JobStats, error)
}

// Reaper-facing maintenance operations live on a separate interface so that
// the hot-path Job Runner and Scheduler dependencies stay narrow (§9: DAG,
// not cyclic ownership).
type JobMaintenance interface {
	// FailStalePendingJobs fails any pending job older than maxAge, in
	// batches of at most batch rows, and reports the number failed.
	FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batch int) (int64, error)

	// ExpireLeases returns active jobs whose lease_until has passed to
	// pending (retry) or expired (attempts exhausted), in batches of at most
	// batch rows.
	ExpireLeases(ctx context.Context, batch int) (int64, error)

	// DeleteOldJobs purges terminal jobs older than olderThan, in batches.
	DeleteOldJobs(ctx context.Context, olderThan time.Duration, batch int) (int64, error)

	// DeleteOldJobResults purges job results older than olderThan, in
	// batches.
	DeleteOldJobResults(ctx context.Context, olderThan time.Duration, batch int) (int64, error)
}

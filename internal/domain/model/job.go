// Package model defines the core data types shared across the merrymaker
// control plane: jobs, scan logs, alerts, and the rule-engine lookup tables.
package model

import (
	"encoding/json"
	"errors"
	"time"
)

// JobState is the lifecycle state of a durable job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateExpired   JobState = "expired"
)

// Valid reports whether s is a recognised job state.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePending, JobStateActive, JobStateCompleted, JobStateFailed, JobStateExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is one from which no further transition happens.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateExpired
}

// Task type names recognised by the job runner's handler registry (§4.3).
const (
	TaskScan              = "scan"
	TaskBrowserEventQueue = "browser-event-queue"
	TaskRuleJob           = "rule-job"
	TaskAlertDispatch     = "alert-dispatch"
	TaskSecretRefresh     = "secret-refresh"
	TaskPurgeDaily        = "purge-daily"
	TaskPurgeHourly       = "purge-hourly"
	TaskSeenStringPurge   = "seen-string-purge"
)

// ErrIdempotencyConflict is returned by Create when a non-terminal job already
// owns the requested idempotency key; the caller receives the existing job.
var ErrIdempotencyConflict = errors.New("job: idempotency key already in use by a non-terminal job")

// ErrNoJobsAvailable is returned by JobStore.ReserveNext when no pending job
// is ready to be claimed.
var ErrNoJobsAvailable = errors.New("job: no jobs available")

// Job is a unit of work owned by the Job Store (§3, §4.1).
type Job struct {
	ID             string          `db:"id"`
	TaskName       string          `db:"task_name"`
	Payload        json.RawMessage `db:"payload"`
	State          JobState        `db:"state"`
	Attempts       int             `db:"attempts"`
	MaxAttempts    int             `db:"max_attempts"`
	IdempotencyKey *string         `db:"idempotency_key"`
	AvailableAt    time.Time       `db:"available_at"`
	LeaseUntil     *time.Time      `db:"lease_until"`
	HeartbeatAt    *time.Time      `db:"heartbeat_at"`
	WorkerID       *string         `db:"worker_id"`
	CreatedAt      time.Time       `db:"created_at"`
	StartedAt      *time.Time      `db:"started_at"`
	FinishedAt     *time.Time      `db:"finished_at"`
	FailedReason   *string         `db:"failed_reason"`
}

// CreateOptions configures Job Store Create calls (§4.1).
type CreateOptions struct {
	IdempotencyKey string
	MaxAttempts    int
	AvailableAt    time.Time
}

// JobResult is an append-only record of a job's outcome (§3).
type JobResult struct {
	JobID      string          `db:"job_id"`
	Outcome    string          `db:"outcome"`
	ProducedAt time.Time       `db:"produced_at"`
	Payload    json.RawMessage `db:"payload"`
}

// ScanJobPayload is the wire payload of a scan job: everything the external
// browser worker needs to execute a Site's Source recipe and report scan
// events back through the browser-event-queue (§3, §6).
type ScanJobPayload struct {
	ScanID string `json:"scan_id"`
	SiteID string `json:"site_id"`
	URL    string `json:"url"`
	Script string `json:"script"`
}

// JobStats summarises job counts for a task, or across all tasks when TaskName is empty (§4.1).
type JobStats struct {
	Pending        int64
	Active         int64
	Completed      int64
	Failed         int64
	FailedLastHour int64
}

// Retry backoff defaults for JobStore.Fail (§4.1: "available_at = now +
// base·2^(attempts-1) capped at a ceiling").
const (
	DefaultRetryBaseSeconds    = 5
	DefaultRetryCeilingSeconds = 300
)

// DefaultMaxAttempts is used by CreateOptions when MaxAttempts is unset.
const DefaultMaxAttempts = 3

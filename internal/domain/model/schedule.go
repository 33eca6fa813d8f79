package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduledTask is a recurring definition that the Scheduler (§4.2) turns
// into jobs at a fixed cadence.
type ScheduledTask struct {
	ID                 string
	TaskName           string
	Payload            json.RawMessage
	Interval           time.Duration
	LastQueuedAt       *time.Time
	Enabled            bool
	OverrunPolicy      *OverrunPolicy
	OverrunStates      *OverrunStateMask
	ActiveFireKey      *string
	ActiveFireKeySetAt *time.Time
	CreatedAt          time.Time
}

// OverrunPolicy controls what the Scheduler does when a scheduled task comes
// due while a previous firing of it may still be outstanding (§4.2, GLOSSARY).
type OverrunPolicy string

const (
	// OverrunPolicySkip withholds enqueue while a blocking job state exists.
	OverrunPolicySkip OverrunPolicy = "skip"
	// OverrunPolicyQueue always enqueues a new job, regardless of in-flight work.
	OverrunPolicyQueue OverrunPolicy = "queue"
	// OverrunPolicyReschedule advances last_queued_at without ever enqueuing.
	OverrunPolicyReschedule OverrunPolicy = "reschedule"
)

// UnmarshalText allows OverrunPolicy to be read from config/env text.
func (p *OverrunPolicy) UnmarshalText(text []byte) error {
	v := OverrunPolicy(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case OverrunPolicySkip, OverrunPolicyQueue, OverrunPolicyReschedule:
		*p = v
		return nil
	default:
		return fmt.Errorf("invalid overrun policy: %q", v)
	}
}

// OverrunStateMask selects which job states count as "still outstanding"
// under OverrunPolicySkip. Bitmask so multiple states can block at once.
type OverrunStateMask uint8

const (
	OverrunStateActive OverrunStateMask = 1 << iota
	OverrunStatePending
	OverrunStateRetrying
)

// OverrunStatesDefault blocks only on a currently-leased job, matching the
// common case of "don't double-run while one is in flight".
const OverrunStatesDefault = OverrunStateActive

// Has reports whether the mask includes flag, treating a nil mask as empty.
func (m *OverrunStateMask) Has(flag OverrunStateMask) bool {
	if m == nil {
		return false
	}
	return *m&flag != 0
}

// JobStateSnapshot is what a JobStateReader reports back to the Scheduler
// about one task name's currently outstanding jobs.
type JobStateSnapshot struct {
	HasActive   bool
	HasPending  bool
	HasRetrying bool
}

// Mask projects the snapshot onto an OverrunStateMask for comparison against
// a task's configured blocking states.
func (s JobStateSnapshot) Mask() OverrunStateMask {
	var mask OverrunStateMask
	if s.HasActive {
		mask |= OverrunStateActive
	}
	if s.HasPending {
		mask |= OverrunStatePending
	}
	if s.HasRetrying {
		mask |= OverrunStateRetrying
	}
	return mask
}

// MarkQueuedParams advances a scheduled task's bookkeeping without
// necessarily recording a new fire key (used by Reschedule and by the
// pre-enqueue mark for Skip/Reschedule, §4.2 step 4).
type MarkQueuedParams struct {
	ID                 string
	Now                time.Time
	ActiveFireKey      *string
	ActiveFireKeySetAt *time.Time
}

// UpdateActiveFireKeyParams records the fire key associated with a task's
// most recent enqueue attempt (§4.2 step 6), independent of last_queued_at.
type UpdateActiveFireKeyParams struct {
	ID      string
	FireKey *string
	SetAt   time.Time
}

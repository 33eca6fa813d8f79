// Package alertdispatch implements the Alert Dispatcher (§4.7): a pluggable
// AlertSink interface, the built-in HTTP and Kafka sinks it specifies, the
// supplemented Slack and PagerDuty sinks adapted from the job-failure notify
// package, and the alert-dispatch job handler that drives one job per
// (alert, sink).
package alertdispatch

import (
	"context"
	"time"
)

// Event is what a sink sends: the alert plus enough of its originating scan
// to render a useful message (§6 AlertV1 fields).
type Event struct {
	AlertID     string
	Rule        string
	Severity    string
	Description string
	ScanURL     string
	CreatedAt   time.Time
}

// Outcome classifies a sink's result so the job handler can apply §4.7's
// retry rule without the handler knowing sink-specific transport details: a
// 4xx is fatal, a 5xx or network error retries, an ack/2xx succeeds.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

// AlertSink is the pluggable sink interface (§4.7: "{ name, enabled,
// send(event) → bool }"), extended to report retryable vs fatal failures
// rather than a bare bool, since the job handler needs that distinction to
// drive the job store's retry machinery.
type AlertSink interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, event Event) (Outcome, error)
}

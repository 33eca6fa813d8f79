package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
)

// AlertPayload captures the canonical data a rule-alert notification carries,
// mirroring alertdispatch.Event (§4.7) rather than a generic job-failure
// shape, since every sink this package drives today (Slack, PagerDuty) fires
// on rule alerts, not worker-process job failures.
type AlertPayload struct {
	AlertID     string
	Rule        string
	Severity    string
	Description string
	ScanURL     string
	OccurredAt  time.Time
	Metadata    map[string]string
}

// Sink describes a destination capable of consuming alert notifications.
type Sink interface {
	SendAlert(ctx context.Context, payload AlertPayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload AlertPayload) error

// SendAlert implements the Sink interface.
func (f SinkFunc) SendAlert(ctx context.Context, payload AlertPayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}

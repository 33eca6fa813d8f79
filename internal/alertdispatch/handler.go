package alertdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/merrymaker/scanner/internal/adapters/rulerunner"
	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
	"github.com/merrymaker/scanner/internal/observability/statsd"
)

// AlertReader is the subset of ports.AlertStore the handler needs.
type AlertReader interface {
	GetByID(ctx context.Context, id string) (*model.Alert, error)
}

// ScanURLResolver resolves a scan to the site URL it visited, for the
// AlertV1.ScanURL wire field (§6). Optional: when nil or when the lookup
// fails, the handler falls back to the bare scan id.
type ScanURLResolver interface {
	ScanURL(ctx context.Context, scanID string) (string, error)
}

// Handler implements jobrunner.HandlerFunc for model.TaskAlertDispatch.
type Handler struct {
	Alerts   AlertReader
	ScanURLs ScanURLResolver
	Registry *Registry

	// Metrics records per-sink delivery outcomes, distinct from the generic
	// job.transition/job.duration metrics jobrunner already emits for every
	// task_name including alert-dispatch: this one breaks delivery down by
	// sink and outcome instead of by job lifecycle state.
	Metrics statsd.Sink
}

// Handle processes one alert-dispatch job: load the alert, send it through
// the sink named in the payload, and translate the sink's outcome into the
// job store's retry/fatal vocabulary (§4.7).
func (h *Handler) Handle(ctx context.Context, job *model.Job) error {
	var payload rulerunner.AlertDispatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal alert-dispatch payload: %w", err)
	}

	sink, ok := h.Registry.Get(payload.SinkName)
	if !ok || !sink.Enabled() {
		// The sink was disabled after this job was enqueued; nothing to do.
		return nil
	}

	alert, err := h.Alerts.GetByID(ctx, payload.AlertID)
	if err != nil {
		return fmt.Errorf("load alert %s: %w", payload.AlertID, err)
	}

	scanURL := alert.ScanID
	if h.ScanURLs != nil {
		if resolved, err := h.ScanURLs.ScanURL(ctx, alert.ScanID); err == nil && resolved != "" {
			scanURL = resolved
		}
	}

	event := Event{
		AlertID:     alert.ID,
		Rule:        alert.Rule,
		Severity:    severityFromContext(alert.Context),
		Description: alert.Message,
		ScanURL:     scanURL,
		CreatedAt:   alert.CreatedAt,
	}

	start := time.Now()
	outcome, sendErr := sink.Send(ctx, event)
	h.emitDispatchMetric(payload.SinkName, outcome, time.Since(start))

	switch outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeFatal:
		return mmerrors.Fatal(sendErr, "alert sink rejected delivery")
	default:
		return mmerrors.Transient(sendErr, "alert sink delivery failed")
	}
}

func (h *Handler) emitDispatchMetric(sinkName string, outcome Outcome, elapsed time.Duration) {
	if h.Metrics == nil {
		return
	}
	tags := map[string]string{
		statsd.TagSinkName: sinkName,
		statsd.TagOutcome:  outcomeLabel(outcome),
	}
	h.Metrics.Count(statsd.MetricAlertDispatch, 1, tags)
	h.Metrics.Timing(statsd.MetricAlertDispatchDuration, elapsed, tags)
}

func outcomeLabel(outcome Outcome) string {
	switch outcome {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func severityFromContext(raw json.RawMessage) string {
	var fields struct {
		Severity string `json:"severity"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	return fields.Severity
}

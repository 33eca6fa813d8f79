// Package scanpipeline implements the scan-event pipeline job handler
// (§4.6): it mirrors browser-worker events into scan logs, fans them out to
// the Rule Engine, and advances the owning scan's state on completion.
package scanpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// EventBatchPayload is the wire payload of a browser-event-queue job: one or
// more events produced by a single browser worker run, bundled so a single
// handler invocation can batch their scan-log inserts (§4.6).
type EventBatchPayload struct {
	Events []model.ScanEvent `json:"events"`
}

// ScanLogWriter is the subset of ports.ScanLogStore the handler needs.
type ScanLogWriter interface {
	InsertBatch(ctx context.Context, logs []model.ScanLog) (int, error)
}

// ScanTransitioner is the subset of ports.ScanStore the handler needs.
type ScanTransitioner interface {
	TransitionState(ctx context.Context, scanID string, next model.ScanState, finishedAt *time.Time) (bool, error)
}

// RuleDispatcher is the subset of rules.Dispatcher the handler needs.
type RuleDispatcher interface {
	Dispatch(ctx context.Context, event model.ScanEvent) (int, error)
}

// Handler implements jobrunner.HandlerFunc for model.TaskBrowserEventQueue.
type Handler struct {
	ScanLogs ScanLogWriter
	Scans    ScanTransitioner
	Rules    RuleDispatcher
	Logger   *slog.Logger
}

// entryFor maps a wire ScanEventType to its append-only scan-log shape
// (§6 event enum, §3 scan log entry kinds).
func entryFor(t model.ScanEventType) (model.ScanLogEntry, model.ScanLogLevel) {
	switch t {
	case model.ScanEventComplete:
		return model.EntryComplete, model.LevelInfo
	case model.ScanEventError:
		return model.EntryError, model.LevelError
	case model.ScanEventScreenshot:
		return model.EntryScreenshot, model.LevelInfo
	case model.ScanEventRuleAlert:
		return model.EntryRuleAlert, model.LevelWarn
	default:
		return model.EntryLogMessage, model.LevelInfo
	}
}

// Handle processes one browser-event-queue job (§4.6): write scan logs,
// dispatch rule-jobs, transition the scan on terminal events. An event of
// unknown type is dropped with an "unknown-event" warning log rather than
// failing the job; no metric is emitted for it.
func (h *Handler) Handle(ctx context.Context, job *model.Job) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var payload EventBatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal browser-event-queue payload: %w", err)
	}

	logs := make([]model.ScanLog, 0, len(payload.Events))
	var terminal *model.ScanEvent

	for i := range payload.Events {
		event := payload.Events[i]
		if !event.Type.Valid() {
			logger.WarnContext(ctx, "unknown-event", "scan_id", event.ScanID, "type", event.Type)
			continue
		}

		entry, level := entryFor(event.Type)
		logs = append(logs, model.ScanLog{
			ScanID: event.ScanID,
			Entry:  entry,
			Level:  level,
			Event:  event.Payload,
		})

		if event.Type == model.ScanEventComplete || event.Type == model.ScanEventError {
			terminal = &payload.Events[i]
		}
	}

	if len(logs) > 0 && h.ScanLogs != nil {
		if _, err := h.ScanLogs.InsertBatch(ctx, logs); err != nil {
			return fmt.Errorf("write scan logs: %w", err)
		}
	}

	if h.Rules != nil {
		for _, event := range payload.Events {
			if !event.Type.Valid() {
				continue
			}
			if _, err := h.Rules.Dispatch(ctx, event); err != nil {
				logger.ErrorContext(ctx, "dispatch rule-jobs failed", "scan_id", event.ScanID, "error", err)
			}
		}
	}

	if terminal != nil && h.Scans != nil {
		next := model.ScanStateCompleted
		if terminal.Type == model.ScanEventError {
			next = model.ScanStateFailed
		}
		finishedAt := terminal.ProducedAt
		if _, err := h.Scans.TransitionState(ctx, terminal.ScanID, next, &finishedAt); err != nil {
			return fmt.Errorf("transition scan %s to %s: %w", terminal.ScanID, next, err)
		}
	}

	return nil
}

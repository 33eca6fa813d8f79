// Package rulerunner bridges a reserved rule-job to the Rule Engine,
// translating its outcome into scan logs, persisted alerts, and
// alert-dispatch jobs (§4.5, §4.6).
package rulerunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/merrymaker/scanner/internal/domain/model"
	"github.com/merrymaker/scanner/internal/domain/rules"
)

// AlertPersister is the subset of ports.AlertStore the handler needs.
type AlertPersister interface {
	Create(ctx context.Context, alert *model.Alert) error
}

// ScanLogWriter is the subset of ports.ScanLogStore the handler needs.
type ScanLogWriter interface {
	InsertBatch(ctx context.Context, logs []model.ScanLog) (int, error)
}

// JobEnqueuer is the subset of ports.JobStore the handler needs to push
// alert-dispatch jobs.
type JobEnqueuer interface {
	Create(ctx context.Context, taskName string, payload []byte, opts model.CreateOptions) (*model.Job, bool, error)
}

// AlertDispatchPayload is the wire payload of an alert-dispatch job: one per
// (alert, sink) pair, per §4.7.
type AlertDispatchPayload struct {
	AlertID  string `json:"alert_id"`
	SinkName string `json:"sink_name"`
}

// Handler implements jobrunner.HandlerFunc for model.TaskRuleJob.
type Handler struct {
	Engine    *rules.Engine
	Alerts    AlertPersister
	ScanLogs  ScanLogWriter
	Jobs      JobEnqueuer
	SinkNames []string
	Logger    *slog.Logger
}

// Handle processes one rule-job (§4.5, §4.6, §7). Per §7, a rule evaluation
// error never fails the job: it is recorded as an error-level rule-alert
// scan log and the job completes, so a single misbehaving rule can't wedge
// the scan pipeline.
func (h *Handler) Handle(ctx context.Context, job *model.Job) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var payload rules.JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal rule-job payload: %w", err)
	}

	rule, ok := h.Engine.ByName(payload.RuleName)
	if !ok {
		return fmt.Errorf("no rule registered for %q", payload.RuleName)
	}

	alerts, err := rule.Process(ctx, payload.Event)
	if err != nil {
		return h.logRuleError(ctx, payload.Event.ScanID, payload.RuleName, err)
	}
	if len(alerts) == 0 {
		return nil
	}

	logs := make([]model.ScanLog, 0, len(alerts))
	for _, alert := range alerts {
		alertModel, err := h.persistAlert(ctx, payload.Event.ScanID, alert)
		if err != nil {
			logger.ErrorContext(ctx, "persist alert failed", "rule", payload.RuleName, "error", err)
			continue
		}

		logEvent, err := json.Marshal(alert)
		if err != nil {
			logEvent = []byte(`{}`)
		}
		logs = append(logs, model.ScanLog{
			ScanID: payload.Event.ScanID,
			Entry:  model.EntryRuleAlert,
			Level:  model.LevelWarn,
			Event:  logEvent,
		})

		if err := h.enqueueDispatch(ctx, alertModel.ID); err != nil {
			logger.ErrorContext(ctx, "enqueue alert-dispatch failed", "alert_id", alertModel.ID, "error", err)
		}
	}

	if len(logs) > 0 && h.ScanLogs != nil {
		if _, err := h.ScanLogs.InsertBatch(ctx, logs); err != nil {
			logger.ErrorContext(ctx, "write rule-alert scan logs failed", "error", err)
		}
	}
	return nil
}

func (h *Handler) persistAlert(ctx context.Context, scanID string, alert rules.Alert) (*model.Alert, error) {
	alertCtx, err := json.Marshal(alert.Context)
	if err != nil {
		alertCtx = []byte(`{}`)
	}
	a := &model.Alert{
		Rule:    alert.RuleName,
		ScanID:  scanID,
		Message: alert.Description,
		Context: alertCtx,
	}
	if h.Alerts == nil {
		return a, nil
	}
	if err := h.Alerts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("persist alert: %w", err)
	}
	return a, nil
}

// enqueueDispatch pushes one alert-dispatch job per configured sink (§4.7:
// "Dispatch is one job per (alert, sink)"), so a sink outage never blocks
// delivery through the others.
func (h *Handler) enqueueDispatch(ctx context.Context, alertID string) error {
	if h.Jobs == nil {
		return nil
	}
	var firstErr error
	for _, sink := range h.SinkNames {
		payload, err := json.Marshal(AlertDispatchPayload{AlertID: alertID, SinkName: sink})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("marshal alert-dispatch payload: %w", err)
			}
			continue
		}
		_, _, err = h.Jobs.Create(ctx, model.TaskAlertDispatch, payload, model.CreateOptions{
			IdempotencyKey: fmt.Sprintf("alert-dispatch:%s:%s", alertID, sink),
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("enqueue alert-dispatch for sink %s: %w", sink, err)
		}
	}
	return firstErr
}

func (h *Handler) logRuleError(ctx context.Context, scanID, ruleName string, cause error) error {
	if h.ScanLogs == nil {
		return nil
	}
	event, _ := json.Marshal(map[string]string{
		"rule":  ruleName,
		"error": cause.Error(),
	})
	_, err := h.ScanLogs.InsertBatch(ctx, []model.ScanLog{{
		ScanID: scanID,
		Entry:  model.EntryRuleAlert,
		Level:  model.LevelError,
		Event:  event,
	}})
	return err
}

package alertdispatch

import (
	"context"
	"fmt"

	"github.com/merrymaker/scanner/config"
	"github.com/merrymaker/scanner/internal/observability/notify"
	"github.com/merrymaker/scanner/internal/observability/notify/slack"
)

// SlackSink adapts notify/slack.Client into an AlertSink, reusing its
// webhook delivery for rule alerts with the client's own retry loop turned
// off (RetryLimit 0, one attempt per Send) (§4.7 supplement: the
// distilled spec names only HTTP and Kafka as built-ins; this tree also
// carries a Slack client worth exercising here).
type SlackSink struct {
	client *slack.Client
}

// NewSlackSink constructs a SlackSink from config. Returns nil if disabled
// or misconfigured.
func NewSlackSink(cfg config.SlackSinkConfig) *SlackSink {
	if !cfg.Enabled {
		return nil
	}
	client, err := slack.NewClient(slack.Config{
		WebhookURL: cfg.WebhookURL,
		Channel:    cfg.Channel,
		Username:   cfg.Username,
		RetryLimit: 0, // the job store's own retry/backoff covers this (§4.7)
	})
	if err != nil {
		return nil
	}
	return &SlackSink{client: client}
}

// Name implements AlertSink.
func (s *SlackSink) Name() string { return "slack" }

// Enabled implements AlertSink.
func (s *SlackSink) Enabled() bool { return true }

// Send implements AlertSink.
func (s *SlackSink) Send(ctx context.Context, event Event) (Outcome, error) {
	err := s.client.SendAlert(ctx, notify.AlertPayload{
		AlertID:     event.AlertID,
		Rule:        event.Rule,
		Severity:    event.Severity,
		Description: event.Description,
		ScanURL:     event.ScanURL,
		OccurredAt:  event.CreatedAt,
	})
	if err != nil {
		return OutcomeRetryable, fmt.Errorf("slack sink send failed: %w", err)
	}
	return OutcomeSuccess, nil
}

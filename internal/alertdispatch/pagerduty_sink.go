package alertdispatch

import (
	"context"
	"fmt"

	"github.com/merrymaker/scanner/config"
	"github.com/merrymaker/scanner/internal/observability/notify"
	"github.com/merrymaker/scanner/internal/observability/notify/pagerduty"
)

// PagerDutySink adapts notify/pagerduty.Client into an AlertSink, the same
// way SlackSink adapts the Slack client (§4.7 supplement).
type PagerDutySink struct {
	client *pagerduty.Client
}

// NewPagerDutySink constructs a PagerDutySink from config. Returns nil if
// disabled or misconfigured.
func NewPagerDutySink(cfg config.PagerDutySinkConfig) *PagerDutySink {
	if !cfg.Enabled {
		return nil
	}
	client, err := pagerduty.NewClient(pagerduty.Config{
		RoutingKey: cfg.RoutingKey,
		Source:     cfg.Source,
		Component:  cfg.Component,
		RetryLimit: 0,
	})
	if err != nil {
		return nil
	}
	return &PagerDutySink{client: client}
}

// Name implements AlertSink.
func (s *PagerDutySink) Name() string { return "pagerduty" }

// Enabled implements AlertSink.
func (s *PagerDutySink) Enabled() bool { return true }

// Send implements AlertSink.
func (s *PagerDutySink) Send(ctx context.Context, event Event) (Outcome, error) {
	err := s.client.SendAlert(ctx, notify.AlertPayload{
		AlertID:     event.AlertID,
		Rule:        event.Rule,
		Severity:    event.Severity,
		Description: event.Description,
		ScanURL:     event.ScanURL,
		OccurredAt:  event.CreatedAt,
	})
	if err != nil {
		return OutcomeRetryable, fmt.Errorf("pagerduty sink send failed: %w", err)
	}
	return OutcomeSuccess, nil
}

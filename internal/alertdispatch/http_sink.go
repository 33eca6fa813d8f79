package alertdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/merrymaker/scanner/config"
)

// maxQueryFieldLen truncates summary/details to the wire contract's field
// length (§6: "summary=<≤128 chars>&details=<≤128 chars>").
const maxQueryFieldLen = 128

// HTTPSink is the GoAlert-style push sink (§6).
type HTTPSink struct {
	url         string
	token       string
	client      *http.Client
	detailsExpr *jmespath.JMESPath
}

// NewHTTPSink constructs an HTTPSink from config. Returns nil if disabled.
// An invalid DetailsExpr disables the custom-details rendering rather than
// the whole sink: the fixed summary/details query contract (§6) still fires.
func NewHTTPSink(cfg config.HTTPSinkConfig) *HTTPSink {
	if !cfg.Enabled {
		return nil
	}

	var expr *jmespath.JMESPath
	if cfg.DetailsExpr != "" {
		if compiled, err := jmespath.Compile(cfg.DetailsExpr); err == nil {
			expr = compiled
		}
	}

	return &HTTPSink{
		url:         cfg.URL,
		token:       cfg.Token,
		client:      &http.Client{Timeout: 10 * time.Second},
		detailsExpr: expr,
	}
}

// Name implements AlertSink.
func (s *HTTPSink) Name() string { return "http" }

// Enabled implements AlertSink. Construction already gates on cfg.Enabled,
// so a non-nil HTTPSink is always enabled.
func (s *HTTPSink) Enabled() bool { return true }

// Send implements AlertSink: a 2xx response is success, 4xx is fatal, and
// anything else (5xx, network error) is retryable (§6, §4.7).
func (s *HTTPSink) Send(ctx context.Context, event Event) (Outcome, error) {
	summary := truncate(fmt.Sprintf("%s: %s", event.Rule, event.Severity), maxQueryFieldLen)
	details := event.Description
	if rendered, ok := s.renderDetails(event); ok {
		details = rendered
	}
	details = truncate(details, maxQueryFieldLen)

	u, err := url.Parse(s.url)
	if err != nil {
		return OutcomeFatal, fmt.Errorf("parse http sink url: %w", err)
	}
	q := u.Query()
	q.Set("summary", summary)
	q.Set("details", details)
	q.Set("token", s.token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return OutcomeFatal, fmt.Errorf("build http sink request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return OutcomeRetryable, fmt.Errorf("http sink request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OutcomeSuccess, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return OutcomeFatal, fmt.Errorf("http sink rejected alert: %s", resp.Status)
	default:
		return OutcomeRetryable, fmt.Errorf("http sink error: %s", resp.Status)
	}
}

// renderDetails evaluates the configured DetailsExpr against event, returning
// ok=false when no expression is configured or evaluation fails so the
// caller falls back to event.Description.
func (s *HTTPSink) renderDetails(event Event) (string, bool) {
	if s.detailsExpr == nil {
		return "", false
	}

	data := map[string]any{
		"alert_id":    event.AlertID,
		"rule":        event.Rule,
		"severity":    event.Severity,
		"description": event.Description,
		"scan_url":    event.ScanURL,
		"created_at":  event.CreatedAt,
	}

	result, err := s.detailsExpr.Search(data)
	if err != nil || result == nil {
		return "", false
	}

	if str, ok := result.(string); ok {
		return str, true
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

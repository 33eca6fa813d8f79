package rules

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// LiteralSource supplies the enabled literal IOCs used as compiled payload
// patterns. No repository in the retrieval pack binds an actual YARA engine
// (real YARA bindings are cgo-only and none of the example repos import
// one), so PayloadMatcher compiles the `literal` IOC type's values as
// regexp patterns instead; a cgo YARA binding could replace this rule later
// without touching Engine.
type LiteralSource interface {
	ListEnabledByType(ctx context.Context, t model.IOCType) ([]model.IOC, error)
}

type compiledPattern struct {
	id string
	re *regexp.Regexp
}

// PayloadMatcher matches web-request and js-call payload bytes against a
// compiled pattern set (§4.5 DOMAIN STACK).
type PayloadMatcher struct {
	source LiteralSource

	mu       sync.RWMutex
	patterns []compiledPattern
}

// NewPayloadMatcher constructs a PayloadMatcher. Call Refresh before serving
// traffic to load the initial pattern set.
func NewPayloadMatcher(source LiteralSource) *PayloadMatcher {
	return &PayloadMatcher{source: source}
}

// ID identifies the rule.
func (m *PayloadMatcher) ID() string { return "payload-matcher" }

// Refresh reloads the compiled pattern set from the authoritative literal
// IOCs. An entry whose value fails to compile as a regexp is skipped.
func (m *PayloadMatcher) Refresh(ctx context.Context) error {
	literals, err := m.source.ListEnabledByType(ctx, model.IOCTypeLiteral)
	if err != nil {
		return fmt.Errorf("list literal iocs: %w", err)
	}

	compiled := make([]compiledPattern, 0, len(literals))
	for _, lit := range literals {
		re, err := regexp.Compile(lit.Value)
		if err != nil {
			continue
		}
		compiled = append(compiled, compiledPattern{id: lit.ID, re: re})
	}

	m.mu.Lock()
	m.patterns = compiled
	m.mu.Unlock()
	return nil
}

// Process implements Rule.
func (m *PayloadMatcher) Process(_ context.Context, event model.ScanEvent) ([]Alert, error) {
	if event.Type != model.ScanEventWebRequest && event.Type != model.ScanEventJSCall {
		return nil, nil
	}

	m.mu.RLock()
	patterns := m.patterns
	m.mu.RUnlock()
	if len(patterns) == 0 {
		return nil, nil
	}

	body := extractPayloadBytes(event)
	if len(body) == 0 {
		return nil, nil
	}

	var alerts []Alert
	for _, p := range patterns {
		if p.re.Match(body) {
			alerts = append(alerts, Alert{
				RuleName:    m.ID(),
				Key:         p.id,
				Title:       "payload pattern match",
				Description: fmt.Sprintf("payload matched pattern %s", p.id),
				Severity:    SeverityMedium,
				Context: map[string]any{
					"pattern_id": p.id,
					"scan_id":    event.ScanID,
				},
			})
		}
	}
	return alerts, nil
}

// Package rules implements the Rule Engine (§4.5): a type→rules dispatch
// table over scan events, and a small set of Rule implementations (IOC
// domain matching, payload pattern matching, seen-string deduplication)
// consulting the layered cache in internal/adapters/rulecache.
package rules

import (
	"context"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// Severity levels attached to an Alert.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Alert is the outcome of a rule matching a scan event.
type Alert struct {
	RuleName    string         `json:"rule_name"`
	Key         string         `json:"key"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
	Context     map[string]any `json:"context,omitempty"`
}

// Rule is a function `process(event) -> alerts[]` (§4.5).
type Rule interface {
	ID() string
	Process(ctx context.Context, event model.ScanEvent) ([]Alert, error)
}

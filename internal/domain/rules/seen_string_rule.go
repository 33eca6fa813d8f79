package rules

import (
	"context"
	"fmt"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// SeenStringCache records and checks previously-alerted (rule, key) pairs
// (§4.5).
type SeenStringCache interface {
	Exists(ctx context.Context, ruleType, key string) (bool, error)
	Record(ctx context.Context, ruleType, key string) error
}

// SeenStringRule wraps another Rule and suppresses any alert whose
// (RuleName, Key) has already fired within the retention window, recording
// the ones it lets through (§4.5's "suppress duplicate alerts by (rule,
// key)"). It reports the wrapped rule's ID so engine lookups by name are
// unaffected by the wrapping.
type SeenStringRule struct {
	Inner Rule
	Cache SeenStringCache
}

// ID delegates to the wrapped rule.
func (r *SeenStringRule) ID() string { return r.Inner.ID() }

// Process implements Rule.
func (r *SeenStringRule) Process(ctx context.Context, event model.ScanEvent) ([]Alert, error) {
	alerts, err := r.Inner.Process(ctx, event)
	if err != nil || len(alerts) == 0 || r.Cache == nil {
		return alerts, err
	}

	out := make([]Alert, 0, len(alerts))
	for _, alert := range alerts {
		seen, err := r.Cache.Exists(ctx, alert.RuleName, alert.Key)
		if err != nil {
			return nil, fmt.Errorf("seen-string check: %w", err)
		}
		if seen {
			continue
		}
		if err := r.Cache.Record(ctx, alert.RuleName, alert.Key); err != nil {
			return nil, fmt.Errorf("seen-string record: %w", err)
		}
		out = append(out, alert)
	}
	return out, nil
}

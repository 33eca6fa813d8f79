package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// JobEnqueuer is the subset of ports.JobStore the dispatcher needs.
type JobEnqueuer interface {
	Create(ctx context.Context, taskName string, payload []byte, opts model.CreateOptions) (*model.Job, bool, error)
}

// JobPayload is the wire payload of a rule-job (§4.5: "payload {rule_name,
// event}").
type JobPayload struct {
	RuleName string          `json:"rule_name"`
	Event    model.ScanEvent `json:"event"`
}

// Dispatcher looks up the rules bound to an incoming scan event's type and
// enqueues one rule-job per rule (§4.5).
type Dispatcher struct {
	engine *Engine
	jobs   JobEnqueuer
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(engine *Engine, jobs JobEnqueuer) *Dispatcher {
	return &Dispatcher{engine: engine, jobs: jobs}
}

// Dispatch enqueues a rule-job for each rule bound to event.Type, returning
// the number actually created (idempotency conflicts and rules with no
// binding don't count). It enqueues every bound rule even if one fails,
// returning the first error encountered.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.ScanEvent) (int, error) {
	matched := d.engine.RulesFor(event.Type)
	if len(matched) == 0 {
		return 0, nil
	}

	enqueued := 0
	var firstErr error
	for _, rule := range matched {
		payload, err := json.Marshal(JobPayload{RuleName: rule.ID(), Event: event})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("marshal rule-job payload: %w", err)
			}
			continue
		}
		_, created, err := d.jobs.Create(ctx, model.TaskRuleJob, payload, model.CreateOptions{})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("enqueue rule-job for %s: %w", rule.ID(), err)
			}
			continue
		}
		if created {
			enqueued++
		}
	}
	return enqueued, firstErr
}

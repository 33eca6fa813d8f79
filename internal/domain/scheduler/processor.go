// Package scheduler holds the Scheduler's overrun-policy decision logic
// (§4.2), kept free of any storage engine so it can be unit tested with
// fakes for TaskStore, JobStateReader, and JobEnqueuer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// TaskStore persists the scheduling bookkeeping fields of a scheduled task.
type TaskStore interface {
	MarkQueued(ctx context.Context, params model.MarkQueuedParams) (bool, error)
	UpdateActiveFireKey(ctx context.Context, params model.UpdateActiveFireKeyParams) error
}

// JobStateReader reports which job states currently exist for a task name,
// used to evaluate OverrunPolicySkip.
type JobStateReader interface {
	JobStatesByTaskName(ctx context.Context, taskName string, now time.Time) (model.JobStateSnapshot, error)
}

// JobEnqueuer creates a job for a scheduled task under a given fire key,
// returning created=false when the idempotency key was already in use.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, task model.ScheduledTask, fireKey string) (bool, error)
}

// TaskProcessorOptions configures TaskProcessor defaults, applied when a
// task does not override policy or states itself.
type TaskProcessorOptions struct {
	DefaultPolicy model.OverrunPolicy
	DefaultStates model.OverrunStateMask
	StateReader   JobStateReader
}

// TaskProcessor evaluates one scheduled task per tick and drives its
// overrun policy.
type TaskProcessor struct {
	defaultPolicy model.OverrunPolicy
	defaultStates model.OverrunStateMask
	stateReader   JobStateReader
}

// NewTaskProcessor constructs a TaskProcessor, defaulting to Skip/Active
// when the caller leaves policy or states unset.
func NewTaskProcessor(opts TaskProcessorOptions) *TaskProcessor {
	policy := opts.DefaultPolicy
	if policy == "" {
		policy = model.OverrunPolicySkip
	}
	states := opts.DefaultStates
	if states == 0 {
		states = model.OverrunStatesDefault
	}
	return &TaskProcessor{
		defaultPolicy: policy,
		defaultStates: states,
		stateReader:   opts.StateReader,
	}
}

// ProcessParams supplies the per-invocation collaborators for Process.
type ProcessParams struct {
	Task     model.ScheduledTask
	Now      time.Time
	Store    TaskStore
	Enqueuer JobEnqueuer
}

// ProcessResult captures what Process actually did, for metrics and logs.
type ProcessResult struct {
	Worked        bool
	Enqueued      bool
	MarkedQueued  bool
	FireKey       string
	ShouldEnqueue bool
}

// Process evaluates whether task is due and, if so, applies its overrun
// policy: some combination of marking it queued, enqueueing a job, and
// recording the active fire key (§4.2 steps 1-6).
func (p *TaskProcessor) Process(ctx context.Context, params ProcessParams) (*ProcessResult, error) {
	if params.Store == nil {
		return nil, errors.New("task store is required")
	}

	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}

	task := params.Task
	result := &ProcessResult{}

	if !isTaskDue(task, now) {
		return result, nil
	}

	return p.processDueTask(ctx, processDueParams{
		Task:     task,
		Store:    params.Store,
		Enqueuer: params.Enqueuer,
		Now:      now,
	})
}

type processDueParams struct {
	Task     model.ScheduledTask
	Store    TaskStore
	Enqueuer JobEnqueuer
	Now      time.Time
}

func (p *TaskProcessor) processDueTask(ctx context.Context, params processDueParams) (*ProcessResult, error) {
	result := &ProcessResult{}
	strategy := p.resolveStrategy(params.Task)
	fireKey := ComputeFireKey(params.Task, params.Now)
	result.FireKey = fireKey

	shouldEnqueue, err := p.shouldEnqueue(ctx, shouldEnqueueParams{
		Task:     params.Task,
		Strategy: strategy,
		FireKey:  fireKey,
		Now:      params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("check overrun policy: %w", err)
	}
	result.ShouldEnqueue = shouldEnqueue

	marked, markErr := p.markIfRequired(ctx, params.Store, markIfRequiredParams{
		strategy: strategy,
		markParams: model.MarkQueuedParams{
			ID:  params.Task.ID,
			Now: params.Now,
		},
	})
	if markErr != nil {
		return nil, markErr
	}
	if marked {
		result.MarkedQueued = true
		result.Worked = true
	}

	if !shouldEnqueue {
		return result, nil
	}
	if params.Enqueuer == nil {
		return nil, errors.New("job enqueuer is required")
	}

	created, enqueueErr := params.Enqueuer.Enqueue(ctx, params.Task, fireKey)
	if enqueueErr != nil {
		return nil, fmt.Errorf("enqueue job: %w", enqueueErr)
	}
	if !created {
		return result, nil
	}
	result.Enqueued = true
	result.Worked = true

	if finalizeErr := p.finalizeEnqueue(ctx, params.Store, finalizeEnqueueParams{
		Policy:  strategy.policy,
		TaskID:  params.Task.ID,
		FireKey: fireKey,
		Now:     params.Now,
	}); finalizeErr != nil {
		return nil, finalizeErr
	}

	return result, nil
}

type shouldEnqueueParams struct {
	Task     model.ScheduledTask
	Strategy taskStrategy
	FireKey  string
	Now      time.Time
}

type finalizeEnqueueParams struct {
	Policy  model.OverrunPolicy
	TaskID  string
	FireKey string
	Now     time.Time
}

type markIfRequiredParams struct {
	strategy   taskStrategy
	markParams model.MarkQueuedParams
}

func (p *TaskProcessor) markIfRequired(ctx context.Context, store TaskStore, params markIfRequiredParams) (bool, error) {
	if params.strategy.policy == model.OverrunPolicyQueue {
		return false, nil
	}
	marked, err := store.MarkQueued(ctx, params.markParams)
	if err != nil {
		return false, fmt.Errorf("mark task queued: %w", err)
	}
	return marked, nil
}

type taskStrategy struct {
	policy model.OverrunPolicy
	states model.OverrunStateMask
}

func (p *TaskProcessor) resolveStrategy(task model.ScheduledTask) taskStrategy {
	policy := p.defaultPolicy
	states := p.defaultStates

	if task.OverrunPolicy != nil {
		policy = *task.OverrunPolicy
	}
	if task.OverrunStates != nil {
		if overrides := *task.OverrunStates; overrides != 0 {
			states = overrides
		} else {
			states = model.OverrunStatesDefault
		}
	}
	if states == 0 {
		states = model.OverrunStatesDefault
	}

	return taskStrategy{policy: policy, states: states}
}

func (p *TaskProcessor) finalizeEnqueue(ctx context.Context, store TaskStore, params finalizeEnqueueParams) error {
	switch params.Policy {
	case model.OverrunPolicyQueue:
		setAt := params.Now
		_, err := store.MarkQueued(ctx, model.MarkQueuedParams{
			ID:                 params.TaskID,
			Now:                params.Now,
			ActiveFireKey:      &params.FireKey,
			ActiveFireKeySetAt: &setAt,
		})
		if err != nil {
			return fmt.Errorf("mark task queued after enqueue: %w", err)
		}
	case model.OverrunPolicySkip, model.OverrunPolicyReschedule:
		if err := store.UpdateActiveFireKey(ctx, model.UpdateActiveFireKeyParams{
			ID:      params.TaskID,
			FireKey: &params.FireKey,
			SetAt:   params.Now,
		}); err != nil {
			return fmt.Errorf("set active fire key: %w", err)
		}
	default:
		return fmt.Errorf("unknown overrun policy: %s", params.Policy)
	}
	return nil
}

func (p *TaskProcessor) shouldEnqueue(ctx context.Context, params shouldEnqueueParams) (bool, error) {
	switch params.Strategy.policy {
	case model.OverrunPolicyQueue:
		return true, nil
	case model.OverrunPolicyReschedule:
		return false, nil
	case model.OverrunPolicySkip:
		mask := params.Strategy.states
		if mask == 0 {
			mask = model.OverrunStatesDefault
		}
		if p.stateReader == nil {
			return false, errors.New("job state reader is not configured")
		}

		snapshot, err := p.stateReader.JobStatesByTaskName(ctx, params.Task.TaskName, params.Now)
		if err != nil {
			return false, fmt.Errorf("check job states: %w", err)
		}
		if snapshot.Mask()&mask != 0 {
			return false, nil
		}
		if params.Task.ActiveFireKey != nil && *params.Task.ActiveFireKey != "" &&
			*params.Task.ActiveFireKey == params.FireKey {
			return false, nil
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown overrun policy: %s", params.Strategy.policy)
	}
}

func isTaskDue(task model.ScheduledTask, now time.Time) bool {
	if !task.Enabled {
		return false
	}
	if task.LastQueuedAt == nil {
		return true
	}
	return !task.LastQueuedAt.Add(task.Interval).After(now)
}

// ComputeFireKey derives the deterministic idempotency key for task's
// current interval slot (GLOSSARY: "Fire key").
func ComputeFireKey(task model.ScheduledTask, now time.Time) string {
	intervalSec := int64(task.Interval / time.Second)
	if intervalSec <= 0 {
		return fmt.Sprintf("%s:%d", task.ID, now.Unix())
	}
	slot := now.Unix() / intervalSec
	return fmt.Sprintf("%s:%d", task.ID, slot)
}

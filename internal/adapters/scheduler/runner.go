// Package scheduler provides the adapter that runs the Scheduler's due-check
// loop against a real Postgres-backed job store (§4.2).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/merrymaker/scanner/config"
	domscheduler "github.com/merrymaker/scanner/internal/domain/scheduler"
	"github.com/merrymaker/scanner/internal/domain/model"
	obserrors "github.com/merrymaker/scanner/internal/observability/errors"
	"github.com/merrymaker/scanner/internal/observability/metrics"
	"github.com/merrymaker/scanner/internal/observability/statsd"
	"github.com/merrymaker/scanner/internal/ports"
)

// TaskSource lists due tasks and mutates their scheduling bookkeeping; it is
// satisfied by postgres.ScheduledTaskStore.
type TaskSource interface {
	domscheduler.TaskStore
	domscheduler.JobStateReader
	FindDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledTask, error)
}

// Runner drives the Scheduler's due-check tick on a robfig/cron `@every`
// schedule and reports per-tick outcomes to a metrics sink.
type Runner struct {
	processor *domscheduler.TaskProcessor
	tasks     TaskSource
	jobs      ports.JobStore
	cfg       config.SchedulerConfig
	logger    *slog.Logger
	metrics   statsd.Sink
}

// RunnerOptions configures NewRunner.
type RunnerOptions struct {
	Tasks   TaskSource
	Jobs    ports.JobStore
	Config  config.SchedulerConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NewRunner constructs a scheduler Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Tasks == nil {
		return nil, errors.New("scheduler runner: task source is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("scheduler runner: job store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Config.Sanitize()

	return &Runner{
		processor: domscheduler.NewTaskProcessor(domscheduler.TaskProcessorOptions{
			StateReader: opts.Tasks,
		}),
		tasks:   opts.Tasks,
		jobs:    opts.Jobs,
		cfg:     opts.Config,
		logger:  logger.With("component", "scheduler"),
		metrics: opts.Metrics,
	}, nil
}

// Run blocks, firing a due-check on cfg.Interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.cfg.Interval)

	schedule := cron.ConstantDelaySchedule{Delay: r.cfg.Interval}
	next := schedule.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case now := <-timer.C:
			processed, err := r.tick(ctx, now)
			r.emitTickMetrics(processed, err)
			if err != nil {
				r.logger.ErrorContext(ctx, "scheduler tick failed", "err", err)
			} else if processed > 0 {
				r.logger.InfoContext(ctx, "scheduler tick processed tasks", "count", processed)
			}

			next = schedule.Next(now)
			timer.Reset(time.Until(next))
		}
	}
}

// tick runs a single due-check over up to BackfillLimit due tasks.
func (r *Runner) tick(ctx context.Context, now time.Time) (int, error) {
	due, err := r.tasks.FindDue(ctx, now, r.cfg.BackfillLimit)
	if err != nil {
		return 0, fmt.Errorf("find due tasks: %w", err)
	}

	processed := 0
	for _, task := range due {
		result, err := r.processor.Process(ctx, domscheduler.ProcessParams{
			Task:     task,
			Now:      now,
			Store:    r.tasks,
			Enqueuer: jobStoreEnqueuer{store: r.jobs, cfg: r.cfg},
		})
		if err != nil {
			r.logger.ErrorContext(ctx, "process scheduled task failed", "task_name", task.TaskName, "err", err)
			continue
		}
		if result.Worked {
			processed++
		}
	}
	return processed, nil
}

func (r *Runner) emitTickMetrics(processed int, err error) {
	if r.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case processed == 0:
		result = metrics.ResultNoop
	}
	tags := map[string]string{statsd.TagResult: result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags[statsd.TagErrorClass] = class
		}
	}
	r.metrics.Count(statsd.MetricSchedulerTick, 1, tags)
	if processed > 0 {
		r.metrics.Count(statsd.MetricSchedulerTasksEnqueued, int64(processed), tags)
	}
}

// jobStoreEnqueuer adapts ports.JobStore to domscheduler.JobEnqueuer,
// translating the job store's idempotency-conflict sentinel into the
// "nothing new created" signal the processor expects.
type jobStoreEnqueuer struct {
	store ports.JobStore
	cfg   config.SchedulerConfig
}

func (e jobStoreEnqueuer) Enqueue(ctx context.Context, task model.ScheduledTask, fireKey string) (bool, error) {
	maxAttempts := e.cfg.DefaultMaxAttempts
	payload := task.Payload
	if payload == nil {
		payload = []byte(`{}`)
	}
	_, created, err := e.store.Create(ctx, task.TaskName, payload, model.CreateOptions{
		IdempotencyKey: fireKey,
		MaxAttempts:    maxAttempts,
	})
	if errors.Is(err, model.ErrIdempotencyConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return created, nil
}

// Package jobrunner provides the Job Runner (§4.3): it reserves jobs from
// the durable queue, dispatches them to handlers registered by task name,
// and maintains the reservation's lease while the handler runs.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
	obserrors "github.com/merrymaker/scanner/internal/observability/errors"
	"github.com/merrymaker/scanner/internal/observability/metrics"
	"github.com/merrymaker/scanner/internal/observability/statsd"
	"github.com/merrymaker/scanner/internal/ports"
)

// HandlerFunc processes one reserved job. A non-nil error fails the job
// (retried or terminated per the job store's attempt policy, §4.1); a nil
// error completes it.
type HandlerFunc func(ctx context.Context, job *model.Job) error

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Store       ports.JobStore
	TaskNames   []string
	Handlers    map[string]HandlerFunc
	WorkerID    string
	Concurrency int
	Lease       time.Duration
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// Runner pulls jobs for a fixed set of task names and executes them with
// registered handlers, one goroutine per configured worker slot.
type Runner struct {
	store       ports.JobStore
	taskNames   []string
	handlers    map[string]HandlerFunc
	workerID    string
	concurrency int
	lease       time.Duration
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewRunner constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if len(opts.TaskNames) == 0 {
		return nil, errors.New("at least one task name is required")
	}
	for _, name := range opts.TaskNames {
		if _, ok := opts.Handlers[name]; !ok {
			return nil, fmt.Errorf("no handler registered for task %q", name)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerID := opts.WorkerID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", time.Now().UnixNano())
	}

	return &Runner{
		store:       opts.Store,
		taskNames:   opts.TaskNames,
		handlers:    opts.Handlers,
		workerID:    workerID,
		concurrency: concurrency,
		lease:       lease,
		logger:      logger.With("component", "job_runner", "worker_id", workerID),
		metrics:     opts.Metrics,
	}, nil
}

// Run starts worker goroutines and blocks until ctx is cancelled or a
// worker returns a fatal error.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "task_names", r.taskNames, "workers", r.concurrency, "lease", r.lease)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx); err != nil {
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		job, err := r.store.ReserveNext(ctx, r.taskNames, r.workerID, r.lease)
		switch {
		case err == nil:
			r.processJob(ctx, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForWork(ctx) {
				return nil
			}
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

// waitForWork blocks until one of the runner's task names reports a new
// job, or ctx is done. Multiple task names are watched concurrently; the
// first to wake wins and the rest are abandoned (WaitForNotification is a
// hint, so a stale waiter is harmless).
func (r *Runner) waitForWork(ctx context.Context) bool {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	woke := make(chan struct{}, len(r.taskNames))
	for _, name := range r.taskNames {
		go func(taskName string) {
			if err := r.store.WaitForNotification(waitCtx, taskName); err == nil {
				select {
				case woke <- struct{}{}:
				default:
				}
			}
		}(name)
	}

	select {
	case <-ctx.Done():
		return false
	case <-woke:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			TaskName:   job.TaskName,
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.heartbeatLoop(heartbeatCtx, job.ID)

	handler, ok := r.handlers[job.TaskName]
	if !ok {
		err := fmt.Errorf("no handler registered for task %q", job.TaskName)
		r.failJob(ctx, job, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	if err := handler(ctx, job); err != nil {
		r.failJob(ctx, job, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	if err := r.store.Complete(ctx, job.ID, r.workerID, nil); err != nil {
		r.logger.ErrorContext(ctx, "complete job failed", "job_id", job.ID, "err", err)
		emit("completed", metrics.ResultError, err)
		return
	}
	emit("completed", metrics.ResultSuccess, nil)
}

// failJob fails the job, retrying it when the handler's error is
// classified as retryable (§7).
func (r *Runner) failJob(ctx context.Context, job *model.Job, handlerErr error) {
	retry := mmerrors.Retryable(handlerErr)
	if err := r.store.Fail(ctx, job.ID, r.workerID, handlerErr.Error(), retry); err != nil {
		r.logger.ErrorContext(ctx, "fail job failed", "job_id", job.ID, "err", err, "handler_err", handlerErr,
			"error_class", obserrors.Classify(handlerErr))
	}
}

// heartbeatLoop renews job's lease at lease/3 until ctx is cancelled; a
// failed heartbeat (typically lease lost) stops the loop without aborting
// the handler, which will discover the lost lease when it tries to finish.
func (r *Runner) heartbeatLoop(ctx context.Context, jobID string) {
	interval := r.lease / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Heartbeat(ctx, jobID, r.workerID, time.Now().Add(r.lease)); err != nil {
				if mmerrors.IsLeaseLost(err) {
					r.logger.WarnContext(ctx, "lease lost during heartbeat", "job_id", jobID)
				} else {
					r.logger.ErrorContext(ctx, "heartbeat failed", "job_id", jobID, "err", err)
				}
				return
			}
		}
	}
}

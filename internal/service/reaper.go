// Package service holds the loop-level business logic for the control
// plane's background processes (§4.4), independent of how they are wired
// into a process (see internal/adapters for that glue).
package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/merrymaker/scanner/config"
	obserrors "github.com/merrymaker/scanner/internal/observability/errors"
	"github.com/merrymaker/scanner/internal/observability/metrics"
	"github.com/merrymaker/scanner/internal/observability/statsd"
	"github.com/merrymaker/scanner/internal/ports"
)

// ReaperServiceOptions groups ReaperService dependencies.
type ReaperServiceOptions struct {
	Repo    ports.JobMaintenance
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// ReaperService reclaims stale and expired jobs and trims old history
// (§4.4): it fails pending jobs that were never picked up, expires leases
// whose holder stopped heartbeating, and deletes terminal jobs and their
// results past their retention window.
type ReaperService struct {
	repo    ports.JobMaintenance
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("job maintenance repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Config.Sanitize()

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger.With("component", "reaper_service"),
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and blocks until ctx is cancelled.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter delays startup by up to 10% of the interval so multiple
// reaper replicas starting together don't all sweep at once.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate startup jitter, skipping", "err", err)
		return
	}
	jitter := time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()

	stalePending, stalePendingErr := s.drain(ctx, "fail stale pending jobs", func(ctx context.Context) (int64, error) {
		return s.repo.FailStalePendingJobs(ctx, s.config.MaxPendingAge, s.config.BatchSize)
	})
	expiredLeases, expiredErr := s.drain(ctx, "expire leases", func(ctx context.Context) (int64, error) {
		return s.repo.ExpireLeases(ctx, s.config.BatchSize)
	})
	deletedJobs, deletedJobsErr := s.drain(ctx, "delete old jobs", func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOldJobs(ctx, s.config.MaxJobAge, s.config.BatchSize)
	})
	deletedResults, deletedResultsErr := s.drain(ctx, "delete old job results", func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOldJobResults(ctx, s.config.JobResultsMaxAge, s.config.BatchSize)
	})

	totals := cleanupMetrics{
		StalePendingCount: stalePending,
		StalePendingErr:   stalePendingErr,
		ExpiredCount:      expiredLeases,
		ExpiredErr:        expiredErr,
		DeletedJobsCount:  deletedJobs,
		DeletedJobsErr:    deletedJobsErr,
		DeletedResultsCount: deletedResults,
		DeletedResultsErr:   deletedResultsErr,
		Elapsed:           time.Since(start),
	}
	s.emitCleanupMetrics(totals)

	firstErr := firstError(stalePendingErr, expiredErr, deletedJobsErr, deletedResultsErr)
	if firstErr != nil {
		if isContextCancellation(firstErr) {
			return context.Canceled
		}
		return fmt.Errorf("reaper cleanup failed: %w", firstErr)
	}
	return nil
}

// drain repeatedly invokes fn until it reports zero affected rows, so a
// single tick fully catches up even when more rows are stale than one
// batch covers.
func (s *ReaperService) drain(ctx context.Context, label string, fn func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := fn(ctx)
		total += count
		if err != nil {
			return total, err
		}
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
	if total > 0 {
		s.logger.InfoContext(ctx, label, "count", total)
	}
	return total, nil
}

type cleanupMetrics struct {
	StalePendingCount   int64
	StalePendingErr     error
	ExpiredCount        int64
	ExpiredErr          error
	DeletedJobsCount    int64
	DeletedJobsErr      error
	DeletedResultsCount int64
	DeletedResultsErr   error
	Elapsed             time.Duration
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	total := m.StalePendingCount + m.ExpiredCount + m.DeletedJobsCount + m.DeletedResultsCount
	firstErr := firstError(m.StalePendingErr, m.ExpiredErr, m.DeletedJobsErr, m.DeletedResultsErr)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if total == 0 {
		result = metrics.ResultNoop
	}
	tags := map[string]string{statsd.TagResult: result}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags[statsd.TagErrorClass] = class
		}
	}

	s.metrics.Count(statsd.MetricReaperCleanup, 1, tags)
	if m.Elapsed > 0 {
		s.metrics.Timing(statsd.MetricReaperCleanupDuration, m.Elapsed, metrics.CloneTags(tags))
	}

	s.emitOperationMetric("fail_stale_pending", m.StalePendingCount, m.StalePendingErr)
	s.emitOperationMetric("expire_leases", m.ExpiredCount, m.ExpiredErr)
	s.emitOperationMetric("delete_old_jobs", m.DeletedJobsCount, m.DeletedJobsErr)
	s.emitOperationMetric("delete_old_job_results", m.DeletedResultsCount, m.DeletedResultsErr)

	if firstErr == nil {
		s.metrics.Gauge(statsd.MetricReaperLastSuccess, float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}
	tags := map[string]string{"operation": operation, statsd.TagResult: result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags[statsd.TagErrorClass] = class
		}
	}
	s.metrics.Count(statsd.MetricReaperCleanupOperation, 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count(statsd.MetricReaperJobsProcessed, count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "err", err)
		return
	}
	s.logger.Error(label+" failed", "err", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

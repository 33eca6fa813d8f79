// Package maintenance implements the purge-hourly, purge-daily, and
// seen-string-purge job handlers (§7): scheduled, job-queue-driven sweeps
// over the same batched operations the reaper's own ticker runs. Both
// triggers are safe to run concurrently since every underlying operation is
// idempotent and batch-bounded.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/merrymaker/scanner/config"
	"github.com/merrymaker/scanner/internal/domain/model"
	"github.com/merrymaker/scanner/internal/ports"
)

// HourlyHandler implements jobrunner.HandlerFunc for model.TaskPurgeHourly:
// it reclaims stale pending jobs and expired leases, the cheap, frequent
// half of job-store upkeep.
type HourlyHandler struct {
	Jobs   ports.JobMaintenance
	Config config.ReaperConfig
}

// Handle runs one purge-hourly sweep.
func (h *HourlyHandler) Handle(ctx context.Context, _ *model.Job) error {
	if _, err := drain(ctx, func(ctx context.Context) (int64, error) {
		return h.Jobs.FailStalePendingJobs(ctx, h.Config.MaxPendingAge, h.Config.BatchSize)
	}); err != nil {
		return fmt.Errorf("fail stale pending jobs: %w", err)
	}
	if _, err := drain(ctx, func(ctx context.Context) (int64, error) {
		return h.Jobs.ExpireLeases(ctx, h.Config.BatchSize)
	}); err != nil {
		return fmt.Errorf("expire leases: %w", err)
	}
	return nil
}

// DailyHandler implements jobrunner.HandlerFunc for model.TaskPurgeDaily: it
// deletes terminal jobs and job results past their retention window.
type DailyHandler struct {
	Jobs   ports.JobMaintenance
	Config config.ReaperConfig
}

// Handle runs one purge-daily sweep.
func (h *DailyHandler) Handle(ctx context.Context, _ *model.Job) error {
	if _, err := drain(ctx, func(ctx context.Context) (int64, error) {
		return h.Jobs.DeleteOldJobs(ctx, h.Config.MaxJobAge, h.Config.BatchSize)
	}); err != nil {
		return fmt.Errorf("delete old jobs: %w", err)
	}
	if _, err := drain(ctx, func(ctx context.Context) (int64, error) {
		return h.Jobs.DeleteOldJobResults(ctx, h.Config.JobResultsMaxAge, h.Config.BatchSize)
	}); err != nil {
		return fmt.Errorf("delete old job results: %w", err)
	}
	return nil
}

// SeenStringPurgeHandler implements jobrunner.HandlerFunc for
// model.TaskSeenStringPurge: it trims seen-string rows past their
// retention window (§4.5).
type SeenStringPurgeHandler struct {
	SeenStrings ports.SeenStringMaintenance
	Retention   time.Duration
	BatchSize   int
}

// Handle runs one seen-string-purge sweep.
func (h *SeenStringPurgeHandler) Handle(ctx context.Context, _ *model.Job) error {
	batch := h.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	_, err := drain(ctx, func(ctx context.Context) (int64, error) {
		return h.SeenStrings.PurgeOlderThan(ctx, h.Retention, batch)
	})
	if err != nil {
		return fmt.Errorf("purge seen strings: %w", err)
	}
	return nil
}

// drain repeatedly invokes fn until it reports zero affected rows, matching
// the reaper's own catch-up behaviour for a single sweep.
func drain(ctx context.Context, fn func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := fn(ctx)
		total += count
		if err != nil {
			return total, err
		}
		if count == 0 {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

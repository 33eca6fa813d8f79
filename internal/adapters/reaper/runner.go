// Package reaper adapts the reaper service (§4.4) to a process entry point.
package reaper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/merrymaker/scanner/config"
	"github.com/merrymaker/scanner/internal/observability/statsd"
	"github.com/merrymaker/scanner/internal/ports"
	"github.com/merrymaker/scanner/internal/service"
)

// Runner runs the reaper loop until its context is cancelled.
type Runner struct {
	reaper *service.ReaperService
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Jobs    ports.JobMaintenance
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NewRunner creates a new reaper Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("reaper runner: job maintenance store is required")
	}

	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    opts.Jobs,
		Config:  opts.Config,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Runner{reaper: svc}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	return r.reaper.Run(ctx)
}

// Command merrymaker is the control plane's composition root: it wires
// storage, the rule engine, and every component runner, then runs whichever
// subset cfg.Services names until terminated (§3).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/merrymaker/scanner/config"
	"github.com/merrymaker/scanner/internal/adapters/jobrunner"
	"github.com/merrymaker/scanner/internal/adapters/maintenance"
	"github.com/merrymaker/scanner/internal/adapters/postgres"
	"github.com/merrymaker/scanner/internal/adapters/reaper"
	"github.com/merrymaker/scanner/internal/adapters/rulecache"
	"github.com/merrymaker/scanner/internal/adapters/rulerunner"
	"github.com/merrymaker/scanner/internal/adapters/scanpipeline"
	"github.com/merrymaker/scanner/internal/adapters/scheduler"
	"github.com/merrymaker/scanner/internal/adapters/secretrefresh"
	"github.com/merrymaker/scanner/internal/alertdispatch"
	"github.com/merrymaker/scanner/internal/bootstrap"
	"github.com/merrymaker/scanner/internal/crypto"
	"github.com/merrymaker/scanner/internal/domain/model"
	"github.com/merrymaker/scanner/internal/domain/rules"
	"github.com/merrymaker/scanner/internal/observability/statsd"
)

func main() {
	if err := run(); err != nil {
		slog.Error("merrymaker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := bootstrap.InitLogger(cfg.IsDev)

	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("parse services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.ConnectPostgres(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if cfg.Postgres.RunMigrationsOnStart {
		if err := bootstrap.RunMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	metricsSink, err := buildMetrics(cfg.Observability.Metrics, logger)
	if err != nil {
		return fmt.Errorf("build metrics sink: %w", err)
	}

	jobStore := postgres.NewJobStore(pool, 0, 0)
	scheduledTasks := postgres.NewScheduledTaskStore(pool)
	rulesStore := postgres.NewRulesStore(pool)
	scanStore := postgres.NewScanStore(pool)
	scanLogStore := postgres.NewScanLogStore(pool)
	alertStore := postgres.NewAlertStore(pool)
	encryptor := crypto.NewEncryptor(cfg.Secrets.EncryptionKey, logger)
	secretStore := postgres.NewSecretStore(pool, encryptor)

	runners := make(map[config.ServiceMode]func(context.Context) error)

	if services[config.ServiceModeScheduler] {
		r, err := scheduler.NewRunner(scheduler.RunnerOptions{
			Tasks:   scheduledTasks,
			Jobs:    jobStore,
			Config:  cfg.Scheduler,
			Logger:  logger,
			Metrics: metricsSink,
		})
		if err != nil {
			return fmt.Errorf("build scheduler runner: %w", err)
		}
		runners[config.ServiceModeScheduler] = r.Run
	}

	if services[config.ServiceModeReaper] {
		r, err := reaper.NewRunner(reaper.RunnerOptions{
			Jobs:    jobStore,
			Config:  cfg.Reaper,
			Logger:  logger,
			Metrics: metricsSink,
		})
		if err != nil {
			return fmt.Errorf("build reaper runner: %w", err)
		}
		runners[config.ServiceModeReaper] = r.Run
	}

	if services[config.ServiceModeRunner] {
		r, err := buildJobRunner(cfg, jobStore, scanLogStore, scanStore, rulesStore, secretStore, logger, metricsSink)
		if err != nil {
			return fmt.Errorf("build job runner: %w", err)
		}
		runners[config.ServiceModeRunner] = r.Run
	}

	if services[config.ServiceModeRulesEngine] {
		r, registry, err := buildRulesEngineRunner(ctx, cfg, jobStore, rulesStore, scanLogStore, alertStore, logger, metricsSink)
		if err != nil {
			return fmt.Errorf("build rules engine runner: %w", err)
		}
		defer closeRegistry(logger, registry)
		runners[config.ServiceModeRulesEngine] = r.Run
	}

	if services[config.ServiceModeAlertRunner] {
		r, registry, err := buildAlertRunner(cfg, jobStore, alertStore, scanStore, logger, metricsSink)
		if err != nil {
			return fmt.Errorf("build alert runner: %w", err)
		}
		defer closeRegistry(logger, registry)
		runners[config.ServiceModeAlertRunner] = r.Run
	}

	return runAll(ctx, logger, runners)
}

func closeRegistry(logger *slog.Logger, registry *alertdispatch.Registry) {
	if err := registry.Close(); err != nil {
		logger.Error("closing alert sink registry", "error", err)
	}
}

func buildMetrics(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) (statsd.Sink, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// buildJobRunner wires the generic Job Runner (component C): the
// scan-event pipeline, secret refresh, and the purge/seen-string-purge
// sweeps. rule-job and alert-dispatch each get their own dedicated runner
// (components E and G) so they can scale independently.
func buildJobRunner(
	cfg config.AppConfig,
	jobStore *postgres.JobStore,
	scanLogStore *postgres.ScanLogStore,
	scanStore *postgres.ScanStore,
	rulesStore *postgres.RulesStore,
	secretStore *postgres.SecretStore,
	logger *slog.Logger,
	metricsSink statsd.Sink,
) (*jobrunner.Runner, error) {
	engine, _, err := buildRuleEngine(context.Background(), cfg, rulesStore)
	if err != nil {
		return nil, fmt.Errorf("build rule dispatcher: %w", err)
	}
	dispatcher := rules.NewDispatcher(engine, jobStore)

	pipelineHandler := &scanpipeline.Handler{
		ScanLogs: scanLogStore,
		Scans:    scanStore,
		Rules:    dispatcher,
		Logger:   logger,
	}
	secretHandler := &secretrefresh.Handler{Secrets: secretStore, Logger: logger}
	hourly := &maintenance.HourlyHandler{Jobs: jobStore, Config: cfg.Reaper}
	daily := &maintenance.DailyHandler{Jobs: jobStore, Config: cfg.Reaper}
	seenStringPurge := &maintenance.SeenStringPurgeHandler{
		SeenStrings: rulesStore,
		Retention:   cfg.RulesEngine.SeenStringRetention,
		BatchSize:   cfg.Reaper.BatchSize,
	}

	taskNames := []string{
		model.TaskBrowserEventQueue,
		model.TaskSecretRefresh,
		model.TaskPurgeHourly,
		model.TaskPurgeDaily,
		model.TaskSeenStringPurge,
	}
	if len(cfg.Runner.TaskNames) > 0 {
		taskNames = cfg.Runner.TaskNames
	}
	handlers := map[string]jobrunner.HandlerFunc{
		model.TaskBrowserEventQueue: pipelineHandler.Handle,
		model.TaskSecretRefresh:     secretHandler.Handle,
		model.TaskPurgeHourly:       hourly.Handle,
		model.TaskPurgeDaily:        daily.Handle,
		model.TaskSeenStringPurge:   seenStringPurge.Handle,
	}

	return jobrunner.NewRunner(jobrunner.RunnerOptions{
		Store:       jobStore,
		TaskNames:   taskNames,
		Handlers:    handlers,
		Concurrency: cfg.Runner.Concurrency,
		Lease:       cfg.Runner.DefaultLease,
		Logger:      logger,
		Metrics:     metricsSink,
	})
}

// buildRulesEngineRunner wires the dedicated rule-job worker (component E).
func buildRulesEngineRunner(
	ctx context.Context,
	cfg config.AppConfig,
	jobStore *postgres.JobStore,
	rulesStore *postgres.RulesStore,
	scanLogStore *postgres.ScanLogStore,
	alertStore *postgres.AlertStore,
	logger *slog.Logger,
	metricsSink statsd.Sink,
) (*jobrunner.Runner, *alertdispatch.Registry, error) {
	engine, matcher, err := buildRuleEngine(ctx, cfg, rulesStore)
	if err != nil {
		return nil, nil, err
	}
	if matcher != nil {
		if err := matcher.Refresh(ctx); err != nil {
			logger.WarnContext(ctx, "initial payload matcher refresh failed", "error", err)
		}
	}

	registry := alertdispatch.NewRegistry(cfg.AlertRunner)
	handler := &rulerunner.Handler{
		Engine:    engine,
		Alerts:    alertStore,
		ScanLogs:  scanLogStore,
		Jobs:      jobStore,
		SinkNames: registry.Names(),
		Logger:    logger,
	}

	r, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Store:       jobStore,
		TaskNames:   []string{model.TaskRuleJob},
		Handlers:    map[string]jobrunner.HandlerFunc{model.TaskRuleJob: handler.Handle},
		Concurrency: cfg.RulesEngine.Concurrency,
		Lease:       cfg.RulesEngine.JobLease,
		Logger:      logger,
		Metrics:     metricsSink,
	})
	return r, registry, err
}

// buildAlertRunner wires the dedicated alert-dispatch worker (component G).
func buildAlertRunner(
	cfg config.AppConfig,
	jobStore *postgres.JobStore,
	alertStore *postgres.AlertStore,
	scanStore *postgres.ScanStore,
	logger *slog.Logger,
	metricsSink statsd.Sink,
) (*jobrunner.Runner, *alertdispatch.Registry, error) {
	registry := alertdispatch.NewRegistry(cfg.AlertRunner)
	handler := &alertdispatch.Handler{
		Alerts:   alertStore,
		ScanURLs: scanStore,
		Registry: registry,
		Metrics:  metricsSink,
	}

	r, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Store:       jobStore,
		TaskNames:   []string{model.TaskAlertDispatch},
		Handlers:    map[string]jobrunner.HandlerFunc{model.TaskAlertDispatch: handler.Handle},
		Concurrency: cfg.AlertRunner.Concurrency,
		Lease:       cfg.AlertRunner.JobLease,
		Logger:      logger,
		Metrics:     metricsSink,
	})
	return r, registry, err
}

// buildRuleEngine assembles the three-tier cache, the built-in rules, and
// the Engine's type→rule bindings (§4.5). It returns the PayloadMatcher
// separately since only the rules-engine runner needs to Refresh it.
func buildRuleEngine(ctx context.Context, cfg config.AppConfig, rulesStore *postgres.RulesStore) (*rules.Engine, *rules.PayloadMatcher, error) {
	local := rulecache.NewLocalLRU(rulecache.LocalLRUConfig{Capacity: cfg.RulesEngine.LocalCacheSize})
	tiered := rulecache.NewTieredCache(local, rulesStore, cfg.RulesEngine.LocalCacheTTL, slog.Default())

	iocCache := rulecache.NewIOCCache(tiered, rulesStore)
	allowListCache := rulecache.NewAllowListCache(tiered, rulesStore)
	seenStringCache := rulecache.NewSeenStringCache(local, rulesStore, cfg.RulesEngine.LocalCacheTTL)

	iocRule := &rules.IOCRule{IOCs: iocCache, AllowList: allowListCache}
	seenIOCRule := &rules.SeenStringRule{Inner: iocRule, Cache: seenStringCache}

	bindings := []rules.Binding{
		{Types: []model.ScanEventType{model.ScanEventWebRequest}, Rule: seenIOCRule},
	}

	var matcher *rules.PayloadMatcher
	if cfg.RulesEngine.PayloadMatcherEnabled {
		matcher = rules.NewPayloadMatcher(rulesStore)
		seenMatcher := &rules.SeenStringRule{Inner: matcher, Cache: seenStringCache}
		bindings = append(bindings, rules.Binding{
			Types: []model.ScanEventType{model.ScanEventWebRequest, model.ScanEventJSCall},
			Rule:  seenMatcher,
		})
	}

	_ = ctx
	return rules.NewEngine(bindings), matcher, nil
}

// runAll starts every wired runner in its own goroutine and blocks until
// all of them return, propagating the first non-nil, non-cancellation
// error. A runner's error cancels the context shared by the others.
func runAll(ctx context.Context, logger *slog.Logger, runners map[config.ServiceMode]func(context.Context) error) error {
	if len(runners) == 0 {
		return errors.New("no services enabled")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(runners))

	for mode, fn := range runners {
		wg.Add(1)
		go func(mode config.ServiceMode, fn func(context.Context) error) {
			defer wg.Done()
			logger.Info("starting service", "service", string(mode))
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", mode, err)
				cancel()
			}
		}(mode, fn)
	}

	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		logger.Error("service stopped with error", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

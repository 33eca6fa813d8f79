package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// ServiceMode represents a process role the `merrymaker` binary can run as.
type ServiceMode string

const (
	// ServiceModeScheduler runs the scheduler loop (component B).
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeRunner runs the job runner loop (component C).
	ServiceModeRunner ServiceMode = "runner"
	// ServiceModeReaper runs the reaper loop (component D).
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeRulesEngine runs the rule engine's rule-job handler (component E).
	ServiceModeRulesEngine ServiceMode = "rules-engine"
	// ServiceModeAlertRunner runs the alert dispatch job handler (component G).
	ServiceModeAlertRunner ServiceMode = "alert-runner"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeScheduler,
		ServiceModeRunner,
		ServiceModeReaper,
		ServiceModeRulesEngine,
		ServiceModeAlertRunner,
	}
}

// ParseServices parses a comma-delimited string of service names into the set
// of enabled service modes for this process.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}

		mode := ServiceMode(name)
		switch mode {
		case ServiceModeScheduler, ServiceModeRunner, ServiceModeReaper,
			ServiceModeRulesEngine, ServiceModeAlertRunner:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: scheduler, runner, reaper, rules-engine, alert-runner)",
				name,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler (component B) configuration.
type SchedulerConfig struct {
	// Interval is the scheduler's due-check tick, driven by a robfig/cron
	// `@every` schedule (spec §6 scheduler.interval, default 30s).
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"30s"`

	// BackfillLimit caps how many due tasks a single due-check loads and
	// processes (default 20). Each due task gets at most one fire per check;
	// missed intervals are not replayed, and the job store's pending count
	// is not consulted.
	BackfillLimit int `env:"SCHEDULER_BACKFILL_LIMIT" envDefault:"20"`

	// DefaultTaskName is not read by the scheduler; each ScheduledTask's own
	// TaskName is used as stored.
	DefaultTaskName string `env:"SCHEDULER_DEFAULT_TASK_NAME" envDefault:"scan"`

	// DefaultPriority is not read: jobs carry no priority (see DESIGN.md).
	DefaultPriority int `env:"SCHEDULER_DEFAULT_PRIORITY" envDefault:"0"`

	// DefaultMaxAttempts bounds retries for jobs the scheduler enqueues.
	DefaultMaxAttempts int `env:"SCHEDULER_DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Interval < time.Second {
		s.Interval = 30 * time.Second
	}
	if s.BackfillLimit < 1 {
		s.BackfillLimit = 20
	}
	if s.DefaultMaxAttempts < 1 {
		s.DefaultMaxAttempts = 3
	}
}

// RunnerConfig contains job runner (component C) configuration.
type RunnerConfig struct {
	// Concurrency is the number of ReserveNext worker goroutines.
	Concurrency int `env:"RUNNER_CONCURRENCY" envDefault:"4"`

	// DefaultLease is the lease duration a reservation holds before it must be
	// renewed by a heartbeat.
	DefaultLease time.Duration `env:"RUNNER_DEFAULT_LEASE" envDefault:"30s"`

	// TaskNames restricts which task names this runner process reserves;
	// empty means all registered handlers.
	TaskNames []string `env:"RUNNER_TASK_NAMES" envSeparator:","`
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.DefaultLease < 5*time.Second {
		r.DefaultLease = 30 * time.Second
	}
}

// ReaperConfig contains reaper (component D) configuration.
type ReaperConfig struct {
	// Interval is the reaper tick (spec §6 reaper.interval, default 60s).
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"60s"`

	// MaxPendingAge is the age at which a pending job is failed as stale
	// (spec §6 reaper.maxPendingAge).
	MaxPendingAge time.Duration `env:"REAPER_MAX_PENDING_AGE" envDefault:"1h"`

	// MaxJobAge is the age at which terminal jobs are eligible for deletion
	// (spec §6 reaper.maxJobAge).
	MaxJobAge time.Duration `env:"REAPER_MAX_JOB_AGE" envDefault:"168h"`

	// JobResultsMaxAge is the age at which job_results rows are deleted,
	// independently of their parent job's lifetime.
	JobResultsMaxAge time.Duration `env:"REAPER_JOB_RESULTS_MAX_AGE" envDefault:"2160h"`

	// BatchSize bounds rows touched per reaper operation (spec §6 reaper.batchSize).
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.MaxPendingAge < 5*time.Minute {
		r.MaxPendingAge = 5 * time.Minute
	}
	if r.MaxJobAge < time.Hour {
		r.MaxJobAge = time.Hour
	}
	if r.JobResultsMaxAge < 24*time.Hour {
		r.JobResultsMaxAge = 24 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

// RulesEngineConfig contains rule engine (component E) configuration.
type RulesEngineConfig struct {
	// Concurrency is the number of rule-job worker goroutines.
	Concurrency int `env:"RULES_ENGINE_CONCURRENCY" envDefault:"2"`

	// JobLease is the lease duration for a reserved rule-job.
	JobLease time.Duration `env:"RULES_ENGINE_JOB_LEASE" envDefault:"30s"`

	// LocalCacheSize bounds the process-local LRU tier shared by the IOC and
	// seen-string rules.
	LocalCacheSize int `env:"RULES_ENGINE_LOCAL_CACHE_SIZE" envDefault:"10000"`

	// LocalCacheTTL is the per-entry TTL for the process-local LRU tier.
	LocalCacheTTL time.Duration `env:"RULES_ENGINE_LOCAL_CACHE_TTL" envDefault:"5m"`

	// SeenStringRetention is how long a seen-string suppression row is kept
	// before it ages out, resolving spec.md §9's open question (default 180
	// days per DESIGN.md).
	SeenStringRetention time.Duration `env:"RULES_ENGINE_SEEN_STRING_RETENTION" envDefault:"4320h"`

	// PayloadMatcherEnabled toggles the regexp-based YARA-replacement rule.
	PayloadMatcherEnabled bool `env:"RULES_ENGINE_PAYLOAD_MATCHER_ENABLED" envDefault:"true"`
}

// Sanitize applies guardrails to rules engine configuration values.
func (r *RulesEngineConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.JobLease < 5*time.Second {
		r.JobLease = 30 * time.Second
	}
	if r.LocalCacheSize < 1 {
		r.LocalCacheSize = 10000
	}
	if r.LocalCacheTTL <= 0 {
		r.LocalCacheTTL = 5 * time.Minute
	}
	if r.SeenStringRetention <= 0 {
		r.SeenStringRetention = model.DefaultSeenStringRetention
	}
}

// SecretsConfig contains at-rest encryption and refresh configuration for
// dynamic secrets (spec.md §7 secret-refresh task type).
type SecretsConfig struct {
	// EncryptionKey encrypts secret values at rest. A hex string decodes to
	// the raw AES-256 key; any other non-empty value is hashed with SHA-256
	// to derive one. Empty falls back to a noop encryptor (dev only).
	EncryptionKey string `env:"SECRETS_ENCRYPTION_KEY" envDefault:""`
}

// Sanitize applies guardrails to secrets configuration values.
func (s *SecretsConfig) Sanitize() {}

// AlertRunnerConfig contains alert dispatcher (component G) configuration.
type AlertRunnerConfig struct {
	// Concurrency is the number of alert-dispatch worker goroutines.
	Concurrency int `env:"ALERT_RUNNER_CONCURRENCY" envDefault:"2"`

	// JobLease is the lease duration for a reserved alert-dispatch job.
	JobLease time.Duration `env:"ALERT_RUNNER_JOB_LEASE" envDefault:"30s"`

	// MaxAttempts is clamped by Sanitize but not read when alert-dispatch
	// jobs are enqueued; those jobs get model.DefaultMaxAttempts (3).
	MaxAttempts int `env:"ALERT_RUNNER_MAX_ATTEMPTS" envDefault:"3"`

	HTTP      HTTPSinkConfig      `envPrefix:"ALERTS_HTTP_"`
	Kafka     KafkaSinkConfig     `envPrefix:"ALERTS_KAFKA_"`
	Slack     SlackSinkConfig     `envPrefix:"ALERTS_SLACK_"`
	PagerDuty PagerDutySinkConfig `envPrefix:"ALERTS_PAGERDUTY_"`
}

// Sanitize applies guardrails to alert runner configuration values.
func (a *AlertRunnerConfig) Sanitize() {
	if a.Concurrency < 1 {
		a.Concurrency = 1
	}
	if a.JobLease < 5*time.Second {
		a.JobLease = 30 * time.Second
	}
	if a.MaxAttempts < 1 {
		a.MaxAttempts = 3
	}
	a.HTTP.sanitize()
	a.Kafka.sanitize()
	a.Slack.sanitize()
	a.PagerDuty.sanitize()
}

// HTTPSinkConfig enables the GoAlert-style HTTP alert sink (spec §6 alerts.<sink>.enabled).
// DetailsExpr, when set, is a JMESPath expression evaluated against the
// alert event to compute the wire contract's "details" field, in place of
// the event's plain description, so an operator can shape the payload
// without a code change.
type HTTPSinkConfig struct {
	Enabled     bool   `env:"ENABLED"      envDefault:"false"`
	URL         string `env:"URL"          envDefault:""`
	Token       string `env:"TOKEN"        envDefault:""`
	DetailsExpr string `env:"DETAILS_EXPR" envDefault:""`
}

func (c *HTTPSinkConfig) sanitize() {
	c.URL = strings.TrimSpace(c.URL)
	c.DetailsExpr = strings.TrimSpace(c.DetailsExpr)
	if c.Enabled && c.URL == "" {
		c.Enabled = false
	}
}

// KafkaSinkConfig enables the Kafka alert sink, grounded on the
// segmentio/kafka-go client wired in for AlertV1 messages.
type KafkaSinkConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC"   envDefault:"merrymaker-alerts"`
}

func (c *KafkaSinkConfig) sanitize() {
	if c.Enabled && len(c.Brokers) == 0 {
		c.Enabled = false
	}
	if c.Topic == "" {
		c.Topic = "merrymaker-alerts"
	}
}

// SlackSinkConfig enables the supplemented Slack webhook alert sink.
type SlackSinkConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	WebhookURL string `env:"WEBHOOK_URL" envDefault:""`
	Channel    string `env:"CHANNEL"     envDefault:""`
	Username   string `env:"USERNAME"    envDefault:"merrymaker"`
}

func (c *SlackSinkConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	if c.Enabled && c.WebhookURL == "" {
		c.Enabled = false
	}
	if c.Username == "" {
		c.Username = "merrymaker"
	}
}

// PagerDutySinkConfig enables the supplemented PagerDuty Events API v2 alert sink.
type PagerDutySinkConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	RoutingKey string `env:"ROUTING_KEY" envDefault:""`
	Source     string `env:"SOURCE"      envDefault:"merrymaker"`
	Component  string `env:"COMPONENT"   envDefault:"merrymaker"`
}

func (c *PagerDutySinkConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	if c.Enabled && c.RoutingKey == "" {
		c.Enabled = false
	}
	if c.Source == "" {
		c.Source = "merrymaker"
	}
	if c.Component == "" {
		c.Component = "merrymaker"
	}
}

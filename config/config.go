package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library, with github.com/joho/godotenv loading a
// local .env file in development. See individual domain config files for
// available environment variables:
//   - auth.go: Session and role-map configuration (component H)
//   - database.go: Postgres and Redis connection configuration
//   - services.go: Service mode and per-component worker configuration
//   - observability.go: MetricsSink configuration
type AppConfig struct {
	// IsDev controls development mode behavior (tint log handler instead of
	// JSON). Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Auth configuration (component H).
	Auth AuthConfig

	// Transport configuration (machine-to-machine mTLS surface).
	Transport TransportConfig

	// Postgres and Redis connection configuration.
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Services is a comma-delimited list of enabled service modes for this
	// process invocation (scheduler, runner, reaper, rules-engine, alert-runner).
	Services string `env:"SERVICES" envDefault:"runner"`

	Scheduler   SchedulerConfig
	Runner      RunnerConfig
	Reaper      ReaperConfig
	RulesEngine RulesEngineConfig
	AlertRunner AlertRunnerConfig
	Secrets     SecretsConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env. This
// should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Postgres.Sanitize()
	c.Redis.Sanitize()
	c.Auth.Sanitize()
	c.Transport.Sanitize()
	c.Scheduler.Sanitize()
	c.Runner.Sanitize()
	c.Reaper.Sanitize()
	c.RulesEngine.Sanitize()
	c.AlertRunner.Sanitize()
	c.Secrets.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback, matching the teacher's bootstrap config.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsSchedulerEnabled returns true if the scheduler service is enabled.
func (c *AppConfig) IsSchedulerEnabled() bool {
	services, err := c.GetEnabledServices()
	return err == nil && services[ServiceModeScheduler]
}

// IsRunnerEnabled returns true if the job runner service is enabled.
func (c *AppConfig) IsRunnerEnabled() bool {
	services, err := c.GetEnabledServices()
	return err == nil && services[ServiceModeRunner]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	return err == nil && services[ServiceModeReaper]
}

// IsRulesEngineEnabled returns true if the rules engine service is enabled.
func (c *AppConfig) IsRulesEngineEnabled() bool {
	services, err := c.GetEnabledServices()
	return err == nil && services[ServiceModeRulesEngine]
}

// IsAlertRunnerEnabled returns true if the alert runner service is enabled.
func (c *AppConfig) IsAlertRunnerEnabled() bool {
	services, err := c.GetEnabledServices()
	return err == nil && services[ServiceModeAlertRunner]
}

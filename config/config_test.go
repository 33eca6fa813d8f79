package config

import (
	"testing"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - runner",
			input:    "runner",
			expected: map[ServiceMode]bool{ServiceModeRunner: true},
		},
		{
			name:  "multiple services",
			input: "runner,scheduler,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeRunner:    true,
				ServiceModeScheduler: true,
				ServiceModeReaper:    true,
			},
		},
		{
			name:  "services with spaces",
			input: " runner , rules-engine ",
			expected: map[ServiceMode]bool{
				ServiceModeRunner:      true,
				ServiceModeRulesEngine: true,
			},
		},
		{
			name:  "duplicate services",
			input: "runner,runner,alert-runner",
			expected: map[ServiceMode]bool{
				ServiceModeRunner:      true,
				ServiceModeAlertRunner: true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "runner,invalid-service",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}
			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestAppConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name              string
		services          string
		expectedRunner    bool
		expectedScheduler bool
		expectedReaper    bool
	}{
		{
			name:           "runner only",
			services:       "runner",
			expectedRunner: true,
		},
		{
			name:              "runner and scheduler",
			services:          "runner,scheduler",
			expectedRunner:    true,
			expectedScheduler: true,
		},
		{
			name:           "reaper only",
			services:       "reaper",
			expectedReaper: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}
			if cfg.IsRunnerEnabled() != tt.expectedRunner {
				t.Errorf("IsRunnerEnabled(): expected %v, got %v", tt.expectedRunner, cfg.IsRunnerEnabled())
			}
			if cfg.IsSchedulerEnabled() != tt.expectedScheduler {
				t.Errorf("IsSchedulerEnabled(): expected %v, got %v", tt.expectedScheduler, cfg.IsSchedulerEnabled())
			}
			if cfg.IsReaperEnabled() != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v, got %v", tt.expectedReaper, cfg.IsReaperEnabled())
			}
		})
	}
}

func TestAppConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := AppConfig{Services: "invalid-service"}

	if cfg.IsRunnerEnabled() {
		t.Error("IsRunnerEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsSchedulerEnabled() {
		t.Error("IsSchedulerEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsReaperEnabled() {
		t.Error("IsReaperEnabled() with invalid config: expected false, got true")
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{
		ServiceModeScheduler,
		ServiceModeRunner,
		ServiceModeReaper,
		ServiceModeRulesEngine,
		ServiceModeAlertRunner,
	}

	if len(modes) != len(expected) {
		t.Fatalf("expected %d service modes, got %d", len(expected), len(modes))
	}
	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " "}
	cfg.Sanitize()
	if cfg.Enabled {
		t.Fatal("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " statsd:1234 "}
	cfg.Sanitize()
	if !cfg.IsEnabled() {
		t.Fatal("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
	if cfg.Prefix != "merrymaker" {
		t.Fatalf("expected default prefix, got %q", cfg.Prefix)
	}
}

func TestRedisConfig_SanitizeClearsSentinelFieldsWhenDisabled(t *testing.T) {
	cfg := RedisConfig{
		UseSentinel:      false,
		SentinelNodes:    []string{"node:26379"},
		SentinelMaster:   "mymaster",
		SentinelPassword: "secret",
	}
	cfg.Sanitize()

	if cfg.SentinelNodes != nil || cfg.SentinelMaster != "" || cfg.SentinelPassword != "" {
		t.Fatalf("expected sentinel fields cleared, got %+v", cfg)
	}
}

func TestRedisConfig_SanitizeDefaultsSentinelFieldsWhenEnabled(t *testing.T) {
	cfg := RedisConfig{UseSentinel: true}
	cfg.Sanitize()

	if len(cfg.SentinelNodes) == 0 {
		t.Fatal("expected default sentinel nodes")
	}
	if cfg.SentinelMaster != "mymaster" {
		t.Fatalf("expected default sentinel master, got %q", cfg.SentinelMaster)
	}
}

func TestAlertRunnerConfig_SanitizeDisablesSinksMissingCredentials(t *testing.T) {
	cfg := AlertRunnerConfig{
		HTTP:      HTTPSinkConfig{Enabled: true},
		Kafka:     KafkaSinkConfig{Enabled: true},
		Slack:     SlackSinkConfig{Enabled: true},
		PagerDuty: PagerDutySinkConfig{Enabled: true},
	}
	cfg.Sanitize()

	if cfg.HTTP.Enabled || cfg.Kafka.Enabled || cfg.Slack.Enabled || cfg.PagerDuty.Enabled {
		t.Fatalf("expected all sinks disabled without credentials, got %+v", cfg)
	}
}

func TestAppConfig_ParseAuthEnv(t *testing.T) {
	t.Setenv("AUTH_STRATEGY", "oauth")
	t.Setenv("AUTH_ADMIN_GROUP", "merrymaker-admins")
	t.Setenv("AUTH_USER_GROUP", "merrymaker-users")
	t.Setenv("AUTH_SESSION_TTL", "2h")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}

	if cfg.Auth.Strategy != AuthStrategyOAuth {
		t.Fatalf("expected oauth strategy, got %q", cfg.Auth.Strategy)
	}
	if cfg.Auth.AdminGroup != "merrymaker-admins" {
		t.Fatalf("expected admin group to parse, got %q", cfg.Auth.AdminGroup)
	}
	if cfg.Auth.SessionTTL.String() != "2h0m0s" {
		t.Fatalf("expected session ttl to parse, got %v", cfg.Auth.SessionTTL)
	}
}

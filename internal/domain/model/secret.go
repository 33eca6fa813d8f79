package model

import (
	"encoding/json"
	"time"
)

// Secret is a stored credential (auth header, cookie jar, API token) a scan
// can be configured to inject. Value is the decrypted plaintext once read
// back through a SecretStore; it is never populated on a list response.
//
// A secret is "dynamic" when ProviderScriptPath is set: its value is
// periodically replaced by the stdout of that script, driven by a
// secret-refresh job the scheduler enqueues on RefreshInterval (§7).
type Secret struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Value     string    `json:"value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProviderScriptPath *string         `json:"provider_script_path,omitempty"`
	EnvConfig          json.RawMessage `json:"env_config,omitempty"`
	RefreshInterval    *time.Duration  `json:"refresh_interval,omitempty"`
	RefreshEnabled     bool            `json:"refresh_enabled"`
	LastRefreshedAt    *time.Time      `json:"last_refreshed_at,omitempty"`
	LastRefreshStatus  *string         `json:"last_refresh_status,omitempty"`
	LastRefreshError   *string         `json:"last_refresh_error,omitempty"`
}

// Dynamic reports whether s is refreshed by a provider script rather than
// holding a fixed value.
func (s *Secret) Dynamic() bool {
	return s.ProviderScriptPath != nil && *s.ProviderScriptPath != ""
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthStrategy selects the identity source backing sessions (spec §6 auth.strategy).
type AuthStrategy string

const (
	// AuthStrategyLocal authenticates against a bootstrapped admin row and local
	// credential store.
	AuthStrategyLocal AuthStrategy = "local"
	// AuthStrategyOAuth authenticates via an external OIDC provider.
	AuthStrategyOAuth AuthStrategy = "oauth"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthStrategy.
func (s *AuthStrategy) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "local", "oauth":
		*s = AuthStrategy(v)
		return nil
	default:
		return fmt.Errorf("invalid auth strategy: %q (valid options: local, oauth)", v)
	}
}

// AuthConfig groups session and role-map configuration for component H
// (spec.md §4.8). The actual identity exchange (OAuth code flow, local
// credential checks) is an external collaborator; this config only governs
// how the resulting Identity is mapped to a Role and how long the resulting
// Session lives.
type AuthConfig struct {
	// Strategy selects the identity source.
	Strategy AuthStrategy `env:"AUTH_STRATEGY" envDefault:"local"`

	// BootstrapAdminEmail is trimmed by Sanitize but not read anywhere else;
	// no admin row is seeded from it.
	BootstrapAdminEmail string `env:"AUTH_BOOTSTRAP_ADMIN_EMAIL" envDefault:""`

	// SessionTTL is the lifetime of a newly created Session.
	SessionTTL time.Duration `env:"AUTH_SESSION_TTL" envDefault:"24h"`

	// AdminGroup and UserGroup are the OIDC group claims mapped to the admin
	// and user roles respectively, used by RoleMapper when Strategy=oauth.
	AdminGroup string `env:"AUTH_ADMIN_GROUP" envDefault:"merrymaker-admins"`
	UserGroup  string `env:"AUTH_USER_GROUP"  envDefault:"merrymaker-users"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	if a.SessionTTL <= 0 {
		a.SessionTTL = 24 * time.Hour
	}
	if a.Strategy == "" {
		a.Strategy = AuthStrategyLocal
	}
	a.BootstrapAdminEmail = strings.TrimSpace(a.BootstrapAdminEmail)
}

// TransportConfig controls the machine-to-machine mTLS surface used by the
// RoleTransport identity (spec §6 transport.mTLS, GLOSSARY).
type TransportConfig struct {
	MTLSEnabled bool   `env:"TRANSPORT_MTLS_ENABLED" envDefault:"false"`
	Cert        string `env:"TRANSPORT_CERT"         envDefault:""`
	Key         string `env:"TRANSPORT_KEY"          envDefault:""`
	ClientCA    string `env:"TRANSPORT_CLIENT_CA"    envDefault:""`
}

// Sanitize applies guardrails to transport configuration values.
func (t *TransportConfig) Sanitize() {
	if !t.MTLSEnabled {
		t.Cert, t.Key, t.ClientCA = "", "", ""
	}
}

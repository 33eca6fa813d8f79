// Package ports defines hexagonal ports for the session/role boundary (§4.8).
// The identity provider that produces a domainauth.Identity is an external
// collaborator (spec §1); this package only covers what the control plane
// itself owns: session persistence and role mapping.
package ports

import (
	"context"

	domainauth "github.com/merrymaker/scanner/internal/domain/auth"
)

// SessionStore persists and retrieves sessions, enforcing TTL semantics (§4.8).
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Get(ctx context.Context, id string) (domainauth.Session, error)
	Delete(ctx context.Context, id string) error
}

// RoleMapper maps identity-provider groups to an application role (§4.8).
type RoleMapper interface {
	Map(groups []string) domainauth.Role
}

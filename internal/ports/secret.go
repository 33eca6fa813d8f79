package ports

import (
	"context"
	"time"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// SecretStore persists secrets with values encrypted at rest, decrypting on
// read (§7 secret-refresh).
type SecretStore interface {
	// GetByID returns a secret with Value decrypted.
	GetByID(ctx context.Context, id string) (*model.Secret, error)

	// UpdateValue replaces a secret's encrypted value.
	UpdateValue(ctx context.Context, id, newValue string) error

	// RecordRefreshResult updates the secret's refresh bookkeeping after a
	// secret-refresh job runs, success or failure.
	RecordRefreshResult(ctx context.Context, id string, refreshedAt time.Time, status string, refreshErr error) error

	// ListDue returns dynamic secrets whose next refresh is due by now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.Secret, error)
}

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

// AlertStore implements ports.AlertStore over the alerts table (§3, §4.7).
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore constructs an AlertStore.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Create implements ports.AlertStore.
func (s *AlertStore) Create(ctx context.Context, alert *model.Alert) error {
	if len(alert.Context) == 0 {
		alert.Context = []byte(`{}`)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO alerts (rule, scan_id, site_id, message, context)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		alert.Rule, alert.ScanID, alert.SiteID, alert.Message, alert.Context,
	)
	if err := row.Scan(&alert.ID, &alert.CreatedAt); err != nil {
		return mmerrors.MapDBError(err)
	}
	return nil
}

// GetByID implements ports.AlertStore.
func (s *AlertStore) GetByID(ctx context.Context, id string) (*model.Alert, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, rule, scan_id, site_id, message, context, resolved_at, created_at
		FROM alerts WHERE id = $1`, id)

	var a model.Alert
	if err := row.Scan(&a.ID, &a.Rule, &a.ScanID, &a.SiteID, &a.Message, &a.Context, &a.ResolvedAt, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mmerrors.NotFoundf("alert %s not found", id)
		}
		return nil, mmerrors.MapDBError(err)
	}
	return &a, nil
}

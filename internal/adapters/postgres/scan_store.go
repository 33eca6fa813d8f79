package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

// ScanStore implements ports.ScanStore over the scans table (§3, §4.6).
type ScanStore struct {
	pool *pgxpool.Pool
}

// NewScanStore constructs a ScanStore.
func NewScanStore(pool *pgxpool.Pool) *ScanStore {
	return &ScanStore{pool: pool}
}

// Create implements ports.ScanStore.
func (s *ScanStore) Create(ctx context.Context, scan *model.Scan) error {
	if scan.State == "" {
		scan.State = model.ScanStatePending
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO scans (site_id, state, started_at, finished_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		scan.SiteID, scan.State, scan.StartedAt, scan.FinishedAt,
	)
	if err := row.Scan(&scan.ID, &scan.CreatedAt); err != nil {
		return mmerrors.MapDBError(err)
	}
	return nil
}

// GetByID implements ports.ScanStore.
func (s *ScanStore) GetByID(ctx context.Context, id string) (*model.Scan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, site_id, state, started_at, finished_at, created_at
		FROM scans WHERE id = $1`, id)

	var scan model.Scan
	if err := row.Scan(&scan.ID, &scan.SiteID, &scan.State, &scan.StartedAt, &scan.FinishedAt, &scan.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mmerrors.NotFoundf("scan %s not found", id)
		}
		return nil, mmerrors.MapDBError(err)
	}
	return &scan, nil
}

// TransitionState implements ports.ScanStore. The current state is read
// under FOR UPDATE so two scan-event-pipeline workers racing on the same
// scan_id serialize on the row lock rather than on model.ScanState.rank
// alone (§5 "last-writer-wins by rank").
func (s *ScanStore) TransitionState(ctx context.Context, scanID string, next model.ScanState, finishedAt *time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, mmerrors.MapDBError(err)
	}
	defer tx.Rollback(ctx)

	var current model.ScanState
	err = tx.QueryRow(ctx, `SELECT state FROM scans WHERE id = $1 FOR UPDATE`, scanID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, mmerrors.NotFoundf("scan %s not found", scanID)
		}
		return false, mmerrors.MapDBError(err)
	}

	if !next.AdvancesFrom(current) {
		return false, nil
	}

	startedAt := interface{}(nil)
	if next == model.ScanStateRunning {
		startedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, `
		UPDATE scans
		SET state = $2,
		    started_at = COALESCE(started_at, $3),
		    finished_at = COALESCE($4, finished_at)
		WHERE id = $1`,
		scanID, next, startedAt, finishedAt,
	)
	if err != nil {
		return false, mmerrors.MapDBError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, mmerrors.MapDBError(err)
	}
	return true, nil
}

// ScanURL implements alertdispatch.ScanURLResolver: it joins scans to sites
// to recover the URL an alert's scan visited, for the AlertV1.ScanURL wire
// field (§6).
func (s *ScanStore) ScanURL(ctx context.Context, scanID string) (string, error) {
	var u string
	err := s.pool.QueryRow(ctx, `
		SELECT sites.url
		FROM scans
		JOIN sites ON sites.id = scans.site_id
		WHERE scans.id = $1`, scanID,
	).Scan(&u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", mmerrors.MapDBError(err)
	}
	return u, nil
}

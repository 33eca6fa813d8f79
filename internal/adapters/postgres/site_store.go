package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

// SourceStore implements ports.SourceStore over the sources table
// introduced by migration 0003 (§3, §6 scan-runner CLI).
type SourceStore struct {
	pool *pgxpool.Pool
}

// NewSourceStore constructs a SourceStore.
func NewSourceStore(pool *pgxpool.Pool) *SourceStore {
	return &SourceStore{pool: pool}
}

// Create implements ports.SourceStore.
func (s *SourceStore) Create(ctx context.Context, source *model.Source) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sources (name, script, enabled)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		source.Name, source.Script, source.Enabled,
	)
	if err := row.Scan(&source.ID, &source.CreatedAt); err != nil {
		return mmerrors.MapDBError(err)
	}
	return nil
}

// GetByID implements ports.SourceStore.
func (s *SourceStore) GetByID(ctx context.Context, id string) (*model.Source, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, script, enabled, created_at FROM sources WHERE id = $1`, id)

	var src model.Source
	if err := row.Scan(&src.ID, &src.Name, &src.Script, &src.Enabled, &src.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mmerrors.NotFoundf("source %s not found", id)
		}
		return nil, mmerrors.MapDBError(err)
	}
	return &src, nil
}

// SiteStore implements ports.SiteStore over the sites table.
type SiteStore struct {
	pool *pgxpool.Pool
}

// NewSiteStore constructs a SiteStore.
func NewSiteStore(pool *pgxpool.Pool) *SiteStore {
	return &SiteStore{pool: pool}
}

// Create implements ports.SiteStore.
func (s *SiteStore) Create(ctx context.Context, site *model.Site) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sites (source_id, url, enabled)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		site.SourceID, site.URL, site.Enabled,
	)
	if err := row.Scan(&site.ID, &site.CreatedAt); err != nil {
		return mmerrors.MapDBError(err)
	}
	return nil
}

// GetByID implements ports.SiteStore.
func (s *SiteStore) GetByID(ctx context.Context, id string) (*model.Site, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_id, url, enabled, created_at FROM sites WHERE id = $1`, id)

	var site model.Site
	if err := row.Scan(&site.ID, &site.SourceID, &site.URL, &site.Enabled, &site.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mmerrors.NotFoundf("site %s not found", id)
		}
		return nil, mmerrors.MapDBError(err)
	}
	return &site, nil
}

// ListEnabled implements ports.SiteStore.
func (s *SiteStore) ListEnabled(ctx context.Context) ([]model.Site, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, url, enabled, created_at
		FROM sites WHERE enabled ORDER BY created_at ASC`)
	if err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	defer rows.Close()

	var out []model.Site
	for rows.Next() {
		var site model.Site
		if err := rows.Scan(&site.ID, &site.SourceID, &site.URL, &site.Enabled, &site.CreatedAt); err != nil {
			return nil, mmerrors.MapDBError(err)
		}
		out = append(out, site)
	}
	if err := rows.Err(); err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	return out, nil
}

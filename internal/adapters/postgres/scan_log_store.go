package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

// ScanLogStore implements ports.ScanLogStore over the scan_logs table,
// batching multi-row inserts through pgx.Batch the way event_repo.go
// batches bulk event inserts (§4.6: "a single batched insert per handler
// invocation when multiple events are bundled").
type ScanLogStore struct {
	pool *pgxpool.Pool
}

// NewScanLogStore constructs a ScanLogStore.
func NewScanLogStore(pool *pgxpool.Pool) *ScanLogStore {
	return &ScanLogStore{pool: pool}
}

// InsertBatch implements ports.ScanLogStore.
func (s *ScanLogStore) InsertBatch(ctx context.Context, logs []model.ScanLog) (int, error) {
	if len(logs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, l := range logs {
		batch.Queue(`
			INSERT INTO scan_logs (scan_id, entry, level, event)
			VALUES ($1, $2, $3, $4)`,
			l.ScanID, l.Entry, l.Level, l.Event,
		)
	}

	br := s.pool.SendBatch(ctx, batch)

	inserted := 0
	for i := range logs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return inserted, mmerrors.Wrapf(err, mmerrors.ErrCodeInternal, "insert scan log %d", i)
		}
		inserted++
	}
	if err := br.Close(); err != nil {
		return inserted, fmt.Errorf("scan log batch close: %w", err)
	}
	return inserted, nil
}

// ListByScanID implements ports.ScanLogStore.
func (s *ScanLogStore) ListByScanID(ctx context.Context, scanID string, limit int) ([]model.ScanLog, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, scan_id, entry, level, event, created_at
		FROM scan_logs
		WHERE scan_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, scanID, limit,
	)
	if err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	defer rows.Close()

	var out []model.ScanLog
	for rows.Next() {
		var l model.ScanLog
		if err := rows.Scan(&l.ID, &l.ScanID, &l.Entry, &l.Level, &l.Event, &l.CreatedAt); err != nil {
			return nil, mmerrors.MapDBError(err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	return out, nil
}

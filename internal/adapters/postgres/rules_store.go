package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merrymaker/scanner/internal/domain/model"
	domainrules "github.com/merrymaker/scanner/internal/domain/rules"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

// RulesStore implements ports.IOCStore, ports.AllowListStore,
// ports.RuleCacheStore, ports.SeenStringStore and ports.SeenStringMaintenance
// over the Tier 3 authoritative tables and the Tier 2 DB cache table
// introduced by migration 0004 (§4.5).
type RulesStore struct {
	pool *pgxpool.Pool
}

// NewRulesStore constructs a RulesStore.
func NewRulesStore(pool *pgxpool.Pool) *RulesStore {
	return &RulesStore{pool: pool}
}

func scanIOC(row pgx.Row) (*model.IOC, error) {
	var ioc model.IOC
	if err := row.Scan(&ioc.ID, &ioc.Type, &ioc.Value, &ioc.Enabled, &ioc.CreatedAt); err != nil {
		return nil, err
	}
	return &ioc, nil
}

// LookupHost implements ports.IOCStore.
func (s *RulesStore) LookupHost(ctx context.Context, host string) (*model.IOC, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, type, value, enabled, created_at
		FROM iocs
		WHERE enabled AND type IN ('fqdn', 'ip') AND value = $1
		LIMIT 1`, host)
	ioc, err := scanIOC(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mmerrors.MapDBError(err)
	}
	return ioc, nil
}

// ListEnabledByType implements ports.IOCStore.
func (s *RulesStore) ListEnabledByType(ctx context.Context, t model.IOCType) ([]model.IOC, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, value, enabled, created_at
		FROM iocs
		WHERE enabled AND type = $1
		ORDER BY created_at ASC`, t)
	if err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	defer rows.Close()

	var out []model.IOC
	for rows.Next() {
		ioc, err := scanIOC(rows)
		if err != nil {
			return nil, mmerrors.MapDBError(err)
		}
		out = append(out, *ioc)
	}
	if err := rows.Err(); err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	return out, nil
}

// IsAllowed implements ports.AllowListStore. Allow-list entries are matched
// by pattern (exact, wildcard, or eTLD+1, §3), not by a plain key lookup, so
// this loads the enabled entries for t and evaluates them against key with a
// PatternMatcher rather than a single indexed comparison.
func (s *RulesStore) IsAllowed(ctx context.Context, t model.IOCType, key string) (bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, pattern_type, enabled FROM allow_list WHERE enabled AND type = $1`, t)
	if err != nil {
		return false, mmerrors.MapDBError(err)
	}
	defer rows.Close()

	var entries []model.AllowListEntry
	for rows.Next() {
		var e model.AllowListEntry
		e.Type = t
		if err := rows.Scan(&e.Key, &e.PatternType, &e.Enabled); err != nil {
			return false, mmerrors.MapDBError(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return false, mmerrors.MapDBError(err)
	}

	return domainrules.NewPatternMatcher().MatchAny(key, entries), nil
}

// Lookup implements ports.RuleCacheStore.
func (s *RulesStore) Lookup(ctx context.Context, tier, key string) (hit bool, found bool, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT hit FROM rule_cache_entries WHERE tier = $1 AND key = $2`, tier, key,
	).Scan(&hit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, mmerrors.MapDBError(err)
	}
	return hit, true, nil
}

// Store implements ports.RuleCacheStore.
func (s *RulesStore) Store(ctx context.Context, tier, key string, hit bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rule_cache_entries (tier, key, hit, cached_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tier, key) DO UPDATE SET hit = $3, cached_at = now()`,
		tier, key, hit,
	)
	if err != nil {
		return mmerrors.MapDBError(err)
	}
	return nil
}

// Exists implements ports.SeenStringStore.
func (s *RulesStore) Exists(ctx context.Context, ruleType, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM seen_strings WHERE type = $1 AND key = $2)`,
		ruleType, key,
	).Scan(&exists)
	if err != nil {
		return false, mmerrors.MapDBError(err)
	}
	return exists, nil
}

// Record implements ports.SeenStringStore.
func (s *RulesStore) Record(ctx context.Context, ruleType, key string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO seen_strings (type, key, last_cached)
		VALUES ($1, $2, now())
		ON CONFLICT (type, key) DO UPDATE SET last_cached = now()`,
		ruleType, key,
	)
	if err != nil {
		return mmerrors.MapDBError(err)
	}
	return nil
}

// PurgeOlderThan implements ports.SeenStringMaintenance: it deletes rows
// whose last_cached predates the retention window, in bounded batches, the
// way JobStore.DeleteOldJobs bounds its own purge (§4.4).
func (s *RulesStore) PurgeOlderThan(ctx context.Context, olderThan time.Duration, batch int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM seen_strings
		WHERE id IN (
			SELECT id FROM seen_strings
			WHERE last_cached < now() - ($1::double precision * interval '1 second')
			ORDER BY last_cached ASC
			LIMIT $2
		)`,
		olderThan.Seconds(), batch,
	)
	if err != nil {
		return 0, mmerrors.MapDBError(err)
	}
	return tag.RowsAffected(), nil
}

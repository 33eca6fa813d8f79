package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merrymaker/scanner/internal/domain/model"
	"github.com/merrymaker/scanner/internal/testutil"
)

func insertAllowListEntry(t *testing.T, pool *pgxpool.Pool, iocType model.IOCType, key string, patternType model.PatternType) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO allow_list (type, key, pattern_type, enabled)
		VALUES ($1, $2, $3, true)`, iocType, key, patternType)
	require.NoError(t, err)
}

func TestRulesStore_IsAllowedExactMatch(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := NewRulesStore(pool)
		insertAllowListEntry(t, pool, model.IOCTypeFQDN, "safe.example.com", model.PatternTypeExact)

		allowed, err := store.IsAllowed(context.Background(), model.IOCTypeFQDN, "safe.example.com")
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = store.IsAllowed(context.Background(), model.IOCTypeFQDN, "other.example.com")
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}

func TestRulesStore_IsAllowedWildcardMatch(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := NewRulesStore(pool)
		insertAllowListEntry(t, pool, model.IOCTypeFQDN, "*.cdn.example.com", model.PatternTypeWildcard)

		allowed, err := store.IsAllowed(context.Background(), model.IOCTypeFQDN, "assets.cdn.example.com")
		require.NoError(t, err)
		assert.True(t, allowed, "subdomain of a wildcard entry must be allowed")

		allowed, err = store.IsAllowed(context.Background(), model.IOCTypeFQDN, "cdn.example.com")
		require.NoError(t, err)
		assert.True(t, allowed, "wildcard entry also allows its own base domain")

		allowed, err = store.IsAllowed(context.Background(), model.IOCTypeFQDN, "evil-cdn.example.com")
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}

func TestRulesStore_IsAllowedETLDPlusOneMatch(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := NewRulesStore(pool)
		insertAllowListEntry(t, pool, model.IOCTypeFQDN, "example.co.uk", model.PatternTypeETLDPlusOne)

		allowed, err := store.IsAllowed(context.Background(), model.IOCTypeFQDN, "deep.sub.example.co.uk")
		require.NoError(t, err)
		assert.True(t, allowed, "any subdomain sharing the registrable domain must be allowed")

		allowed, err = store.IsAllowed(context.Background(), model.IOCTypeFQDN, "example.com")
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}

func TestRulesStore_IsAllowedIgnoresDisabledEntries(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := NewRulesStore(pool)
		_, err := pool.Exec(context.Background(), `
			INSERT INTO allow_list (type, key, pattern_type, enabled)
			VALUES ($1, $2, $3, false)`, model.IOCTypeFQDN, "disabled.example.com", model.PatternTypeExact)
		require.NoError(t, err)

		allowed, err := store.IsAllowed(context.Background(), model.IOCTypeFQDN, "disabled.example.com")
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}

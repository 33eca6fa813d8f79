package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merrymaker/scanner/internal/crypto"
	"github.com/merrymaker/scanner/internal/testutil"
)

func insertTestSecret(t *testing.T, pool *pgxpool.Pool, enc crypto.Encryptor, name, value string, refreshEnabled bool, refreshIntervalSeconds *int64) string {
	t.Helper()
	ciphertext, err := enc.Encrypt([]byte(value))
	require.NoError(t, err)

	var id string
	err = pool.QueryRow(context.Background(), `
		INSERT INTO secrets (name, value, refresh_enabled, refresh_interval_seconds)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, name, ciphertext, refreshEnabled, refreshIntervalSeconds,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestSecretStore_GetByIDDecryptsValue(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		enc := crypto.NewEncryptor("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd", nil)
		store := NewSecretStore(pool, enc)

		id := insertTestSecret(t, pool, enc, "api-token", "s3cr3t", false, nil)

		secret, err := store.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "s3cr3t", secret.Value)
		assert.Equal(t, "api-token", secret.Name)
	})
}

func TestSecretStore_GetByIDNotFound(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := NewSecretStore(pool, crypto.NoopEncryptor{})

		_, err := store.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.Error(t, err)
	})
}

func TestSecretStore_UpdateValueReEncrypts(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		enc := crypto.NoopEncryptor{}
		store := NewSecretStore(pool, enc)

		id := insertTestSecret(t, pool, enc, "rotating-token", "old-value", true, nil)

		require.NoError(t, store.UpdateValue(context.Background(), id, "new-value"))

		secret, err := store.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "new-value", secret.Value)
	})
}

func TestSecretStore_RecordRefreshResultSuccess(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		enc := crypto.NoopEncryptor{}
		store := NewSecretStore(pool, enc)
		id := insertTestSecret(t, pool, enc, "dynamic-token", "v1", true, nil)

		now := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, store.RecordRefreshResult(context.Background(), id, now, "success", nil))

		secret, err := store.GetByID(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, secret.LastRefreshStatus)
		assert.Equal(t, "success", *secret.LastRefreshStatus)
		assert.Nil(t, secret.LastRefreshError)
		require.NotNil(t, secret.LastRefreshedAt)
	})
}

func TestSecretStore_ListDueReturnsNeverRefreshedDynamicSecrets(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		enc := crypto.NoopEncryptor{}
		store := NewSecretStore(pool, enc)

		interval := int64(60)
		dueID := insertTestSecret(t, pool, enc, "due-secret", "v1", true, &interval)
		insertTestSecret(t, pool, enc, "disabled-secret", "v1", false, &interval)

		due, err := store.ListDue(context.Background(), time.Now().UTC(), 10)
		require.NoError(t, err)

		var found bool
		for _, s := range due {
			if s.ID == dueID {
				found = true
			}
		}
		assert.True(t, found, "never-refreshed enabled dynamic secret should be due")
	})
}

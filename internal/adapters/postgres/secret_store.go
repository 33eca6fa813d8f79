package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merrymaker/scanner/internal/crypto"
	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

// SecretStore implements ports.SecretStore over the secrets table
// (migration 0005), encrypting Value at rest with enc.
type SecretStore struct {
	pool *pgxpool.Pool
	enc  crypto.Encryptor
}

// NewSecretStore constructs a SecretStore.
func NewSecretStore(pool *pgxpool.Pool, enc crypto.Encryptor) *SecretStore {
	return &SecretStore{pool: pool, enc: enc}
}

func (s *SecretStore) scanSecret(row pgx.Row) (*model.Secret, error) {
	var (
		sec            model.Secret
		value          string
		envConfig      []byte
		refreshSeconds *int64
	)
	err := row.Scan(
		&sec.ID, &sec.Name, &value, &sec.ProviderScriptPath, &envConfig,
		&refreshSeconds, &sec.RefreshEnabled, &sec.LastRefreshedAt,
		&sec.LastRefreshStatus, &sec.LastRefreshError, &sec.CreatedAt, &sec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	plaintext, decErr := s.enc.Decrypt(value)
	if decErr != nil {
		return nil, mmerrors.Internalf("decrypt secret %s: %v", sec.ID, decErr)
	}
	sec.Value = string(plaintext)
	sec.EnvConfig = json.RawMessage(envConfig)
	if refreshSeconds != nil {
		d := time.Duration(*refreshSeconds) * time.Second
		sec.RefreshInterval = &d
	}
	return &sec, nil
}

// GetByID implements ports.SecretStore.
func (s *SecretStore) GetByID(ctx context.Context, id string) (*model.Secret, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, value, provider_script_path, env_config,
		       refresh_interval_seconds, refresh_enabled, last_refreshed_at,
		       last_refresh_status, last_refresh_error, created_at, updated_at
		FROM secrets WHERE id = $1`, id)

	sec, err := s.scanSecret(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mmerrors.NotFoundf("secret %s not found", id)
		}
		return nil, mmerrors.MapDBError(err)
	}
	return sec, nil
}

// UpdateValue implements ports.SecretStore.
func (s *SecretStore) UpdateValue(ctx context.Context, id, newValue string) error {
	ciphertext, err := s.enc.Encrypt([]byte(newValue))
	if err != nil {
		return mmerrors.Internalf("encrypt secret %s: %v", id, err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE secrets SET value = $2, updated_at = now() WHERE id = $1`,
		id, ciphertext,
	)
	if err != nil {
		return mmerrors.MapDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return mmerrors.NotFoundf("secret %s not found", id)
	}
	return nil
}

// RecordRefreshResult implements ports.SecretStore.
func (s *SecretStore) RecordRefreshResult(ctx context.Context, id string, refreshedAt time.Time, status string, refreshErr error) error {
	var errMsg *string
	if refreshErr != nil {
		msg := refreshErr.Error()
		errMsg = &msg
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE secrets
		SET last_refreshed_at = $2, last_refresh_status = $3, last_refresh_error = $4, updated_at = now()
		WHERE id = $1`,
		id, refreshedAt, status, errMsg,
	)
	if err != nil {
		return mmerrors.MapDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return mmerrors.NotFoundf("secret %s not found", id)
	}
	return nil
}

// ListDue implements ports.SecretStore: dynamic secrets never refreshed, or
// whose last refresh is older than their interval.
func (s *SecretStore) ListDue(ctx context.Context, now time.Time, limit int) ([]model.Secret, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, value, provider_script_path, env_config,
		       refresh_interval_seconds, refresh_enabled, last_refreshed_at,
		       last_refresh_status, last_refresh_error, created_at, updated_at
		FROM secrets
		WHERE refresh_enabled
		  AND refresh_interval_seconds IS NOT NULL
		  AND (last_refreshed_at IS NULL OR last_refreshed_at + make_interval(secs => refresh_interval_seconds) <= $1)
		ORDER BY last_refreshed_at ASC NULLS FIRST
		LIMIT $2`, now, limit,
	)
	if err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	defer rows.Close()

	var out []model.Secret
	for rows.Next() {
		sec, err := s.scanSecret(rows)
		if err != nil {
			return nil, mmerrors.MapDBError(err)
		}
		out = append(out, *sec)
	}
	if err := rows.Err(); err != nil {
		return nil, mmerrors.MapDBError(err)
	}
	return out, nil
}

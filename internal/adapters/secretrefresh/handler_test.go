package secretrefresh

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merrymaker/scanner/internal/domain/model"
)

type fakeSecretStore struct {
	secret *model.Secret
	getErr error

	updatedValue      string
	updateErr         error
	refreshStatus     string
	refreshErr        error
	recordRefreshCall int
}

func (f *fakeSecretStore) GetByID(ctx context.Context, id string) (*model.Secret, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.secret, nil
}

func (f *fakeSecretStore) UpdateValue(ctx context.Context, id, newValue string) error {
	f.updatedValue = newValue
	return f.updateErr
}

func (f *fakeSecretStore) RecordRefreshResult(ctx context.Context, id string, refreshedAt time.Time, status string, refreshErr error) error {
	f.recordRefreshCall++
	f.refreshStatus = status
	f.refreshErr = refreshErr
	return nil
}

func scriptPath(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "provider.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func jobFor(t *testing.T, secretID string) *model.Job {
	t.Helper()
	payload, err := json.Marshal(JobPayload{SecretID: secretID})
	require.NoError(t, err)
	return &model.Job{Payload: payload}
}

func TestHandler_RefreshesFromScriptOutput(t *testing.T) {
	script := scriptPath(t, "#!/bin/sh\necho 'new-token'\n")
	providerPath := script

	store := &fakeSecretStore{secret: &model.Secret{
		ID:                 "sec-1",
		Name:               "api-token",
		ProviderScriptPath: &providerPath,
		RefreshEnabled:     true,
	}}
	h := &Handler{Secrets: store}

	err := h.Handle(context.Background(), jobFor(t, "sec-1"))
	require.NoError(t, err)

	assert.Equal(t, "new-token", store.updatedValue)
	assert.Equal(t, "success", store.refreshStatus)
	assert.Equal(t, 1, store.recordRefreshCall)
}

func TestHandler_RecordsFailureOnNonZeroExit(t *testing.T) {
	script := scriptPath(t, "#!/bin/sh\necho 'boom' >&2\nexit 3\n")
	providerPath := script

	store := &fakeSecretStore{secret: &model.Secret{
		ID:                 "sec-2",
		ProviderScriptPath: &providerPath,
		RefreshEnabled:     true,
	}}
	h := &Handler{Secrets: store}

	err := h.Handle(context.Background(), jobFor(t, "sec-2"))
	require.Error(t, err)

	assert.Equal(t, "failed", store.refreshStatus)
	assert.Error(t, store.refreshErr)
	assert.Empty(t, store.updatedValue)
}

func TestHandler_RejectsSecretNotConfiguredForRefresh(t *testing.T) {
	store := &fakeSecretStore{secret: &model.Secret{
		ID:             "sec-3",
		RefreshEnabled: false,
	}}
	h := &Handler{Secrets: store}

	err := h.Handle(context.Background(), jobFor(t, "sec-3"))
	require.Error(t, err)
	assert.Zero(t, store.recordRefreshCall)
}

func TestHandler_PropagatesLoadError(t *testing.T) {
	store := &fakeSecretStore{getErr: errors.New("not found")}
	h := &Handler{Secrets: store}

	err := h.Handle(context.Background(), jobFor(t, "missing"))
	require.Error(t, err)
}

func TestHandler_RejectsEmptyScriptOutput(t *testing.T) {
	script := scriptPath(t, "#!/bin/sh\ntrue\n")
	providerPath := script

	store := &fakeSecretStore{secret: &model.Secret{
		ID:                 "sec-4",
		ProviderScriptPath: &providerPath,
		RefreshEnabled:     true,
	}}
	h := &Handler{Secrets: store}

	err := h.Handle(context.Background(), jobFor(t, "sec-4"))
	require.Error(t, err)
	assert.Equal(t, "failed", store.refreshStatus)
}

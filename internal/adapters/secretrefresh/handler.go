// Package secretrefresh implements the secret-refresh job handler: it runs
// a dynamic secret's provider script and stores the script's stdout as the
// secret's new value (§7).
package secretrefresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

// SecretStore is the subset of ports.SecretStore the handler needs.
type SecretStore interface {
	GetByID(ctx context.Context, id string) (*model.Secret, error)
	UpdateValue(ctx context.Context, id, newValue string) error
	RecordRefreshResult(ctx context.Context, id string, refreshedAt time.Time, status string, refreshErr error) error
}

// JobPayload is the secret-refresh job payload.
type JobPayload struct {
	SecretID string `json:"secret_id"`
}

// Handler implements jobrunner.HandlerFunc for model.TaskSecretRefresh.
type Handler struct {
	Secrets SecretStore
	Logger  *slog.Logger
}

// Handle runs one secret's provider script and records the new value. A
// script failure is recorded on the secret and fails the job so the job
// store's retry policy applies (§4.1); an unconfigured or disabled secret
// is treated as a permanent failure since retrying cannot help.
func (h *Handler) Handle(ctx context.Context, job *model.Job) error {
	var payload JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal secret-refresh payload: %w", err)
	}

	secret, err := h.Secrets.GetByID(ctx, payload.SecretID)
	if err != nil {
		return fmt.Errorf("load secret %s: %w", payload.SecretID, err)
	}

	if !secret.RefreshEnabled || !secret.Dynamic() {
		return mmerrors.Fatal(nil, "secret is not configured for refresh")
	}

	newValue, runErr := runProviderScript(ctx, secret)
	now := time.Now().UTC()
	if runErr != nil {
		_ = h.Secrets.RecordRefreshResult(ctx, secret.ID, now, "failed", runErr)
		h.logger().ErrorContext(ctx, "secret refresh failed", "secret_id", secret.ID, "secret_name", secret.Name, "error", runErr)
		return mmerrors.Transient(runErr, fmt.Sprintf("run provider script for secret %s", secret.ID))
	}

	if err := h.Secrets.UpdateValue(ctx, secret.ID, newValue); err != nil {
		return fmt.Errorf("store refreshed value for secret %s: %w", secret.ID, err)
	}
	if err := h.Secrets.RecordRefreshResult(ctx, secret.ID, now, "success", nil); err != nil {
		return fmt.Errorf("record refresh result for secret %s: %w", secret.ID, err)
	}

	h.logger().InfoContext(ctx, "secret refreshed", "secret_id", secret.ID, "secret_name", secret.Name)
	return nil
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// runProviderScript executes secret.ProviderScriptPath and returns its
// trimmed stdout as the new secret value.
func runProviderScript(ctx context.Context, secret *model.Secret) (string, error) {
	var envMap map[string]string
	if len(secret.EnvConfig) > 0 {
		if err := json.Unmarshal(secret.EnvConfig, &envMap); err != nil {
			return "", fmt.Errorf("parse env config: %w", err)
		}
	}

	env := make([]string, 0, len(envMap))
	for k, v := range envMap {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	// #nosec G204 -- provider_script_path is operator-configured and stored in the secrets table, not request input.
	cmd := exec.CommandContext(ctx, *secret.ProviderScriptPath)
	cmd.Env = append(os.Environ(), env...)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("script exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("execute script: %w", err)
	}

	newValue := strings.TrimSpace(string(output))
	if newValue == "" {
		return "", fmt.Errorf("script returned an empty value")
	}
	return newValue, nil
}

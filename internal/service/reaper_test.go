package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merrymaker/scanner/config"
)

// fakeMaintenance returns its configured count once per operation, then
// zero, simulating a single batch draining a small backlog.
type fakeMaintenance struct {
	stalePendingCalls, expireCalls, deleteJobsCalls, deleteResultsCalls int
	stalePendingCount, expireCount, deleteJobsCount, deleteResultsCount int64
	err                                                                 error
}

func (f *fakeMaintenance) FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batch int) (int64, error) {
	f.stalePendingCalls++
	if f.err != nil {
		return 0, f.err
	}
	if f.stalePendingCalls == 1 {
		return f.stalePendingCount, nil
	}
	return 0, nil
}

func (f *fakeMaintenance) ExpireLeases(ctx context.Context, batch int) (int64, error) {
	f.expireCalls++
	if f.err != nil {
		return 0, f.err
	}
	if f.expireCalls == 1 {
		return f.expireCount, nil
	}
	return 0, nil
}

func (f *fakeMaintenance) DeleteOldJobs(ctx context.Context, olderThan time.Duration, batch int) (int64, error) {
	f.deleteJobsCalls++
	if f.err != nil {
		return 0, f.err
	}
	if f.deleteJobsCalls == 1 {
		return f.deleteJobsCount, nil
	}
	return 0, nil
}

func (f *fakeMaintenance) DeleteOldJobResults(ctx context.Context, olderThan time.Duration, batch int) (int64, error) {
	f.deleteResultsCalls++
	if f.err != nil {
		return 0, f.err
	}
	if f.deleteResultsCalls == 1 {
		return f.deleteResultsCount, nil
	}
	return 0, nil
}

func TestNewReaperService_RequiresRepo(t *testing.T) {
	_, err := NewReaperService(ReaperServiceOptions{})
	require.Error(t, err)
}

func TestReaperService_RunCleanupDrainsEachOperationToZero(t *testing.T) {
	repo := &fakeMaintenance{stalePendingCount: 3, expireCount: 2, deleteJobsCount: 5, deleteResultsCount: 1}
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: config.ReaperConfig{Interval: time.Minute, BatchSize: 100},
	})
	require.NoError(t, err)

	err = svc.runCleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, repo.stalePendingCalls, "drains until a zero-count batch")
	assert.Equal(t, 2, repo.expireCalls)
	assert.Equal(t, 2, repo.deleteJobsCalls)
	assert.Equal(t, 2, repo.deleteResultsCalls)
}

func TestReaperService_RunCleanupPropagatesFirstError(t *testing.T) {
	repo := &fakeMaintenance{err: errors.New("db unavailable")}
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: config.ReaperConfig{Interval: time.Minute, BatchSize: 100},
	})
	require.NoError(t, err)

	err = svc.runCleanup(context.Background())
	require.Error(t, err)
}

func TestReaperService_RunStopsOnContextCancellation(t *testing.T) {
	repo := &fakeMaintenance{}
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: config.ReaperConfig{Interval: time.Hour, BatchSize: 100},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.Run(ctx))
}

package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merrymaker/scanner/config"
	"github.com/merrymaker/scanner/internal/domain/model"
)

// fakeJobMaintenance returns its configured count once per operation, then
// zero, simulating a single batch draining a small backlog.
type fakeJobMaintenance struct {
	stalePendingCalls, expireCalls, deleteJobsCalls, deleteResultsCalls int
	stalePendingCount, expireCount, deleteJobsCount, deleteResultsCount int64
	err                                                                 error
}

func (f *fakeJobMaintenance) FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batch int) (int64, error) {
	f.stalePendingCalls++
	if f.err != nil {
		return 0, f.err
	}
	if f.stalePendingCalls == 1 {
		return f.stalePendingCount, nil
	}
	return 0, nil
}

func (f *fakeJobMaintenance) ExpireLeases(ctx context.Context, batch int) (int64, error) {
	f.expireCalls++
	if f.err != nil {
		return 0, f.err
	}
	if f.expireCalls == 1 {
		return f.expireCount, nil
	}
	return 0, nil
}

func (f *fakeJobMaintenance) DeleteOldJobs(ctx context.Context, olderThan time.Duration, batch int) (int64, error) {
	f.deleteJobsCalls++
	if f.err != nil {
		return 0, f.err
	}
	if f.deleteJobsCalls == 1 {
		return f.deleteJobsCount, nil
	}
	return 0, nil
}

func (f *fakeJobMaintenance) DeleteOldJobResults(ctx context.Context, olderThan time.Duration, batch int) (int64, error) {
	f.deleteResultsCalls++
	if f.err != nil {
		return 0, f.err
	}
	if f.deleteResultsCalls == 1 {
		return f.deleteResultsCount, nil
	}
	return 0, nil
}

type fakeSeenStringMaintenance struct {
	purgeCalls int
	purgeCount int64
	lastBatch  int
	err        error
}

func (f *fakeSeenStringMaintenance) PurgeOlderThan(ctx context.Context, retention time.Duration, batch int) (int64, error) {
	f.purgeCalls++
	f.lastBatch = batch
	if f.err != nil {
		return 0, f.err
	}
	if f.purgeCalls == 1 {
		return f.purgeCount, nil
	}
	return 0, nil
}

func TestHourlyHandler_DrainsBothOperations(t *testing.T) {
	jobs := &fakeJobMaintenance{stalePendingCount: 4, expireCount: 2}
	h := &HourlyHandler{Jobs: jobs, Config: config.ReaperConfig{BatchSize: 50}}

	require.NoError(t, h.Handle(context.Background(), &model.Job{}))

	assert.Equal(t, 2, jobs.stalePendingCalls, "drains until a zero-count batch")
	assert.Equal(t, 2, jobs.expireCalls)
}

func TestHourlyHandler_PropagatesError(t *testing.T) {
	jobs := &fakeJobMaintenance{err: errors.New("db unavailable")}
	h := &HourlyHandler{Jobs: jobs, Config: config.ReaperConfig{BatchSize: 50}}

	require.Error(t, h.Handle(context.Background(), &model.Job{}))
}

func TestDailyHandler_DrainsBothOperations(t *testing.T) {
	jobs := &fakeJobMaintenance{deleteJobsCount: 7, deleteResultsCount: 3}
	h := &DailyHandler{Jobs: jobs, Config: config.ReaperConfig{BatchSize: 50}}

	require.NoError(t, h.Handle(context.Background(), &model.Job{}))

	assert.Equal(t, 2, jobs.deleteJobsCalls)
	assert.Equal(t, 2, jobs.deleteResultsCalls)
}

func TestDailyHandler_PropagatesError(t *testing.T) {
	jobs := &fakeJobMaintenance{err: errors.New("db unavailable")}
	h := &DailyHandler{Jobs: jobs, Config: config.ReaperConfig{BatchSize: 50}}

	require.Error(t, h.Handle(context.Background(), &model.Job{}))
}

func TestSeenStringPurgeHandler_Drains(t *testing.T) {
	seen := &fakeSeenStringMaintenance{purgeCount: 10}
	h := &SeenStringPurgeHandler{SeenStrings: seen, Retention: 24 * time.Hour, BatchSize: 100}

	require.NoError(t, h.Handle(context.Background(), &model.Job{}))

	assert.Equal(t, 2, seen.purgeCalls)
}

func TestSeenStringPurgeHandler_DefaultsBatchSize(t *testing.T) {
	seen := &fakeSeenStringMaintenance{}
	h := &SeenStringPurgeHandler{SeenStrings: seen, Retention: 24 * time.Hour}

	require.NoError(t, h.Handle(context.Background(), &model.Job{}))

	assert.Equal(t, 1, seen.purgeCalls)
	assert.Equal(t, 1000, seen.lastBatch)
}

func TestSeenStringPurgeHandler_PropagatesError(t *testing.T) {
	seen := &fakeSeenStringMaintenance{err: errors.New("db unavailable")}
	h := &SeenStringPurgeHandler{SeenStrings: seen, Retention: 24 * time.Hour, BatchSize: 100}

	require.Error(t, h.Handle(context.Background(), &model.Job{}))
}

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
	"github.com/merrymaker/scanner/internal/testutil"
)

func newTestStore(pool *pgxpool.Pool) *JobStore {
	return NewJobStore(pool, 0, 0)
}

func TestJobStore_CreateIsIdempotent(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := newTestStore(pool)
		ctx := context.Background()

		first, created, err := store.Create(ctx, model.TaskScan, []byte(`{"site":1}`), model.CreateOptions{IdempotencyKey: "k1"})
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := store.Create(ctx, model.TaskScan, []byte(`{"site":2}`), model.CreateOptions{IdempotencyKey: "k1"})
		require.ErrorIs(t, err, model.ErrIdempotencyConflict)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestJobStore_CreateAllowsReuseAfterTerminal(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := newTestStore(pool)
		ctx := context.Background()

		job, _, err := store.Create(ctx, model.TaskScan, []byte(`{}`), model.CreateOptions{IdempotencyKey: "k2", MaxAttempts: 1})
		require.NoError(t, err)

		_, err = store.ReserveNext(ctx, []string{model.TaskScan}, "worker-a", time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.Complete(ctx, job.ID, "worker-a", nil))

		_, created, err := store.Create(ctx, model.TaskScan, []byte(`{}`), model.CreateOptions{IdempotencyKey: "k2"})
		require.NoError(t, err)
		assert.True(t, created, "a completed job's idempotency key must be reusable")
	})
}

func TestJobStore_ReserveNextIsFIFOAndExclusive(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := newTestStore(pool)
		ctx := context.Background()

		first, _, err := store.Create(ctx, model.TaskRuleJob, []byte(`{"n":1}`), model.CreateOptions{})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		second, _, err := store.Create(ctx, model.TaskRuleJob, []byte(`{"n":2}`), model.CreateOptions{})
		require.NoError(t, err)

		reserved1, err := store.ReserveNext(ctx, []string{model.TaskRuleJob}, "worker-a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, first.ID, reserved1.ID)
		assert.Equal(t, model.JobStateActive, reserved1.State)
		assert.Equal(t, 1, reserved1.Attempts)

		reserved2, err := store.ReserveNext(ctx, []string{model.TaskRuleJob}, "worker-b", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, second.ID, reserved2.ID)

		_, err = store.ReserveNext(ctx, []string{model.TaskRuleJob}, "worker-c", time.Minute)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobStore_HeartbeatFailsWhenLeaseNotHeld(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := newTestStore(pool)
		ctx := context.Background()

		job, _, err := store.Create(ctx, model.TaskScan, []byte(`{}`), model.CreateOptions{})
		require.NoError(t, err)
		_, err = store.ReserveNext(ctx, []string{model.TaskScan}, "worker-a", time.Minute)
		require.NoError(t, err)

		err = store.Heartbeat(ctx, job.ID, "worker-b", time.Now().Add(time.Minute))
		require.Error(t, err)
		assert.True(t, mmerrors.IsLeaseLost(err))

		require.NoError(t, store.Heartbeat(ctx, job.ID, "worker-a", time.Now().Add(2*time.Minute)))
	})
}

func TestJobStore_FailRetriesThenTerminates(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := NewJobStore(pool, time.Millisecond, time.Second)
		ctx := context.Background()

		job, _, err := store.Create(ctx, model.TaskScan, []byte(`{}`), model.CreateOptions{MaxAttempts: 2})
		require.NoError(t, err)

		_, err = store.ReserveNext(ctx, []string{model.TaskScan}, "worker-a", time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.Fail(ctx, job.ID, "worker-a", "boom", true))

		requeued, err := store.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatePending, requeued.State)
		assert.Equal(t, 1, requeued.Attempts)

		time.Sleep(10 * time.Millisecond)
		_, err = store.ReserveNext(ctx, []string{model.TaskScan}, "worker-b", time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.Fail(ctx, job.ID, "worker-b", "boom again", true))

		final, err := store.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStateFailed, final.State, "attempts reached max_attempts, job must terminate")
		require.NotNil(t, final.FailedReason)
		assert.Equal(t, "boom again", *final.FailedReason)
	})
}

func TestJobStore_StatsAndJobStates(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := newTestStore(pool)
		ctx := context.Background()

		_, _, err := store.Create(ctx, model.TaskAlertDispatch, []byte(`{}`), model.CreateOptions{})
		require.NoError(t, err)
		_, _, err = store.Create(ctx, model.TaskAlertDispatch, []byte(`{}`), model.CreateOptions{})
		require.NoError(t, err)

		stats, err := store.Stats(ctx, model.TaskAlertDispatch)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Pending)

		states, err := store.JobStates(ctx, model.TaskAlertDispatch)
		require.NoError(t, err)
		assert.Equal(t, int64(2), states[model.JobStatePending])
	})
}

func TestJobStore_ExpireLeasesRequeuesOrExpires(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := NewJobStore(pool, time.Millisecond, time.Second)
		ctx := context.Background()

		retryable, _, err := store.Create(ctx, model.TaskScan, []byte(`{}`), model.CreateOptions{MaxAttempts: 3})
		require.NoError(t, err)
		exhausted, _, err := store.Create(ctx, model.TaskScan, []byte(`{}`), model.CreateOptions{MaxAttempts: 1})
		require.NoError(t, err)

		_, err = store.ReserveNext(ctx, []string{model.TaskScan}, "worker-a", time.Millisecond)
		require.NoError(t, err)
		_, err = store.ReserveNext(ctx, []string{model.TaskScan}, "worker-a", time.Millisecond)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		n, err := store.ExpireLeases(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		got, err := store.GetByID(ctx, retryable.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatePending, got.State)

		got, err = store.GetByID(ctx, exhausted.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStateExpired, got.State)
	})
}

func TestJobStore_FailStalePendingJobs(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := newTestStore(pool)
		ctx := context.Background()

		job, _, err := store.Create(ctx, model.TaskScan, []byte(`{}`), model.CreateOptions{})
		require.NoError(t, err)

		n, err := store.FailStalePendingJobs(ctx, -time.Hour, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := store.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStateFailed, got.State)
		require.NotNil(t, got.FailedReason)
		assert.Equal(t, "stale-pending", *got.FailedReason)
	})
}

func TestJobStore_WaitForNotificationUnblocksOnCreate(t *testing.T) {
	testutil.WithTestDB(t, func(pool *pgxpool.Pool) {
		store := newTestStore(pool)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- store.WaitForNotification(ctx, model.TaskPurgeDaily)
		}()

		time.Sleep(50 * time.Millisecond)
		_, _, err := store.Create(context.Background(), model.TaskPurgeDaily, []byte(`{}`), model.CreateOptions{})
		require.NoError(t, err)

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(4 * time.Second):
			t.Fatal("WaitForNotification did not unblock after Create")
		}
	})
}

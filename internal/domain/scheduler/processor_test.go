package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merrymaker/scanner/internal/domain/model"
	"github.com/merrymaker/scanner/internal/domain/scheduler"
)

type stubTaskStore struct {
	markResults  []bool
	markErrors   []error
	markParams   []model.MarkQueuedParams
	updateParams []model.UpdateActiveFireKeyParams
	updateErr    error
}

func (s *stubTaskStore) MarkQueued(ctx context.Context, params model.MarkQueuedParams) (bool, error) {
	s.markParams = append(s.markParams, params)
	var result bool
	if len(s.markResults) > 0 {
		result, s.markResults = s.markResults[0], s.markResults[1:]
	}
	var err error
	if len(s.markErrors) > 0 {
		err, s.markErrors = s.markErrors[0], s.markErrors[1:]
	}
	return result, err
}

func (s *stubTaskStore) UpdateActiveFireKey(ctx context.Context, params model.UpdateActiveFireKeyParams) error {
	s.updateParams = append(s.updateParams, params)
	return s.updateErr
}

type stubJobStateReader struct {
	snapshot model.JobStateSnapshot
	err      error
}

func (s *stubJobStateReader) JobStatesByTaskName(ctx context.Context, taskName string, now time.Time) (model.JobStateSnapshot, error) {
	return s.snapshot, s.err
}

type stubJobEnqueuer struct {
	created bool
	err     error
	calls   []string
}

func (s *stubJobEnqueuer) Enqueue(ctx context.Context, task model.ScheduledTask, fireKey string) (bool, error) {
	s.calls = append(s.calls, fireKey)
	return s.created, s.err
}

func dueTask() model.ScheduledTask {
	return model.ScheduledTask{ID: "task-1", TaskName: "purge-daily", Interval: time.Minute, Enabled: true}
}

func TestTaskProcessor_NotDueWhenDisabled(t *testing.T) {
	task := dueTask()
	task.Enabled = false

	processor := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{StateReader: &stubJobStateReader{}})
	result, err := processor.Process(context.Background(), scheduler.ProcessParams{
		Task: task, Now: time.Now(), Store: &stubTaskStore{},
	})
	require.NoError(t, err)
	assert.False(t, result.Worked)
}

func TestTaskProcessor_NotDueBeforeInterval(t *testing.T) {
	now := time.Now()
	last := now.Add(-30 * time.Second)
	task := dueTask()
	task.LastQueuedAt = &last

	processor := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{StateReader: &stubJobStateReader{}})
	result, err := processor.Process(context.Background(), scheduler.ProcessParams{
		Task: task, Now: now, Store: &stubTaskStore{},
	})
	require.NoError(t, err)
	assert.False(t, result.Worked)
}

func TestTaskProcessor_SkipPolicyBlockedByActiveJob(t *testing.T) {
	task := dueTask()
	reader := &stubJobStateReader{snapshot: model.JobStateSnapshot{HasActive: true}}
	store := &stubTaskStore{markResults: []bool{true}}
	enqueuer := &stubJobEnqueuer{created: true}

	processor := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{StateReader: reader})
	result, err := processor.Process(context.Background(), scheduler.ProcessParams{
		Task: task, Now: time.Now(), Store: store, Enqueuer: enqueuer,
	})
	require.NoError(t, err)
	assert.True(t, result.MarkedQueued, "skip policy still advances last_queued_at")
	assert.False(t, result.Enqueued)
	assert.Empty(t, enqueuer.calls)
}

func TestTaskProcessor_SkipPolicyEnqueuesWhenClear(t *testing.T) {
	task := dueTask()
	reader := &stubJobStateReader{}
	store := &stubTaskStore{markResults: []bool{true}}
	enqueuer := &stubJobEnqueuer{created: true}

	processor := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{StateReader: reader})
	result, err := processor.Process(context.Background(), scheduler.ProcessParams{
		Task: task, Now: time.Now(), Store: store, Enqueuer: enqueuer,
	})
	require.NoError(t, err)
	assert.True(t, result.Enqueued)
	require.Len(t, enqueuer.calls, 1)
	require.Len(t, store.updateParams, 1)
	assert.Equal(t, enqueuer.calls[0], *store.updateParams[0].FireKey)
}

func TestTaskProcessor_SkipPolicyDoesNotDoubleEnqueueSameFireKey(t *testing.T) {
	now := time.Now()
	fireKey := scheduler.ComputeFireKey(dueTask(), now)
	task := dueTask()
	task.ActiveFireKey = &fireKey

	reader := &stubJobStateReader{}
	store := &stubTaskStore{markResults: []bool{true}}
	enqueuer := &stubJobEnqueuer{created: true}

	processor := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{StateReader: reader})
	result, err := processor.Process(context.Background(), scheduler.ProcessParams{
		Task: task, Now: now, Store: store, Enqueuer: enqueuer,
	})
	require.NoError(t, err)
	assert.False(t, result.Enqueued)
	assert.Empty(t, enqueuer.calls)
}

func TestTaskProcessor_QueuePolicyAlwaysEnqueues(t *testing.T) {
	policy := model.OverrunPolicyQueue
	task := dueTask()
	task.OverrunPolicy = &policy

	reader := &stubJobStateReader{snapshot: model.JobStateSnapshot{HasActive: true}}
	store := &stubTaskStore{}
	enqueuer := &stubJobEnqueuer{created: true}

	processor := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{StateReader: reader})
	result, err := processor.Process(context.Background(), scheduler.ProcessParams{
		Task: task, Now: time.Now(), Store: store, Enqueuer: enqueuer,
	})
	require.NoError(t, err)
	assert.True(t, result.Enqueued)
	require.Len(t, store.markParams, 1, "queue policy skips the pre-enqueue mark, only records after enqueue")
	require.NotNil(t, store.markParams[0].ActiveFireKey)
}

func TestTaskProcessor_ReschedulePolicyNeverEnqueues(t *testing.T) {
	policy := model.OverrunPolicyReschedule
	task := dueTask()
	task.OverrunPolicy = &policy

	store := &stubTaskStore{markResults: []bool{true}}
	enqueuer := &stubJobEnqueuer{created: true}

	processor := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{StateReader: &stubJobStateReader{}})
	result, err := processor.Process(context.Background(), scheduler.ProcessParams{
		Task: task, Now: time.Now(), Store: store, Enqueuer: enqueuer,
	})
	require.NoError(t, err)
	assert.True(t, result.MarkedQueued)
	assert.False(t, result.ShouldEnqueue)
	assert.Empty(t, enqueuer.calls)
}

func TestComputeFireKey_IsStableWithinAnInterval(t *testing.T) {
	task := dueTask()
	now := time.Unix(1_700_000_040, 0) // start of a one-minute slot
	k1 := scheduler.ComputeFireKey(task, now)
	k2 := scheduler.ComputeFireKey(task, now.Add(5*time.Second))
	assert.Equal(t, k1, k2)

	k3 := scheduler.ComputeFireKey(task, now.Add(time.Minute))
	assert.NotEqual(t, k1, k3)
}

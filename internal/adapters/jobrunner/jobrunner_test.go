package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merrymaker/scanner/internal/domain/model"
	mmerrors "github.com/merrymaker/scanner/internal/errors"
)

type fakeStore struct {
	mu          sync.Mutex
	jobs        []*model.Job
	completed   []string
	failed      []failCall
	heartbeats  int
	notifyCh    chan struct{}
}

type failCall struct {
	jobID  string
	reason string
	retry  bool
}

func newFakeStore(jobs ...*model.Job) *fakeStore {
	return &fakeStore{jobs: jobs, notifyCh: make(chan struct{})}
}

func (f *fakeStore) Create(ctx context.Context, taskName string, payload []byte, opts model.CreateOptions) (*model.Job, bool, error) {
	return nil, false, nil
}

func (f *fakeStore) ReserveNext(ctx context.Context, taskNames []string, workerID string, lease time.Duration) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return nil, model.ErrNoJobsAvailable
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

func (f *fakeStore) WaitForNotification(ctx context.Context, taskName string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.notifyCh:
		return nil
	}
}

func (f *fakeStore) Heartbeat(ctx context.Context, jobID, workerID string, newLeaseUntil time.Time) error {
	f.mu.Lock()
	f.heartbeats++
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Complete(ctx context.Context, jobID, workerID string, result *model.JobResult) error {
	f.mu.Lock()
	f.completed = append(f.completed, jobID)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Fail(ctx context.Context, jobID, workerID, reason string, retry bool) error {
	f.mu.Lock()
	f.failed = append(f.failed, failCall{jobID: jobID, reason: reason, retry: retry})
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, jobID string) (*model.Job, error) { return nil, nil }
func (f *fakeStore) JobStates(ctx context.Context, taskName string) (map[model.JobState]int64, error) {
	return nil, nil
}
func (f *fakeStore) Stats(ctx context.Context, taskName string) (model.JobStats, error) {
	return model.JobStats{}, nil
}

func TestRunner_CompletesSuccessfulJob(t *testing.T) {
	job := &model.Job{ID: "j1", TaskName: model.TaskScan, Payload: json.RawMessage(`{}`)}
	store := newFakeStore(job)

	handlerCalled := make(chan struct{}, 1)
	runner, err := NewRunner(RunnerOptions{
		Store:     store,
		TaskNames: []string{model.TaskScan},
		Handlers: map[string]HandlerFunc{
			model.TaskScan: func(ctx context.Context, j *model.Job) error {
				handlerCalled <- struct{}{}
				return nil
			},
		},
		Lease: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = runner.Run(ctx) }()

	select {
	case <-handlerCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	time.Sleep(20 * time.Millisecond)
	cancel()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []string{"j1"}, store.completed)
	assert.Empty(t, store.failed)
}

func TestRunner_FailsJobOnHandlerError(t *testing.T) {
	job := &model.Job{ID: "j2", TaskName: model.TaskRuleJob, Payload: json.RawMessage(`{}`)}
	store := newFakeStore(job)

	runner, err := NewRunner(RunnerOptions{
		Store:     store,
		TaskNames: []string{model.TaskRuleJob},
		Handlers: map[string]HandlerFunc{
			model.TaskRuleJob: func(ctx context.Context, j *model.Job) error {
				return mmerrors.Transient(errors.New("boom"), "downstream unavailable")
			},
		},
		Lease: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = runner.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.failed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	assert.True(t, store.failed[0].retry, "transient errors must be retried")
	store.mu.Unlock()
}

func TestNewRunner_RequiresHandlerForEveryTaskName(t *testing.T) {
	_, err := NewRunner(RunnerOptions{
		Store:     newFakeStore(),
		TaskNames: []string{model.TaskScan},
		Handlers:  map[string]HandlerFunc{},
	})
	require.Error(t, err)
}

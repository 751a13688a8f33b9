package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/internal/artifact"
	"github.com/kiranshivaraju/automl/internal/jobs"
	"github.com/kiranshivaraju/automl/internal/queue"
	"github.com/kiranshivaraju/automl/internal/store"
	"github.com/kiranshivaraju/automl/internal/trainer"
	"github.com/kiranshivaraju/automl/internal/worker"
	"github.com/kiranshivaraju/automl/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type stubRunner struct {
	err   error
	tasks []jobs.Task
}

func (r *stubRunner) Run(_ context.Context, task jobs.Task) error {
	r.tasks = append(r.tasks, task)
	return r.err
}

type mockPublisher struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

func (p *mockPublisher) Enqueue(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

// clock is a settable time source shared by the store and the reaper.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

const leaseTTL = time.Minute

// racingStore lets a test act on jobs between the reaper listing them and
// acting on them, the way a live worker would.
type racingStore struct {
	*store.MemoryStore
	onExpired func(*models.Job)
	onStale   func(*models.Job)
}

func (s *racingStore) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	list, err := s.MemoryStore.ListExpiredLeases(ctx, now, limit)
	if err == nil && s.onExpired != nil {
		for _, j := range list {
			s.onExpired(j)
		}
	}
	return list, err
}

func (s *racingStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*models.Job, error) {
	list, err := s.MemoryStore.ListStalePending(ctx, olderThan, limit)
	if err == nil && s.onStale != nil {
		for _, j := range list {
			s.onStale(j)
		}
	}
	return list, err
}

func newReaper(st store.Store, pub queue.Publisher, c *clock) *worker.Reaper {
	return worker.NewReaper(st, pub, worker.ReaperConfig{
		Interval:      time.Second,
		MaxAttempts:   3,
		PendingAfter:  2 * time.Minute,
		Grace:         leaseTTL,
		MaxPendingAge: 30 * time.Minute,
	}, worker.WithClock(c.Now))
}

// --- Worker.Handle ---

func TestHandle_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		requeue bool
	}{
		{"completed", nil, false},
		{"execution failure", &jobs.ExecutionFailure{JobID: uuid.New(), Stage: "Training model", Err: errors.New("boom")}, false},
		{"already claimed", jobs.ErrAlreadyClaimed, false},
		{"interrupted", jobs.ErrInterrupted, true},
		{"transient", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubRunner{err: tt.err}
			msg := queue.Message{JobID: uuid.New(), Prompt: "Predict sales"}

			err := worker.New(r).Handle(context.Background(), msg)

			require.Len(t, r.tasks, 1)
			assert.Equal(t, jobs.Task{JobID: msg.JobID, Prompt: msg.Prompt}, r.tasks[0])
			if tt.requeue {
				assert.ErrorIs(t, err, queue.ErrRequeue)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHandle_RunsJobEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	job, err := st.CreateJob(ctx, uuid.New(), "Classify emails as spam")
	require.NoError(t, err)

	runner := jobs.NewRunner(st, trainer.NewMockTrainer(7), artifact.NewStaticStore("http://localhost:8000"),
		jobs.RunnerConfig{WorkerID: "w1", LeaseTTL: leaseTTL})
	w := worker.New(runner)
	msg := queue.Message{JobID: job.ID, Prompt: job.Prompt}

	require.NoError(t, w.Handle(ctx, msg))
	// Redelivery of the same message is acked without rerunning.
	require.NoError(t, w.Handle(ctx, msg))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

// --- Reaper ---

func TestSweep_RequeuesExpiredLease(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	st := store.NewMemoryStore()
	st.SetClock(c.Now)
	pub := &mockPublisher{}
	reaper := newReaper(st, pub, c)

	job, err := st.CreateJob(ctx, uuid.New(), "Predict sales")
	require.NoError(t, err)
	_, err = st.ClaimJob(ctx, job.ID, "w1", leaseTTL)
	require.NoError(t, err)

	// Lease still live.
	stats, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.SweepStats{}, stats)

	c.Advance(leaseTTL + time.Second)
	stats, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.SweepStats{Requeued: 1}, stats)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, queue.Message{JobID: job.ID, Prompt: job.Prompt}, pub.messages[0])

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Nil(t, got.LeaseOwner)
	assert.Equal(t, "Worker lost, requeueing (attempt 1 of 3)", got.Logs[len(got.Logs)-1].Message)

	// The grace period keeps the next sweep from publishing again.
	stats, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.SweepStats{}, stats)
	assert.Len(t, pub.messages, 1)

	// The original worker can no longer write.
	_, err = st.UpdateJob(ctx, job.ID, store.WithProgress(10), store.WithLeaseOwner("w1"))
	assert.ErrorIs(t, err, store.ErrLeaseLost)
}

func TestSweep_FailsJobAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	st := store.NewMemoryStore()
	st.SetClock(c.Now)
	pub := &mockPublisher{}
	reaper := newReaper(st, pub, c)

	job, err := st.CreateJob(ctx, uuid.New(), "Predict sales")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = st.ClaimJob(ctx, job.ID, "w1", leaseTTL)
		require.NoError(t, err)
		c.Advance(leaseTTL + time.Second)
		if i < 2 {
			_, err = reaper.Sweep(ctx)
			require.NoError(t, err)
			c.Advance(leaseTTL + time.Second)
		}
	}

	stats, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Requeued)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "lease expired after 3 attempts", *got.ErrorMessage)
	assert.Nil(t, got.LeaseOwner)
	assert.Len(t, pub.messages, 2)
}

func TestSweep_RedeliversStalePending(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	st := store.NewMemoryStore()
	st.SetClock(c.Now)
	pub := &mockPublisher{}
	reaper := newReaper(st, pub, c)

	stale, err := st.CreateJob(ctx, uuid.New(), "Segment customers")
	require.NoError(t, err)
	c.Advance(3 * time.Minute)
	fresh, err := st.CreateJob(ctx, uuid.New(), "Segment stores")
	require.NoError(t, err)

	stats, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.SweepStats{Redelivered: 1}, stats)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, stale.ID, pub.messages[0].JobID)

	got, err := st.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)

	// Redelivery resets the clock on the stale job.
	stats, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.SweepStats{}, stats)

	c.Advance(3 * time.Minute)
	stats, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Redelivered)
	assert.ElementsMatch(t, []uuid.UUID{stale.ID, fresh.ID}, []uuid.UUID{pub.messages[1].JobID, pub.messages[2].JobID})
}

func TestSweep_FailsPendingJobNeverPickedUp(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	st := store.NewMemoryStore()
	st.SetClock(c.Now)
	pub := &mockPublisher{}
	reaper := newReaper(st, pub, c)

	old, err := st.CreateJob(ctx, uuid.New(), "Segment customers")
	require.NoError(t, err)
	c.Advance(29 * time.Minute)
	young, err := st.CreateJob(ctx, uuid.New(), "Segment stores")
	require.NoError(t, err)
	c.Advance(3 * time.Minute)

	stats, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.SweepStats{Failed: 1, Redelivered: 1}, stats)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, young.ID, pub.messages[0].JobID)

	got, err := st.GetJob(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Zero(t, got.Attempts)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "job was not picked up within 30m0s", *got.ErrorMessage)
	assert.Equal(t, "Error: job was not picked up within 30m0s", got.Logs[len(got.Logs)-1].Message)

	// Failed jobs drop out of later sweeps.
	c.Advance(3 * time.Minute)
	stats, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.SweepStats{Redelivered: 1}, stats)
}

func TestSweep_LeavesLeaseRenewedAfterListing(t *testing.T) {
	for _, maxAttempts := range []int{1, 3} {
		t.Run(fmt.Sprintf("max_attempts=%d", maxAttempts), func(t *testing.T) {
			ctx := context.Background()
			c := newClock()
			st := &racingStore{MemoryStore: store.NewMemoryStore()}
			st.SetClock(c.Now)
			pub := &mockPublisher{}
			reaper := worker.NewReaper(st, pub, worker.ReaperConfig{
				Interval:     time.Second,
				MaxAttempts:  maxAttempts,
				PendingAfter: 2 * time.Minute,
				Grace:        leaseTTL,
			}, worker.WithClock(c.Now))

			job, err := st.CreateJob(ctx, uuid.New(), "Predict sales")
			require.NoError(t, err)
			_, err = st.ClaimJob(ctx, job.ID, "w1", leaseTTL)
			require.NoError(t, err)
			c.Advance(leaseTTL + time.Second)

			// The slow worker checks in right after the reaper lists it.
			st.onExpired = func(j *models.Job) {
				_, err := st.UpdateJob(ctx, j.ID, store.WithProgress(10), store.WithLeaseRenewal("w1", leaseTTL))
				require.NoError(t, err)
			}

			stats, err := reaper.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, worker.SweepStats{}, stats)
			assert.Empty(t, pub.messages)

			got, err := st.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusRunning, got.Status)
			require.NotNil(t, got.LeaseOwner)
			assert.Equal(t, "w1", *got.LeaseOwner)

			_, err = st.UpdateJob(ctx, job.ID, store.WithProgress(25), store.WithLeaseOwner("w1"))
			assert.NoError(t, err)
		})
	}
}

func TestSweep_LeavesPendingJobClaimedAfterListing(t *testing.T) {
	for _, age := range []time.Duration{3 * time.Minute, 31 * time.Minute} {
		t.Run(age.String(), func(t *testing.T) {
			ctx := context.Background()
			c := newClock()
			st := &racingStore{MemoryStore: store.NewMemoryStore()}
			st.SetClock(c.Now)
			pub := &mockPublisher{}
			reaper := newReaper(st, pub, c)

			job, err := st.CreateJob(ctx, uuid.New(), "Segment customers")
			require.NoError(t, err)
			c.Advance(age)

			st.onStale = func(j *models.Job) {
				_, err := st.ClaimJob(ctx, j.ID, "w1", leaseTTL)
				require.NoError(t, err)
			}

			stats, err := reaper.Sweep(ctx)
			require.NoError(t, err)
			assert.Equal(t, worker.SweepStats{}, stats)
			assert.Empty(t, pub.messages)

			got, err := st.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusRunning, got.Status)
			require.NotNil(t, got.LeaseOwner)
			assert.Equal(t, "w1", *got.LeaseOwner)
			assert.Nil(t, got.ErrorMessage)
		})
	}
}

func TestSweep_PublishFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	st := store.NewMemoryStore()
	st.SetClock(c.Now)
	pub := &mockPublisher{err: errors.New("broker down")}
	reaper := newReaper(st, pub, c)

	job, err := st.CreateJob(ctx, uuid.New(), "Predict sales")
	require.NoError(t, err)
	c.Advance(3 * time.Minute)

	stats, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Redelivered)

	pub.err = nil
	c.Advance(3 * time.Minute)
	stats, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Redelivered)
	assert.Equal(t, job.ID, pub.messages[0].JobID)
}

func TestSweep_RequeuedJobResumesAndCompletes(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	st := store.NewMemoryStore()
	st.SetClock(c.Now)
	pub := &mockPublisher{}
	reaper := newReaper(st, pub, c)

	job, err := st.CreateJob(ctx, uuid.New(), "Forecast demand")
	require.NoError(t, err)
	_, err = st.ClaimJob(ctx, job.ID, "crashed", leaseTTL)
	require.NoError(t, err)
	_, err = st.UpdateJob(ctx, job.ID, store.WithProgress(25), store.WithLeaseOwner("crashed"))
	require.NoError(t, err)

	c.Advance(leaseTTL + time.Second)
	_, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)

	runner := jobs.NewRunner(st, trainer.NewMockTrainer(3), artifact.NewStaticStore("http://localhost:8000"),
		jobs.RunnerConfig{WorkerID: "w2", LeaseTTL: leaseTTL})
	require.NoError(t, worker.New(runner).Handle(ctx, pub.messages[0]))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	st := store.NewMemoryStore()
	reaper := worker.NewReaper(st, &mockPublisher{}, worker.ReaperConfig{
		Interval:     10 * time.Millisecond,
		MaxAttempts:  3,
		PendingAfter: time.Minute,
		Grace:        time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}

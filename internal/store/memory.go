package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/pkg/models"
)

// MemoryStore is an in-process Store with the same semantics as PostgresStore.
// It backs unit tests and single-process development runs.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*models.User
	jobs    map[uuid.UUID]*models.Job
	results map[uuid.UUID]*models.JobResult
	seq     map[uuid.UUID]int
	next    int
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[uuid.UUID]*models.User),
		jobs:    make(map[uuid.UUID]*models.Job),
		results: make(map[uuid.UUID]*models.JobResult),
		seq:     make(map[uuid.UUID]int),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store's time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	c.Logs = append([]models.LogEntry{}, j.Logs...)
	return &c
}

func cloneResult(r *models.JobResult) *models.JobResult {
	c := *r
	c.FeaturesUsed = append([]string(nil), r.FeaturesUsed...)
	c.FeatureImportance = append([]models.FeatureImportance(nil), r.FeatureImportance...)
	c.PredictionsSample = append([]models.PredictionSample(nil), r.PredictionsSample...)
	if r.Metrics.ConfusionMatrix != nil {
		c.Metrics.ConfusionMatrix = make([][]int, len(r.Metrics.ConfusionMatrix))
		for i, row := range r.Metrics.ConfusionMatrix {
			c.Metrics.ConfusionMatrix[i] = append([]int(nil), row...)
		}
	}
	return &c
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateKey
		}
	}
	now := s.now()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *MemoryStore) CreateJob(_ context.Context, userID uuid.UUID, prompt string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job := &models.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Prompt:    prompt,
		Status:    models.JobStatusPending,
		Logs:      []models.LogEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	s.next++
	s.seq[job.ID] = s.next
	return cloneJob(job), nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) GetJobForOwner(_ context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

// selectJobs returns clones of matching jobs sorted by less.
func (s *MemoryStore) selectJobs(match func(*models.Job) bool, less func(a, b *models.Job) bool) []*models.Job {
	out := []*models.Job{}
	for _, j := range s.jobs {
		if match(j) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return less(out[i], out[k]) })
	return out
}

func page(jobs []*models.Job, offset, limit int) []*models.Job {
	if offset >= len(jobs) {
		return []*models.Job{}
	}
	jobs = jobs[offset:]
	if limit >= 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}

func (s *MemoryStore) ListJobs(_ context.Context, userID uuid.UUID, offset, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.selectJobs(
		func(j *models.Job) bool { return j.UserID == userID },
		func(a, b *models.Job) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return s.seq[a.ID] > s.seq[b.ID]
		})
	return page(jobs, offset, limit), nil
}

func (s *MemoryStore) ListExpiredLeases(_ context.Context, now time.Time, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.selectJobs(
		func(j *models.Job) bool {
			return j.Status == models.JobStatusRunning &&
				(j.LeaseExpiresAt == nil || j.LeaseExpiresAt.Before(now))
		},
		func(a, b *models.Job) bool {
			if a.LeaseExpiresAt == nil || b.LeaseExpiresAt == nil {
				return a.LeaseExpiresAt == nil && b.LeaseExpiresAt != nil
			}
			return a.LeaseExpiresAt.Before(*b.LeaseExpiresAt)
		})
	return page(jobs, 0, limit), nil
}

func (s *MemoryStore) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.selectJobs(
		func(j *models.Job) bool {
			return j.Status == models.JobStatusPending && j.UpdatedAt.Before(olderThan)
		},
		func(a, b *models.Job) bool { return a.UpdatedAt.Before(b.UpdatedAt) })
	return page(jobs, 0, limit), nil
}

// mutateJob applies fn to a copy of the job and stores it only if fn succeeds.
func (s *MemoryStore) mutateJob(id uuid.UUID, fn func(*models.Job, time.Time) error) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneJob(j)
	if err := fn(next, s.now()); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return cloneJob(next), nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.Job, error) {
	u := BuildJobUpdate(opts...)
	return s.mutateJob(id, func(job *models.Job, now time.Time) error {
		return ApplyJobUpdate(job, u, now)
	})
}

func (s *MemoryStore) ClaimJob(_ context.Context, id uuid.UUID, owner string, ttl time.Duration) (*models.Job, error) {
	return s.mutateJob(id, func(job *models.Job, now time.Time) error {
		return ApplyClaim(job, owner, ttl, now)
	})
}

func (s *MemoryStore) ReleaseLease(_ context.Context, id uuid.UUID, owner string) error {
	_, err := s.mutateJob(id, func(job *models.Job, now time.Time) error {
		return ApplyRelease(job, owner, now)
	})
	return err
}

func (s *MemoryStore) RequeueJob(_ context.Context, id uuid.UUID, grace time.Duration, logLine string) (*models.Job, error) {
	return s.mutateJob(id, func(job *models.Job, now time.Time) error {
		return ApplyRequeue(job, grace, logLine, now)
	})
}

func (s *MemoryStore) CreateResult(_ context.Context, result *models.JobResult) (*models.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[result.JobID]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != models.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}
	if _, exists := s.results[job.ID]; exists {
		return nil, ErrResultExists
	}

	r := cloneResult(result)
	prepareResult(r, job.ID, s.now())
	s.results[job.ID] = r
	return cloneResult(r), nil
}

func (s *MemoryStore) GetResult(_ context.Context, jobID uuid.UUID) (*models.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneResult(r), nil
}

func (s *MemoryStore) CompleteJob(_ context.Context, id uuid.UUID, owner string, result *models.JobResult, summary string, logLines ...string) (*models.Job, *models.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	now := s.now()
	next := cloneJob(j)
	if err := ApplyCompletion(next, owner, summary, logLines, now); err != nil {
		return nil, nil, err
	}
	if _, exists := s.results[id]; exists {
		return nil, nil, ErrResultExists
	}

	r := cloneResult(result)
	prepareResult(r, id, now)
	s.jobs[id] = next
	s.results[id] = r
	return cloneJob(next), cloneResult(r), nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

var (
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrProgressRegression = errors.New("job progress cannot decrease")
	ErrInvalidProgress    = errors.New("job progress must be between 0 and 100")
	ErrJobFinished        = errors.New("job already reached a terminal state")
	ErrLeaseHeld          = errors.New("job lease held by another worker")
	ErrLeaseLost          = errors.New("job lease no longer owned by caller")
	ErrLeaseActive        = errors.New("job lease has not expired")
	ErrResultExists       = errors.New("job result already exists")
	ErrJobNotCompleted    = errors.New("job is not completed")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	CreateJob(ctx context.Context, userID uuid.UUID, prompt string) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// GetJobForOwner returns ErrNotFound for jobs owned by someone else.
	GetJobForOwner(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Job, error)
	// UpdateJob applies opts to the job under a row lock and returns the updated job.
	UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.Job, error)

	ClaimJob(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (*models.Job, error)
	ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error
	RequeueJob(ctx context.Context, id uuid.UUID, grace time.Duration, logLine string) (*models.Job, error)
	ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*models.Job, error)

	CreateResult(ctx context.Context, result *models.JobResult) (*models.JobResult, error)
	GetResult(ctx context.Context, jobID uuid.UUID) (*models.JobResult, error)
	// CompleteJob flips a running job to completed and inserts its result in one transaction.
	CompleteJob(ctx context.Context, id uuid.UUID, owner string, result *models.JobResult, summary string, logLines ...string) (*models.Job, *models.JobResult, error)
}

// JobUpdate is the set of changes UpdateJob applies. Nil fields are left untouched.
type JobUpdate struct {
	Status        *string
	Progress      *int
	Logs          []models.LogEntry
	ErrorMessage  *string
	ResultSummary *string
	// LeaseOwner, when set, must match the job's current lease owner.
	LeaseOwner string
	// LeaseTTL extends the lease from the time of the update.
	LeaseTTL time.Duration
	// Unleased rejects the update with ErrLeaseActive while a worker holds a live lease.
	Unleased bool
}

type JobUpdateOption func(*JobUpdate)

func WithStatus(status string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Status = &status
	}
}

func WithProgress(progress int) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Progress = &progress
	}
}

// WithLog appends a timestamped log line.
func WithLog(message string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Logs = append(u.Logs, models.NewLogEntry(message))
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorMessage = &msg
	}
}

func WithResultSummary(summary string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ResultSummary = &summary
	}
}

// WithLeaseOwner guards the update: it fails with ErrLeaseLost unless owner holds the lease.
func WithLeaseOwner(owner string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.LeaseOwner = owner
	}
}

// WithLeaseRenewal guards the update like WithLeaseOwner and pushes the lease expiry to now+ttl.
func WithLeaseRenewal(owner string, ttl time.Duration) JobUpdateOption {
	return func(u *JobUpdate) {
		u.LeaseOwner = owner
		u.LeaseTTL = ttl
	}
}

// WithoutLiveLease guards updates made on behalf of no worker, such as the
// reaper failing a job it found abandoned.
func WithoutLiveLease() JobUpdateOption {
	return func(u *JobUpdate) {
		u.Unleased = true
	}
}

// BuildJobUpdate collapses options into a JobUpdate.
func BuildJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// completed is reachable only through CompleteJob.
var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusFailed},
	models.JobStatusRunning: {models.JobStatusFailed},
}

func canTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func leaseLive(job *models.Job, now time.Time) bool {
	return job.Status == models.JobStatusRunning && job.LeaseOwner != nil &&
		job.LeaseExpiresAt != nil && job.LeaseExpiresAt.After(now)
}

func checkLease(job *models.Job, owner string) error {
	if job.LeaseOwner == nil || *job.LeaseOwner != owner {
		return ErrLeaseLost
	}
	return nil
}

// ApplyJobUpdate validates u against job and mutates job in place.
// Both store implementations run it while holding the job's lock.
func ApplyJobUpdate(job *models.Job, u JobUpdate, now time.Time) error {
	if job.IsTerminal() {
		return ErrJobFinished
	}
	if u.LeaseOwner != "" {
		if err := checkLease(job, u.LeaseOwner); err != nil {
			return err
		}
	}
	if u.Unleased && leaseLive(job, now) {
		return ErrLeaseActive
	}
	if u.Status != nil && *u.Status != job.Status && !canTransition(job.Status, *u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, *u.Status)
	}
	if u.Progress != nil {
		if *u.Progress < 0 || *u.Progress > 100 {
			return ErrInvalidProgress
		}
		if *u.Progress < job.Progress {
			return ErrProgressRegression
		}
		job.Progress = *u.Progress
	}
	if u.Status != nil {
		job.Status = *u.Status
	}
	job.Logs = append(job.Logs, u.Logs...)
	if u.ErrorMessage != nil {
		job.ErrorMessage = u.ErrorMessage
	}
	if u.ResultSummary != nil {
		job.ResultSummary = u.ResultSummary
	}

	switch {
	case job.IsTerminal():
		job.LeaseOwner = nil
		job.LeaseExpiresAt = nil
	case u.LeaseTTL > 0:
		expires := now.Add(u.LeaseTTL)
		job.LeaseExpiresAt = &expires
	}
	job.UpdatedAt = now
	return nil
}

// ApplyClaim hands the job's lease to owner. A pending job, or a running job whose
// lease expired or was released, can be claimed.
func ApplyClaim(job *models.Job, owner string, ttl time.Duration, now time.Time) error {
	if job.IsTerminal() {
		return ErrJobFinished
	}
	if leaseLive(job, now) {
		return ErrLeaseHeld
	}

	expires := now.Add(ttl)
	job.Status = models.JobStatusRunning
	job.LeaseOwner = &owner
	job.LeaseExpiresAt = &expires
	job.Attempts++
	job.UpdatedAt = now
	return nil
}

// ApplyRelease gives up owner's lease so the job can be reclaimed right away.
func ApplyRelease(job *models.Job, owner string, now time.Time) error {
	if job.IsTerminal() {
		return ErrJobFinished
	}
	if err := checkLease(job, owner); err != nil {
		return err
	}
	job.LeaseOwner = nil
	job.LeaseExpiresAt = &now
	job.UpdatedAt = now
	return nil
}

// ApplyRequeue drops an expired or released lease and holds the job back from
// the reaper for grace. A lease renewed since the caller looked is left alone.
func ApplyRequeue(job *models.Job, grace time.Duration, logLine string, now time.Time) error {
	if job.IsTerminal() {
		return ErrJobFinished
	}
	if leaseLive(job, now) {
		return ErrLeaseActive
	}
	if job.Status == models.JobStatusRunning {
		expires := now.Add(grace)
		job.LeaseOwner = nil
		job.LeaseExpiresAt = &expires
	}
	if logLine != "" {
		job.Logs = append(job.Logs, models.NewLogEntry(logLine))
	}
	job.UpdatedAt = now
	return nil
}

// ApplyCompletion flips a running job owned by owner to completed.
func ApplyCompletion(job *models.Job, owner, summary string, logLines []string, now time.Time) error {
	if job.IsTerminal() {
		return ErrJobFinished
	}
	if job.Status != models.JobStatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, models.JobStatusCompleted)
	}
	if err := checkLease(job, owner); err != nil {
		return err
	}

	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.ResultSummary = &summary
	for _, line := range logLines {
		job.Logs = append(job.Logs, models.NewLogEntry(line))
	}
	job.LeaseOwner = nil
	job.LeaseExpiresAt = nil
	job.UpdatedAt = now
	return nil
}

// prepareResult fills the server-assigned fields of a new result.
func prepareResult(result *models.JobResult, jobID uuid.UUID, now time.Time) {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	result.JobID = jobID
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
}

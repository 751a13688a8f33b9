package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/automl/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

const userColumns = `id, email, name, password_hash, avatar, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Avatar, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	now := s.now()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Avatar, user.IsActive, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, err
}

// --- Jobs ---

const jobColumns = `id, user_id, prompt, status, progress, logs, error_message, result_summary,
	attempts, lease_owner, lease_expires_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.Prompt, &j.Status, &j.Progress, &j.Logs, &j.ErrorMessage,
		&j.ResultSummary, &j.Attempts, &j.LeaseOwner, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if j.Logs == nil {
		j.Logs = []models.LogEntry{}
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CreateJob(ctx context.Context, userID uuid.UUID, prompt string) (*models.Job, error) {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompt_jobs (id, user_id, prompt, status, progress, logs, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, '[]'::jsonb, $5, $6)`,
		job.ID, job.UserID, job.Prompt, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return nil, fmt.Errorf("create job for user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM prompt_jobs WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, err
}

func (s *PostgresStore) GetJobForOwner(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM prompt_jobs WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, err
}

func (s *PostgresStore) ListJobs(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM prompt_jobs WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM prompt_jobs
		 WHERE status = 'running' AND (lease_expires_at IS NULL OR lease_expires_at < $1)
		 ORDER BY lease_expires_at ASC NULLS FIRST LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM prompt_jobs
		 WHERE status = 'pending' AND updated_at < $1
		 ORDER BY updated_at ASC LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	return jobs, nil
}

// lockJob reads the job row with FOR UPDATE inside tx.
func lockJob(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM prompt_jobs WHERE id = $1 FOR UPDATE`, id))
}

func writeJob(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	logs, err := json.Marshal(job.Logs)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE prompt_jobs SET status = $2, progress = $3, logs = $4, error_message = $5,
		   result_summary = $6, attempts = $7, lease_owner = $8, lease_expires_at = $9, updated_at = $10
		 WHERE id = $1`,
		job.ID, job.Status, job.Progress, logs, job.ErrorMessage, job.ResultSummary,
		job.Attempts, job.LeaseOwner, job.LeaseExpiresAt, job.UpdatedAt)
	return err
}

// mutateJob runs fn against the locked row and persists the result in the same transaction.
// Errors from fn are returned unwrapped so callers can match the sentinels.
func (s *PostgresStore) mutateJob(ctx context.Context, op string, id uuid.UUID, fn func(*models.Job, time.Time) error) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	job, err := lockJob(ctx, tx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: lock job: %w", op, err)
	}

	if err := fn(job, s.now()); err != nil {
		return nil, err
	}
	if err := writeJob(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("%s: write job: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.Job, error) {
	u := BuildJobUpdate(opts...)
	return s.mutateJob(ctx, "update job", id, func(job *models.Job, now time.Time) error {
		return ApplyJobUpdate(job, u, now)
	})
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (*models.Job, error) {
	return s.mutateJob(ctx, "claim job", id, func(job *models.Job, now time.Time) error {
		return ApplyClaim(job, owner, ttl, now)
	})
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error {
	_, err := s.mutateJob(ctx, "release lease", id, func(job *models.Job, now time.Time) error {
		return ApplyRelease(job, owner, now)
	})
	return err
}

func (s *PostgresStore) RequeueJob(ctx context.Context, id uuid.UUID, grace time.Duration, logLine string) (*models.Job, error) {
	return s.mutateJob(ctx, "requeue job", id, func(job *models.Job, now time.Time) error {
		return ApplyRequeue(job, grace, logLine, now)
	})
}

// --- Results ---

const resultColumns = `id, job_id, model_type, task_type, accuracy, loss, training_time, dataset_size,
	features_used, model_size, download_url, api_endpoint, metrics, feature_importance, predictions_sample, created_at`

func insertResult(ctx context.Context, tx pgx.Tx, r *models.JobResult) error {
	features, err := json.Marshal(r.FeaturesUsed)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	importance, err := json.Marshal(r.FeatureImportance)
	if err != nil {
		return fmt.Errorf("encode feature importance: %w", err)
	}
	predictions, err := json.Marshal(r.PredictionsSample)
	if err != nil {
		return fmt.Errorf("encode predictions: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO job_results (`+resultColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.JobID, r.ModelType, r.TaskType, r.Accuracy, r.Loss, r.TrainingTime, r.DatasetSize,
		features, r.ModelSize, r.DownloadURL, r.APIEndpoint, metrics, importance, predictions, r.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrResultExists
		}
		return err
	}
	return nil
}

func (s *PostgresStore) CreateResult(ctx context.Context, result *models.JobResult) (*models.JobResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create result: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM prompt_jobs WHERE id = $1 FOR SHARE`, result.JobID))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("create result: lock job: %w", err)
	}
	if job.Status != models.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}

	r := *result
	prepareResult(&r, job.ID, s.now())
	if err := insertResult(ctx, tx, &r); err != nil {
		if errors.Is(err, ErrResultExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create result: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create result: commit: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) GetResult(ctx context.Context, jobID uuid.UUID) (*models.JobResult, error) {
	var r models.JobResult
	err := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM job_results WHERE job_id = $1`, jobID,
	).Scan(&r.ID, &r.JobID, &r.ModelType, &r.TaskType, &r.Accuracy, &r.Loss, &r.TrainingTime, &r.DatasetSize,
		&r.FeaturesUsed, &r.ModelSize, &r.DownloadURL, &r.APIEndpoint, &r.Metrics, &r.FeatureImportance,
		&r.PredictionsSample, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, owner string, result *models.JobResult, summary string, logLines ...string) (*models.Job, *models.JobResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("complete job: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	job, err := lockJob(ctx, tx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("complete job: lock job: %w", err)
	}

	now := s.now()
	if err := ApplyCompletion(job, owner, summary, logLines, now); err != nil {
		return nil, nil, err
	}
	if err := writeJob(ctx, tx, job); err != nil {
		return nil, nil, fmt.Errorf("complete job: write job: %w", err)
	}

	r := *result
	prepareResult(&r, job.ID, now)
	if err := insertResult(ctx, tx, &r); err != nil {
		if errors.Is(err, ErrResultExists) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("complete job: insert result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("complete job: commit: %w", err)
	}
	return job, &r, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

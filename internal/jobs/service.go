// Package jobs owns the lifecycle of prompt-to-model training jobs: submission,
// owner-scoped reads, and the staged pipeline a worker runs for each job.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/internal/cache"
	"github.com/kiranshivaraju/automl/internal/queue"
	"github.com/kiranshivaraju/automl/internal/store"
	"github.com/kiranshivaraju/automl/pkg/models"
)

const (
	MaxPromptLength  = 4000
	DefaultListLimit = 100
	MaxListLimit     = 100
)

// SubmitResult is returned once a job has been stored.
type SubmitResult struct {
	JobID   uuid.UUID `json:"job_id"`
	Message string    `json:"message"`
}

// Service is the API-facing side of the job lifecycle.
type Service struct {
	store     store.Store
	publisher queue.Publisher
	cache     cache.Cache
	resultTTL time.Duration
	inst      *instruments
}

func NewService(st store.Store, pub queue.Publisher, ca cache.Cache, resultTTL time.Duration) *Service {
	return &Service{
		store:     st,
		publisher: pub,
		cache:     ca,
		resultTTL: resultTTL,
		inst:      newInstruments(),
	}
}

// SubmitPrompt stores a pending job for userID and enqueues it for a worker.
// A failed enqueue is logged but not returned: the job stays pending and the
// reaper redelivers it.
func (s *Service) SubmitPrompt(ctx context.Context, userID uuid.UUID, prompt string) (*SubmitResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, &ValidationError{Field: "prompt", Message: "must not be empty"}
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return nil, &ValidationError{Field: "prompt", Message: fmt.Sprintf("must be at most %d characters", MaxPromptLength)}
	}

	job, err := s.store.CreateJob(ctx, userID, prompt)
	if err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.inst.submitted.Add(ctx, 1)

	if err := s.publisher.Enqueue(ctx, queue.Message{JobID: job.ID, Prompt: job.Prompt}); err != nil {
		slog.Error("enqueueing job", "error", err, "job_id", job.ID)
	}

	return &SubmitResult{JobID: job.ID, Message: "Job submitted successfully"}, nil
}

// GetStatus returns the job's progress view. Jobs owned by other users are not found.
func (s *Service) GetStatus(ctx context.Context, userID, jobID uuid.UUID) (*StatusView, error) {
	job, err := s.store.GetJobForOwner(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	view := NewStatusView(job)
	return &view, nil
}

// GetResult returns the result bundle of a completed job.
func (s *Service) GetResult(ctx context.Context, userID, jobID uuid.UUID) (*ResultView, error) {
	job, err := s.store.GetJobForOwner(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, ErrNotReady
	}

	if raw, ok, err := s.cache.GetResultView(ctx, jobID); err != nil {
		slog.Warn("reading cached result", "error", err, "job_id", jobID)
	} else if ok {
		var view ResultView
		if err := json.Unmarshal(raw, &view); err == nil {
			return &view, nil
		}
	}

	result, err := s.store.GetResult(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &IntegrityFault{JobID: jobID, Detail: "completed job has no result"}
	}
	if err != nil {
		return nil, fmt.Errorf("getting result: %w", err)
	}

	view := NewResultView(job, result)
	if raw, err := json.Marshal(view); err == nil {
		if err := s.cache.SetResultView(ctx, jobID, raw, s.resultTTL); err != nil {
			slog.Warn("caching result", "error", err, "job_id", jobID)
		}
	}
	return &view, nil
}

// ListJobs pages through userID's jobs, newest first. A limit of 0 means DefaultListLimit.
func (s *Service) ListJobs(ctx context.Context, userID uuid.UUID, skip, limit int) ([]JobView, error) {
	if skip < 0 {
		return nil, &ValidationError{Field: "skip", Message: "must be >= 0"}
	}
	if limit < 0 || limit > MaxListLimit {
		return nil, &ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxListLimit)}
	}
	if limit == 0 {
		limit = DefaultListLimit
	}

	jobs, err := s.store.ListJobs(ctx, userID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	views := make([]JobView, len(jobs))
	for i, j := range jobs {
		views[i] = NewJobView(j)
	}
	return views, nil
}

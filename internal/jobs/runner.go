package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/internal/artifact"
	"github.com/kiranshivaraju/automl/internal/store"
	"github.com/kiranshivaraju/automl/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Task identifies one job to run, as carried on the queue.
type Task struct {
	JobID  uuid.UUID
	Prompt string
}

// Stage is one checkpoint of the training pipeline.
type Stage struct {
	Name     string
	Progress int
}

// Stages run in order. Progress values are the durable checkpoints a
// reclaimed job resumes from.
var Stages = []Stage{
	{Name: "Analyzing prompt", Progress: 10},
	{Name: "Preparing dataset", Progress: 25},
	{Name: "Feature engineering", Progress: 40},
	{Name: "Training model", Progress: 70},
	{Name: "Evaluating performance", Progress: 90},
	{Name: "Finalizing results", Progress: 100},
}

// StageHook runs before each stage is committed. A non-nil error fails the job.
type StageHook func(ctx context.Context, stage Stage) error

type RunnerConfig struct {
	WorkerID      string
	LeaseTTL      time.Duration
	StageMinDelay time.Duration
	StageMaxDelay time.Duration
}

type RunnerOption func(*Runner)

// WithStageHook installs a hook called before every stage commit.
func WithStageHook(h StageHook) RunnerOption {
	return func(r *Runner) {
		r.hook = h
	}
}

// Runner executes the staged pipeline for a single job under a lease.
type Runner struct {
	store     store.Store
	trainer   models.Trainer
	artifacts artifact.Store
	cfg       RunnerConfig
	hook      StageHook
	inst      *instruments
}

// failTimeout bounds the write that records a failure after the run's context is gone.
const failTimeout = 10 * time.Second

func NewRunner(st store.Store, tr models.Trainer, arts artifact.Store, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}
	r := &Runner{
		store:     st,
		trainer:   tr,
		artifacts: arts,
		cfg:       cfg,
		inst:      newInstruments(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run claims the job and drives it to completed or failed.
//
// It returns nil on completion, an *ExecutionFailure once the failure has been
// recorded, ErrAlreadyClaimed when another runner owns or finished the job, and
// ErrInterrupted when ctx is cancelled mid-run. Other errors are transient
// store failures and the task should be retried.
func (r *Runner) Run(ctx context.Context, task Task) error {
	ctx, span := r.inst.tracer.Start(ctx, "jobs.Run",
		trace.WithAttributes(attribute.String("job.id", task.JobID.String())))
	defer span.End()

	job, err := r.store.GetJob(ctx, task.JobID)
	if errors.Is(err, store.ErrNotFound) {
		span.SetStatus(codes.Error, "job not found")
		return &ExecutionFailure{JobID: task.JobID, Stage: "load", Err: err}
	}
	if err != nil {
		return fmt.Errorf("loading job %s: %w", task.JobID, err)
	}
	if job.IsTerminal() {
		return ErrAlreadyClaimed
	}

	owner := fmt.Sprintf("%s:%s", r.cfg.WorkerID, uuid.NewString())
	job, err = r.store.ClaimJob(ctx, task.JobID, owner, r.cfg.LeaseTTL)
	if errors.Is(err, store.ErrLeaseHeld) || errors.Is(err, store.ErrJobFinished) {
		return ErrAlreadyClaimed
	}
	if err != nil {
		return fmt.Errorf("claiming job %s: %w", task.JobID, err)
	}

	started := time.Now()
	logger := slog.With("job_id", job.ID, "owner", owner, "attempt", job.Attempts)
	logger.Info("job claimed", "progress", job.Progress)

	stage, err := r.execute(ctx, job, owner)
	elapsed := time.Since(started).Seconds()

	switch {
	case err == nil:
		r.inst.record(ctx, r.inst.completed, elapsed, "completed")
		logger.Info("job completed", "duration_s", elapsed)
		return nil

	case ctx.Err() != nil:
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
		defer cancel()
		if relErr := r.store.ReleaseLease(rctx, job.ID, owner); relErr != nil && !isLeaseGone(relErr) {
			logger.Warn("releasing lease", "error", relErr)
		}
		logger.Info("job interrupted", "stage", stage)
		return ErrInterrupted

	case isLeaseGone(err):
		logger.Warn("lease lost, stopping", "stage", stage, "error", err)
		return ErrAlreadyClaimed
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.fail(ctx, job.ID, owner, stage, err, logger)
	r.inst.record(ctx, r.inst.failed, elapsed, "failed")
	return &ExecutionFailure{JobID: job.ID, Stage: stage, Err: err}
}

// isLeaseGone reports whether another runner or the reaper has taken the job.
func isLeaseGone(err error) bool {
	return errors.Is(err, store.ErrLeaseLost) ||
		errors.Is(err, store.ErrJobFinished) ||
		errors.Is(err, store.ErrResultExists)
}

// fail records the failure on the job. It uses a fresh context so a cancelled
// run still leaves the job terminal.
func (r *Runner) fail(ctx context.Context, id uuid.UUID, owner, stage string, cause error, logger *slog.Logger) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
	defer cancel()

	msg := cause.Error()
	_, err := r.store.UpdateJob(fctx, id,
		store.WithStatus(models.JobStatusFailed),
		store.WithErrorMessage(msg),
		store.WithLog("Error: "+msg),
		store.WithLeaseOwner(owner),
	)
	switch {
	case err == nil:
		logger.Error("job failed", "stage", stage, "error", msg)
	case isLeaseGone(err):
		logger.Warn("job failed after lease was lost", "stage", stage, "error", msg)
	default:
		logger.Error("recording job failure", "stage", stage, "error", err, "cause", msg)
	}
}

// execute runs the remaining stages. It returns the stage it stopped in.
func (r *Runner) execute(ctx context.Context, job *models.Job, owner string) (stage string, err error) {
	stage = "start"
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	startLine := "Starting pipeline..."
	if job.Progress > 0 {
		startLine = fmt.Sprintf("Resuming pipeline from %d%% (attempt %d)...", job.Progress, job.Attempts)
	}
	if _, err := r.store.UpdateJob(ctx, job.ID,
		store.WithLog(startLine),
		store.WithLeaseRenewal(owner, r.cfg.LeaseTTL),
	); err != nil {
		return stage, err
	}

	analysis := r.trainer.Analyze(job.Prompt)

	for _, st := range Stages {
		if st.Progress <= job.Progress {
			continue
		}
		stage = st.Name
		if err := r.runStage(ctx, job, owner, st, analysis); err != nil {
			return stage, err
		}
	}
	return stage, nil
}

func (r *Runner) runStage(ctx context.Context, job *models.Job, owner string, st Stage, analysis models.PromptAnalysis) error {
	ctx, span := r.inst.tracer.Start(ctx, "jobs.stage",
		trace.WithAttributes(
			attribute.String("stage", st.Name),
			attribute.Int("progress", st.Progress),
		))
	defer span.End()

	if err := r.pause(ctx); err != nil {
		return err
	}
	if r.hook != nil {
		if err := r.hook(ctx, st); err != nil {
			return err
		}
	}

	if st.Progress == 100 {
		return r.finish(ctx, job, owner, st, analysis)
	}

	_, err := r.store.UpdateJob(ctx, job.ID,
		store.WithProgress(st.Progress),
		store.WithLog(st.Name+"..."),
		store.WithLeaseRenewal(owner, r.cfg.LeaseTTL),
	)
	return err
}

// finish generates the result, uploads the model and completes the job in one write.
func (r *Runner) finish(ctx context.Context, job *models.Job, owner string, st Stage, analysis models.PromptAnalysis) error {
	result := r.trainer.GenerateResult(analysis)

	art, err := r.artifacts.PutModel(ctx, job.ID, result)
	if err != nil {
		return fmt.Errorf("storing model: %w", err)
	}
	result.DownloadURL = &art.DownloadURL
	result.APIEndpoint = &art.APIEndpoint

	summary := fmt.Sprintf("Model trained successfully with %.1f%% accuracy", result.Accuracy*100)
	_, _, err = r.store.CompleteJob(ctx, job.ID, owner, &result, summary,
		st.Name+"...",
		"Training completed successfully!",
	)
	return err
}

// pause sleeps a random duration in [StageMinDelay, StageMaxDelay].
func (r *Runner) pause(ctx context.Context) error {
	d := r.cfg.StageMinDelay
	if spread := r.cfg.StageMaxDelay - r.cfg.StageMinDelay; spread > 0 {
		d += time.Duration(rand.Int64N(int64(spread) + 1))
	}
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

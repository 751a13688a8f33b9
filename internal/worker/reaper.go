package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/automl/internal/queue"
	"github.com/kiranshivaraju/automl/internal/store"
	"github.com/kiranshivaraju/automl/pkg/models"
)

type ReaperConfig struct {
	Interval    time.Duration
	MaxAttempts int
	// PendingAfter is how long a pending job may sit before its publish is presumed lost.
	PendingAfter time.Duration
	// Grace holds a requeued job back from the next sweep while its message is in flight.
	Grace time.Duration
	// MaxPendingAge fails a job no worker has picked up this long after submission.
	// Zero keeps redelivering forever.
	MaxPendingAge time.Duration
	BatchSize     int
}

// SweepStats counts what one sweep did.
type SweepStats struct {
	Requeued    int
	Failed      int
	Redelivered int
}

type ReaperOption func(*Reaper)

// WithClock replaces the reaper's time source.
func WithClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		r.now = now
	}
}

// Reaper recovers running jobs whose lease expired and pending jobs that were
// never delivered.
type Reaper struct {
	store     store.Store
	publisher queue.Publisher
	cfg       ReaperConfig
	now       func() time.Time
}

func NewReaper(st store.Store, pub queue.Publisher, cfg ReaperConfig, opts ...ReaperOption) *Reaper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	r := &Reaper{
		store:     st,
		publisher: pub,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps immediately and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		stats, err := r.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("reaper sweep", "error", err)
		} else if stats != (SweepStats{}) {
			slog.Info("reaper sweep",
				"requeued", stats.Requeued,
				"failed", stats.Failed,
				"redelivered", stats.Redelivered)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep makes one recovery pass.
func (r *Reaper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := r.now()

	expired, err := r.store.ListExpiredLeases(ctx, now, r.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("listing expired leases: %w", err)
	}
	for _, job := range expired {
		if job.Attempts >= r.cfg.MaxAttempts {
			if r.failJob(ctx, job, fmt.Sprintf("lease expired after %d attempts", job.Attempts)) {
				stats.Failed++
			}
			continue
		}
		line := fmt.Sprintf("Worker lost, requeueing (attempt %d of %d)", job.Attempts, r.cfg.MaxAttempts)
		if r.redeliver(ctx, job, r.cfg.Grace, line) {
			stats.Requeued++
		}
	}

	stale, err := r.store.ListStalePending(ctx, now.Add(-r.cfg.PendingAfter), r.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("listing stale pending jobs: %w", err)
	}
	for _, job := range stale {
		if r.cfg.MaxPendingAge > 0 && now.Sub(job.CreatedAt) >= r.cfg.MaxPendingAge {
			if r.failJob(ctx, job, fmt.Sprintf("job was not picked up within %s", r.cfg.MaxPendingAge)) {
				stats.Failed++
			}
			continue
		}
		if r.redeliver(ctx, job, 0, "") {
			stats.Redelivered++
		}
	}
	return stats, nil
}

// failJob gives up on job unless a worker picked it up or renewed its lease
// after it was listed.
func (r *Reaper) failJob(ctx context.Context, job *models.Job, msg string) bool {
	_, err := r.store.UpdateJob(ctx, job.ID,
		store.WithoutLiveLease(),
		store.WithStatus(models.JobStatusFailed),
		store.WithErrorMessage(msg),
		store.WithLog("Error: "+msg),
	)
	if errors.Is(err, store.ErrJobFinished) || errors.Is(err, store.ErrLeaseActive) {
		return false
	}
	if err != nil {
		slog.Error("failing abandoned job", "error", err, "job_id", job.ID)
		return false
	}
	slog.Warn("job abandoned", "job_id", job.ID, "attempts", job.Attempts, "reason", msg)
	return true
}

// redeliver stamps the job so the next sweep skips it, then publishes it again.
// A failed publish is retried by a later sweep once the stamp ages out.
func (r *Reaper) redeliver(ctx context.Context, job *models.Job, grace time.Duration, logLine string) bool {
	if _, err := r.store.RequeueJob(ctx, job.ID, grace, logLine); err != nil {
		if !errors.Is(err, store.ErrJobFinished) && !errors.Is(err, store.ErrLeaseActive) {
			slog.Error("requeueing job", "error", err, "job_id", job.ID)
		}
		return false
	}
	if err := r.publisher.Enqueue(ctx, queue.Message{JobID: job.ID, Prompt: job.Prompt}); err != nil {
		slog.Error("republishing job", "error", err, "job_id", job.ID)
		return false
	}
	return true
}

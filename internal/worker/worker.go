// Package worker connects queued tasks to the job runner and recovers jobs
// whose worker or publish went missing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/automl/internal/jobs"
	"github.com/kiranshivaraju/automl/internal/queue"
)

// TaskRunner runs one job. *jobs.Runner implements it.
type TaskRunner interface {
	Run(ctx context.Context, task jobs.Task) error
}

// Worker turns runner outcomes into queue acknowledgements.
type Worker struct {
	runner TaskRunner
}

func New(runner TaskRunner) *Worker {
	return &Worker{runner: runner}
}

// Handle is a queue.Handler. Terminal outcomes ack the message; interrupted
// runs and transient store errors requeue it.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	logger := slog.With("job_id", msg.JobID)

	err := w.runner.Run(ctx, jobs.Task{JobID: msg.JobID, Prompt: msg.Prompt})

	var failure *jobs.ExecutionFailure
	switch {
	case err == nil:
		return nil
	case errors.As(err, &failure):
		logger.Error("job execution failed", "stage", failure.Stage, "error", failure.Err)
		return nil
	case errors.Is(err, jobs.ErrAlreadyClaimed):
		logger.Info("duplicate delivery ignored")
		return nil
	case errors.Is(err, jobs.ErrInterrupted):
		logger.Info("job interrupted, returning to queue")
		return fmt.Errorf("%w: %v", queue.ErrRequeue, err)
	default:
		logger.Warn("transient job error, returning to queue", "error", err)
		return fmt.Errorf("%w: %v", queue.ErrRequeue, err)
	}
}

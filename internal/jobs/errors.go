package jobs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/internal/store"
)

var (
	// ErrNotFound covers both missing jobs and jobs owned by another user.
	ErrNotFound = store.ErrNotFound
	// ErrNotReady is returned when a result is requested before the job completed.
	ErrNotReady = errors.New("job result not ready")
	// ErrAlreadyClaimed means another runner holds the job or it already finished.
	ErrAlreadyClaimed = errors.New("job already claimed or finished")
	// ErrInterrupted means the run stopped because its context was cancelled.
	ErrInterrupted = errors.New("job run interrupted")
)

// ValidationError is a user-correctable input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IntegrityFault reports stored state that should be impossible, such as a
// completed job without a result row.
type IntegrityFault struct {
	JobID  uuid.UUID
	Detail string
}

func (e *IntegrityFault) Error() string {
	return fmt.Sprintf("integrity fault on job %s: %s", e.JobID, e.Detail)
}

// ExecutionFailure is a pipeline error that has already been recorded on the job.
type ExecutionFailure struct {
	JobID uuid.UUID
	Stage string
	Err   error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("job %s failed during %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// Package models contains shared data models used across the AutoML codebase.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// LogEntry is one timestamped line of a job's pipeline log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// NewLogEntry stamps message with the current UTC time.
func NewLogEntry(message string) LogEntry {
	return LogEntry{Timestamp: time.Now().UTC(), Message: message}
}

// String renders the entry the way clients display it, e.g. "[14:03:22] Training model...".
func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp.UTC().Format("15:04:05"), e.Message)
}

// Job tracks one prompt-to-model training request. The API returns a job_id on
// POST /api/prompt; the client polls GET /api/status/{job_id} until status is
// completed or failed, then fetches GET /api/result/{job_id}.
type Job struct {
	ID             uuid.UUID  `db:"id"               json:"id"`
	UserID         uuid.UUID  `db:"user_id"          json:"user_id"`
	Prompt         string     `db:"prompt"           json:"prompt"`
	Status         string     `db:"status"           json:"status"`
	Progress       int        `db:"progress"         json:"progress"`
	Logs           []LogEntry `db:"logs"             json:"logs"`
	ErrorMessage   *string    `db:"error_message"    json:"error_message,omitempty"`
	ResultSummary  *string    `db:"result_summary"   json:"result_summary,omitempty"`
	Attempts       int        `db:"attempts"         json:"attempts"`
	LeaseOwner     *string    `db:"lease_owner"      json:"-"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at" json:"-"`
	CreatedAt      time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"       json:"updated_at"`
}

// IsTerminal reports whether the job has reached completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

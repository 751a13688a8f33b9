// Package handler implements the HTTP endpoints on top of the auth and jobs services.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/internal/auth"
	"github.com/kiranshivaraju/automl/internal/jobs"
	"github.com/kiranshivaraju/automl/internal/queue"
)

const maxBodyBytes = 64 << 10

// AuthService is the subset of *auth.Service the handlers use.
type AuthService interface {
	Signup(ctx context.Context, email, name, password string) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
}

// JobService is the subset of *jobs.Service the handlers use.
type JobService interface {
	SubmitPrompt(ctx context.Context, userID uuid.UUID, prompt string) (*jobs.SubmitResult, error)
	GetStatus(ctx context.Context, userID, jobID uuid.UUID) (*jobs.StatusView, error)
	GetResult(ctx context.Context, userID, jobID uuid.UUID) (*jobs.ResultView, error)
	ListJobs(ctx context.Context, userID uuid.UUID, skip, limit int) ([]jobs.JobView, error)
}

// QueueInspector reports task queue depth. *queue.RabbitMQ implements it.
type QueueInspector interface {
	Inspect(ctx context.Context) (queue.Status, error)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

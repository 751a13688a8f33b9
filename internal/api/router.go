package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/automl/internal/api/middleware"
	"github.com/kiranshivaraju/automl/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SignupHandler  http.HandlerFunc
	LoginHandler   http.HandlerFunc
	ProfileHandler http.HandlerFunc

	SubmitPromptHandler http.HandlerFunc
	ListJobsHandler     http.HandlerFunc
	JobStatusHandler    http.HandlerFunc
	JobResultHandler    http.HandlerFunc
	QueueStatusHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/health", orNotImplemented(deps.HealthHandler))

	r.Post("/api/auth/signup", orNotImplemented(deps.SignupHandler))
	r.Post("/api/auth/login", orNotImplemented(deps.LoginHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/auth/profile", orNotImplemented(deps.ProfileHandler))

		r.Post("/api/prompt", orNotImplemented(deps.SubmitPromptHandler))
		r.Get("/api/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/status/{jobID}", orNotImplemented(deps.JobStatusHandler))
		r.Get("/api/result/{jobID}", orNotImplemented(deps.JobResultHandler))

		r.Get("/api/queue/status", orNotImplemented(deps.QueueStatusHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

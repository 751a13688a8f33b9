package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/automl/internal/api/middleware"
	"github.com/kiranshivaraju/automl/internal/api/response"
	"github.com/kiranshivaraju/automl/internal/jobs"
)

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// NewSubmitPromptHandler returns an http.HandlerFunc for POST /api/prompt.
func NewSubmitPromptHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req promptRequest
		if err := decodeJSON(w, r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		res, err := svc.SubmitPrompt(r.Context(), userID, req.Prompt)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.Accepted(w, res)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/jobs?skip=&limit=.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		skip, err := queryInt(r, "skip", 0)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "skip must be an integer", nil)
			return
		}
		limit, err := queryInt(r, "limit", jobs.DefaultListLimit)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", nil)
			return
		}
		if limit == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be at least 1", nil)
			return
		}

		views, err := svc.ListJobs(r.Context(), userID, skip, limit)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.Collection(w, views, response.PageMeta{Skip: skip, Limit: limit, Count: len(views)})
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/status/{jobID}.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, jobID, ok := jobRequest(w, r)
		if !ok {
			return
		}
		view, err := svc.GetStatus(r.Context(), userID, jobID)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewJobResultHandler returns an http.HandlerFunc for GET /api/result/{jobID}.
func NewJobResultHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, jobID, ok := jobRequest(w, r)
		if !ok {
			return
		}
		view, err := svc.GetResult(r.Context(), userID, jobID)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

// jobRequest extracts the caller and the {jobID} path parameter, writing the
// error response itself when either is missing.
func jobRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return uuid.Nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, jobID, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *jobs.ValidationError
	var fault *jobs.IntegrityFault
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", verr.Error(), nil)
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, jobs.ErrNotReady):
		response.Error(w, http.StatusBadRequest, "NOT_READY", "Job not completed yet", nil)
	case errors.As(err, &fault):
		response.Error(w, http.StatusInternalServerError, "INTEGRITY_ERROR", "Job results not found", nil)
	default:
		response.Internal(w, r, err)
	}
}

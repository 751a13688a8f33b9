package handler

import (
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/automl/internal/api/response"
)

// NewQueueStatusHandler returns an http.HandlerFunc for GET /api/queue/status.
func NewQueueStatusHandler(q QueueInspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := q.Inspect(r.Context())
		if err != nil {
			slog.Warn("inspecting queue", "error", err)
			response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
				"Task queue is not reachable", nil)
			return
		}
		response.JSON(w, status)
	}
}

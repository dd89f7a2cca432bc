// Package api contains the HTTP handlers for the queue, endpoint admin and
// image surfaces.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/imagevault/imagevault/internal/api/shared"
	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/queue"
	"github.com/imagevault/imagevault/internal/store"
)

// QueueHandler exposes the task queue over HTTP.
type QueueHandler struct {
	queue  *queue.Queue
	logger *slog.Logger
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(q *queue.Queue, logger *slog.Logger) *QueueHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &QueueHandler{
		queue:  q,
		logger: logger.With(slog.String("component", "queue_handler")),
	}
}

// AddRequest is the body for POST /queue/add.
type AddRequest struct {
	ImageIDs []int64 `json:"image_ids" validate:"required,min=1"`
}

// AddResponse reports what the admission pass accepted.
type AddResponse struct {
	Added    int     `json:"added"`
	Skipped  int     `json:"skipped"`
	ImageIDs []int64 `json:"image_ids"`
}

// ConfigRequest is the body for PUT /queue/config.
type ConfigRequest struct {
	MaxWorkers int `json:"max_workers" validate:"required"`
}

// RetryResponse is the body for POST /queue/tasks/{taskID}/retry.
type RetryResponse struct {
	Success bool `json:"success"`
}

// ClearResponse reports how many tasks a clear operation removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// Status handles GET /queue/status.
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.queue.Status(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to read queue status", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// Add handles POST /queue/add: admits image IDs and enqueues one
// analyze_image task per admitted ID.
func (h *QueueHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "image_ids is required")
		return
	}

	admitted, skipped, _, err := h.queue.EnqueueBatch(r.Context(), req.ImageIDs)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to enqueue tasks", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, AddResponse{
		Added:    len(admitted),
		Skipped:  skipped,
		ImageIDs: admitted,
	})
}

// Start handles POST /queue/start.
func (h *QueueHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.queue.Start()
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]bool{"running": true})
}

// Stop handles POST /queue/stop.
func (h *QueueHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.queue.Stop()
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]bool{"running": false})
}

// Clear handles DELETE /queue/clear: drops pending tasks only.
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.queue.ClearPending(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to clear queue", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ClearResponse{Removed: removed})
}

// ClearCompleted handles DELETE /queue/clear-completed: drops finished
// tasks (completed, failed and cancelled).
func (h *QueueHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed, err := h.queue.ClearFinished(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to clear finished tasks", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ClearResponse{Removed: removed})
}

// Configure handles PUT /queue/config.
func (h *QueueHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.queue.Configure(req.MaxWorkers); err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			shared.RespondWithError(w, r, http.StatusBadRequest,
				"max_workers must be between 1 and 10")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to update configuration", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]int{"max_workers": req.MaxWorkers})
}

// Retry handles POST /queue/tasks/{taskID}/retry.
func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	if err := h.queue.Retry(r.Context(), taskID); err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		case errors.Is(err, queue.ErrNotRetryable):
			shared.RespondWithError(w, r, http.StatusBadRequest, "Task is not retryable")
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
				"Failed to retry task", err)
		}
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, RetryResponse{Success: true})
}

// Cancel handles POST /queue/tasks/{taskID}/cancel.
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	if err := h.queue.Cancel(r.Context(), taskID); err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		case errors.Is(err, store.ErrUpdateFailed):
			shared.RespondWithError(w, r, http.StatusConflict, "Task is not pending")
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
				"Failed to cancel task", err)
		}
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]bool{"success": true})
}

// GetTask handles GET /queue/tasks/{taskID}.
func (h *QueueHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.queue.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

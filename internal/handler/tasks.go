// Package handler provides HTTP handlers for the task backend API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jarvis-labs/operator-console/internal/middleware"
	"github.com/jarvis-labs/operator-console/internal/model"
	"github.com/jarvis-labs/operator-console/internal/service"
	"github.com/jarvis-labs/operator-console/pkg/logger"
)

// TaskHandler handles the task lifecycle endpoints.
type TaskHandler struct {
	tasks  *service.TaskService
	logger *logger.Logger
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(tasks *service.TaskService, log *logger.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:  tasks,
		logger: log,
	}
}

// Create handles POST /api/v1/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = middleware.GetUserID(ctx)

	if err := middleware.ValidatePrompt(req.Description); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentName != "" {
		if err := middleware.ValidateAgent(req.AgentName); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	task, err := h.tasks.Create(ctx, &req)
	if err != nil {
		h.logger.Error("failed to create task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// Get handles GET /api/v1/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "id")

	if err := middleware.ValidateTaskID(taskID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.tasks.Get(ctx, middleware.GetUserID(ctx), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// Run handles POST /api/v1/tasks/{id}/run
func (h *TaskHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "id")

	if err := middleware.ValidateTaskID(taskID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.tasks.Run(ctx, middleware.GetUserID(ctx), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// Events handles GET /api/v1/tasks/{id}/events
func (h *TaskHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "id")

	if err := middleware.ValidateTaskID(taskID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.tasks.History(ctx, middleware.GetUserID(ctx), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}

	writeJSON(w, http.StatusOK, records)
}

// Review handles POST /api/v1/tasks/{id}/review
func (h *TaskHandler) Review(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "id")

	if err := middleware.ValidateTaskID(taskID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.ReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.tasks.Review(ctx, middleware.GetUserID(ctx), taskID, &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HITL handles POST /api/v1/tasks/{id}/hitl
func (h *TaskHandler) HITL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "id")

	if err := middleware.ValidateTaskID(taskID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.HITLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message != "" {
		if err := middleware.ValidatePrompt(req.Message); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	resp, err := h.tasks.RespondHITL(ctx, middleware.GetUserID(ctx), taskID, &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Archive handles POST /api/v1/tasks/{id}/archive
func (h *TaskHandler) Archive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "id")

	if err := middleware.ValidateTaskID(taskID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.ArchiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.tasks.Archive(ctx, middleware.GetUserID(ctx), taskID, &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// List handles GET /api/v1/users/{id}/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	if err := middleware.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if userID != middleware.GetUserID(ctx) {
		writeError(w, http.StatusForbidden, "cannot list another user's tasks")
		return
	}

	params := model.TaskListParams{
		Status:          model.TaskStatus(r.URL.Query().Get("status")),
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
	}

	tasks, err := h.tasks.ListByUser(ctx, userID, params)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}

	writeJSON(w, http.StatusOK, tasks)
}

// Stats handles GET /api/v1/users/{id}/stats
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	if err := middleware.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if userID != middleware.GetUserID(ctx) {
		writeError(w, http.StatusForbidden, "cannot view another user's stats")
		return
	}

	stats, err := h.tasks.Stats(ctx, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *TaskHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("task operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/orchestrator"
)

// planAction выполняет операцию над планом по {id} и отдаёт его представление.
func (h *Handler) planAction(w http.ResponseWriter, r *http.Request, action func(context.Context, uuid.UUID) (orchestrator.PlanView, error)) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	view, err := action(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, view)
}

// taskAction — то же для задачи.
func (h *Handler) taskAction(w http.ResponseWriter, r *http.Request, action func(context.Context, uuid.UUID) (domain.TaskSnapshot, error)) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	snap, err := action(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, snap)
}

// GetTask возвращает задачу.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, h.service.GetTask)
}

// PauseTask приостанавливает выполняющуюся задачу на ближайшей границе стадии.
// POST /api/v1/tasks/{id}/pause
func (h *Handler) PauseTask(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, h.service.PauseTask)
}

// ResumeTask возобновляет задачу.
// POST /api/v1/tasks/{id}/resume
func (h *Handler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, h.service.ResumeTask)
}

// CancelTask отменяет задачу без отката.
// POST /api/v1/tasks/{id}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	var req CancelRequest
	if err := decodeJSON(r, &req, true); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled via api"
	}

	snap, err := h.service.CancelTask(r.Context(), id, req.Reason)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, snap)
}

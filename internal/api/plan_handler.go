package api

import (
	"net/http"

	"github.com/shaiso/Rollout/internal/telemetry"
)

// ListPlans возвращает планы, новые первыми.
// GET /api/v1/plans?status=RUNNING,PAUSED&limit=...
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	filter, err := parsePlanFilter(r.URL.Query())
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	plans := h.service.ListPlans(r.Context(), filter)
	List(w, plans, len(plans))
}

// CreatePlan регистрирует план и, если start=true, запускает его.
// POST /api/v1/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := decodeJSON(r, &req, false); err != nil {
		BadRequest(w, err.Error())
		return
	}

	view, err := h.service.SubmitPlan(r.Context(), req.toOrchestrator(), req.Start)
	if HandleError(w, h.logger, err) {
		return
	}

	telemetry.WithPlanID(telemetry.FromContext(r.Context()), view.Plan.ID.String()).
		Info("plan created via api", "tasks", len(view.Tasks), "start", req.Start)
	Created(w, view)
}

// GetPlan возвращает план с задачами и статистикой.
// GET /api/v1/plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	view, err := h.service.GetPlan(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, view)
}

// DeletePlan удаляет завершённый план и его checkpoint'ы.
// DELETE /api/v1/plans/{id}
func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if HandleError(w, h.logger, h.service.RemovePlan(r.Context(), id)) {
		return
	}
	NoContent(w)
}

// StartPlan запускает план.
// POST /api/v1/plans/{id}/start
func (h *Handler) StartPlan(w http.ResponseWriter, r *http.Request) {
	h.planAction(w, r, h.service.StartPlan)
}

// PausePlan приостанавливает план.
// POST /api/v1/plans/{id}/pause
func (h *Handler) PausePlan(w http.ResponseWriter, r *http.Request) {
	h.planAction(w, r, h.service.PausePlan)
}

// ResumePlan возобновляет план.
// POST /api/v1/plans/{id}/resume
func (h *Handler) ResumePlan(w http.ResponseWriter, r *http.Request) {
	h.planAction(w, r, h.service.ResumePlan)
}

// CancelPlan отменяет план. Тело {"reason": "..."} необязательно.
// POST /api/v1/plans/{id}/cancel
func (h *Handler) CancelPlan(w http.ResponseWriter, r *http.Request) {
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

	view, err := h.service.CancelPlan(r.Context(), id, req.Reason)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, view)
}

// ListPlanTasks возвращает задачи плана.
// GET /api/v1/plans/{id}/tasks?status=FAILED
func (h *Handler) ListPlanTasks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	statuses, err := parseTaskStatuses(r.URL.Query())
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	tasks, err := h.service.ListTasks(r.Context(), id, statuses...)
	if HandleError(w, h.logger, err) {
		return
	}
	List(w, tasks, len(tasks))
}

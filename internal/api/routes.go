package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		RequestID(),
		Recovery(h.logger),
		Logging(h.logger),
		Metrics(h.metrics),
	)

	// Plans
	mux.Handle("GET /api/v1/plans", chain(http.HandlerFunc(h.ListPlans)))
	mux.Handle("POST /api/v1/plans", chain(http.HandlerFunc(h.CreatePlan)))
	mux.Handle("GET /api/v1/plans/{id}", chain(http.HandlerFunc(h.GetPlan)))
	mux.Handle("DELETE /api/v1/plans/{id}", chain(http.HandlerFunc(h.DeletePlan)))
	mux.Handle("POST /api/v1/plans/{id}/start", chain(http.HandlerFunc(h.StartPlan)))
	mux.Handle("POST /api/v1/plans/{id}/pause", chain(http.HandlerFunc(h.PausePlan)))
	mux.Handle("POST /api/v1/plans/{id}/resume", chain(http.HandlerFunc(h.ResumePlan)))
	mux.Handle("POST /api/v1/plans/{id}/cancel", chain(http.HandlerFunc(h.CancelPlan)))
	mux.Handle("GET /api/v1/plans/{id}/tasks", chain(http.HandlerFunc(h.ListPlanTasks)))

	// Tasks
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))
	mux.Handle("POST /api/v1/tasks/{id}/pause", chain(http.HandlerFunc(h.PauseTask)))
	mux.Handle("POST /api/v1/tasks/{id}/resume", chain(http.HandlerFunc(h.ResumeTask)))
	mux.Handle("POST /api/v1/tasks/{id}/cancel", chain(http.HandlerFunc(h.CancelTask)))

	// Tenants
	mux.Handle("GET /api/v1/tenants/{id}/lock", chain(http.HandlerFunc(h.GetTenantLock)))
	mux.Handle("GET /api/v1/locks", chain(http.HandlerFunc(h.ListLocks)))

	mux.HandleFunc("GET /healthz", h.Health)
}

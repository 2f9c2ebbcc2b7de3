package api

import (
	"net/http"
)

// GetTenantLock возвращает владельца блокировки tenant'а.
// GET /api/v1/tenants/{id}/lock
func (h *Handler) GetTenantLock(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("id")
	if tenant == "" {
		BadRequest(w, "tenant id is required")
		return
	}

	lock, err := h.service.TenantLock(r.Context(), tenant)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, lock)
}

// ListLocks возвращает блокировки, захваченные этим процессом.
// GET /api/v1/locks
func (h *Handler) ListLocks(w http.ResponseWriter, r *http.Request) {
	locks := h.service.Locks()
	List(w, locks, len(locks))
}

// Health — liveness: 503 после остановки оркестратора.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.service.IsStopped() {
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "orchestrator stopped")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "queue": h.service.QueueStatus()})
}

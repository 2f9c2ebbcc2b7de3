package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/orchestrator"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeValidation    ErrorCode = "VALIDATION"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeStateConflict ErrorCode = "STATE_CONFLICT"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
//
// Для конфликтов tenant'ов Tenants перечисляет занятых tenant'ов,
// OwnerTaskID или OwnerPlanID называют владельца блокировки. Для ошибок
// валидации Field называет поле запроса.
type ErrorDetail struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Field       string    `json:"field,omitempty"`
	Tenants     []string  `json:"tenants,omitempty"`
	OwnerTaskID string    `json:"owner_task_id,omitempty"`
	OwnerPlanID string    `json:"owner_plan_id,omitempty"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// NoContent отправляет ответ без тела (204).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// statusOf сопоставляет ошибку оркестратора HTTP статусу и коду.
func statusOf(err error) (int, ErrorCode) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, orchestrator.ErrPlanNotFound),
		errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, orchestrator.ErrPlanExists):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, domain.ErrStateConflict),
		errors.Is(err, orchestrator.ErrPlanNotTerminal),
		errors.Is(err, orchestrator.ErrTaskNotRunning):
		return http.StatusUnprocessableEntity, ErrCodeStateConflict
	case errors.Is(err, orchestrator.ErrOrchestratorStopped):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// HandleError преобразует ошибку оркестратора в HTTP ответ.
// Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	status, code := statusOf(err)
	if status == http.StatusInternalServerError {
		InternalError(w, logger, err)
		return true
	}
	detail := ErrorDetail{Code: code, Message: err.Error()}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		detail.Field = ve.Field
	}
	var ce *domain.ConflictError
	if errors.As(err, &ce) {
		detail.Tenants = ce.Tenants
		if len(detail.Tenants) == 0 && ce.TenantID != "" {
			detail.Tenants = []string{ce.TenantID}
		}
		detail.OwnerTaskID = ce.OwnerTaskID
		detail.OwnerPlanID = ce.OwnerPlanID
	}

	JSON(w, status, ErrorResponse{Error: detail})
	return true
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/orchestrator"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	maxBodyBytes     = 4 << 20
)

// CreatePlanRequest — запрос на создание плана.
type CreatePlanRequest struct {
	// ID — идентификатор плана; пустой — сгенерировать.
	ID *uuid.UUID `json:"id,omitempty"`

	// MaxConcurrency — лимит одновременно выполняемых задач; 0 — по умолчанию.
	MaxConcurrency int `json:"max_concurrency,omitempty"`

	Tenants []domain.TenantConfig `json:"tenants"`

	// Start — сразу запустить план.
	Start bool `json:"start,omitempty"`
}

// toOrchestrator конвертирует запрос в orchestrator.CreatePlanRequest.
func (r CreatePlanRequest) toOrchestrator() orchestrator.CreatePlanRequest {
	out := orchestrator.CreatePlanRequest{
		MaxConcurrency: r.MaxConcurrency,
		Tenants:        r.Tenants,
	}
	if r.ID != nil {
		out.PlanID = *r.ID
	} else {
		out.PlanID = uuid.New()
	}
	return out
}

// CancelRequest — необязательное тело запроса отмены.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// decodeJSON читает JSON тело. Пустое тело допустимо, если allowEmpty.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathID разбирает {id} из пути.
func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// splitList разбирает повторяющийся или перечисленный через запятую параметр.
func splitList(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parsePlanFilter разбирает ?status=...&limit=...
func parsePlanFilter(q url.Values) (orchestrator.PlanFilter, error) {
	filter := orchestrator.PlanFilter{Limit: defaultListLimit}

	for _, s := range splitList(q, "status") {
		status, ok := domain.ParsePlanStatus(strings.ToUpper(s))
		if !ok {
			return filter, fmt.Errorf("invalid status %q", s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		if limit == 0 || limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}
	return filter, nil
}

// parseTaskStatuses разбирает ?status=... для списка задач.
func parseTaskStatuses(q url.Values) ([]domain.TaskStatus, error) {
	var out []domain.TaskStatus
	for _, s := range splitList(q, "status") {
		status, ok := domain.ParseTaskStatus(strings.ToUpper(s))
		if !ok {
			return nil, fmt.Errorf("invalid status %q", s)
		}
		out = append(out, status)
	}
	return out, nil
}

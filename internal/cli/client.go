package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из API, CLI не импортирует внутренние пакеты) ---

// DeployUnit — разворачиваемая единица конфигурации.
type DeployUnit struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version" yaml:"version"`
}

// ConfigSnapshot — предыдущая рабочая конфигурация tenant'а.
type ConfigSnapshot struct {
	DeployUnit DeployUnit `json:"deploy_unit" yaml:"deploy_unit"`
	Endpoints  []string   `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// Failure — причина неуспеха задачи.
type Failure struct {
	Kind   string `json:"kind"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason"`
}

// Checkpoint — прогресс задачи.
type Checkpoint struct {
	CompletedStageNames []string `json:"completed_stage_names"`
}

// PlanResponse — план из API.
type PlanResponse struct {
	ID             string   `json:"id"`
	Status         string   `json:"status"`
	TaskIDs        []string `json:"task_ids"`
	MaxConcurrency int      `json:"max_concurrency"`
	Reason         string   `json:"reason,omitempty"`
	ErrorKind      string   `json:"error_kind,omitempty"`
	CreatedAt      string   `json:"created_at"`
	StartedAt      string   `json:"started_at,omitempty"`
	FinishedAt     string   `json:"finished_at,omitempty"`
}

// TaskResponse — задача из API.
type TaskResponse struct {
	ID         string      `json:"id"`
	PlanID     string      `json:"plan_id"`
	TenantID   string      `json:"tenant_id"`
	Status     string      `json:"status"`
	DeployUnit DeployUnit  `json:"deploy_unit"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
	Failure    *Failure    `json:"failure,omitempty"`
	SkipReason string      `json:"skip_reason,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	CreatedAt  string      `json:"created_at"`
	FinishedAt string      `json:"finished_at,omitempty"`
}

// PlanStats — статистика задач плана.
type PlanStats struct {
	Total    int            `json:"total"`
	Admitted int            `json:"admitted"`
	Skipped  int            `json:"skipped"`
	Finished int            `json:"finished"`
	ByStatus map[string]int `json:"by_status"`
}

// PlanView — план с задачами.
type PlanView struct {
	Plan  PlanResponse   `json:"plan"`
	Tasks []TaskResponse `json:"tasks"`
	Stats PlanStats      `json:"stats"`
}

// TenantLock — владелец блокировки tenant'а.
type TenantLock struct {
	TenantID    string `json:"tenant_id"`
	Locked      bool   `json:"locked"`
	Owner       string `json:"owner,omitempty"`
	OwnerTaskID string `json:"owner_task_id,omitempty"`
	OwnerPlanID string `json:"owner_plan_id,omitempty"`
}

// Lock — блокировка, удерживаемая оркестратором.
type Lock struct {
	TenantID   string `json:"tenant_id"`
	Owner      string `json:"owner"`
	PlanID     string `json:"plan_id"`
	TaskID     string `json:"task_id,omitempty"`
	AcquiredAt string `json:"acquired_at"`
}

// --- Request types ---

// TenantSpec — конфигурация tenant'а в плане.
type TenantSpec struct {
	TenantID             string            `json:"tenant_id" yaml:"tenant_id"`
	DeployUnit           DeployUnit        `json:"deploy_unit" yaml:"deploy_unit"`
	Endpoints            []string          `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Previous             *ConfigSnapshot   `json:"previous,omitempty" yaml:"previous,omitempty"`
	LastKnownGoodVersion string            `json:"last_known_good_version,omitempty" yaml:"last_known_good_version,omitempty"`
	Properties           map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// CreatePlanRequest — создание плана.
type CreatePlanRequest struct {
	ID             string       `json:"id,omitempty" yaml:"id,omitempty"`
	MaxConcurrency int          `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	Tenants        []TenantSpec `json:"tenants" yaml:"tenants"`
	Start          bool         `json:"start,omitempty" yaml:"start,omitempty"`
}

// ListPlansOpts — параметры фильтрации планов.
type ListPlansOpts struct {
	Statuses []string
	Limit    int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string   `json:"code"`
		Message string   `json:"message"`
		Field   string   `json:"field"`
		Tenants []string `json:"tenants"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string

	// Field — поле запроса для ошибок валидации.
	Field string

	// Tenants — занятые tenant'ы для конфликтов.
	Tenants []string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound проверяет, что API ответил 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// --- Client ---

// Client — HTTP-клиент для API оркестратора.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Plans ---

// ListPlans возвращает планы, новые первыми.
func (c *Client) ListPlans(ctx context.Context, opts ListPlansOpts) ([]PlanResponse, error) {
	params := url.Values{}
	for _, s := range opts.Statuses {
		params.Add("status", s)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var plans []PlanResponse
	err := c.list(ctx, "/api/v1/plans", params, &plans)
	return plans, err
}

// CreatePlan создаёт план.
func (c *Client) CreatePlan(ctx context.Context, req CreatePlanRequest) (*PlanView, error) {
	var view PlanView
	err := c.post(ctx, "/api/v1/plans", req, &view)
	return &view, err
}

// GetPlan возвращает план с задачами.
func (c *Client) GetPlan(ctx context.Context, id string) (*PlanView, error) {
	var view PlanView
	err := c.get(ctx, "/api/v1/plans/"+url.PathEscape(id), &view)
	return &view, err
}

// PlanAction выполняет start, pause или resume.
func (c *Client) PlanAction(ctx context.Context, id, action string) (*PlanView, error) {
	var view PlanView
	err := c.post(ctx, "/api/v1/plans/"+url.PathEscape(id)+"/"+action, nil, &view)
	return &view, err
}

// CancelPlan отменяет план.
func (c *Client) CancelPlan(ctx context.Context, id, reason string) (*PlanView, error) {
	var view PlanView
	err := c.post(ctx, "/api/v1/plans/"+url.PathEscape(id)+"/cancel", cancelBody(reason), &view)
	return &view, err
}

// DeletePlan удаляет завершённый план.
func (c *Client) DeletePlan(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/v1/plans/"+url.PathEscape(id))
}

// ListTasks возвращает задачи плана, опционально по статусам.
func (c *Client) ListTasks(ctx context.Context, planID string, statuses ...string) ([]TaskResponse, error) {
	params := url.Values{}
	for _, s := range statuses {
		params.Add("status", s)
	}

	var tasks []TaskResponse
	err := c.list(ctx, "/api/v1/plans/"+url.PathEscape(planID)+"/tasks", params, &tasks)
	return tasks, err
}

// --- Tasks ---

// GetTask возвращает задачу.
func (c *Client) GetTask(ctx context.Context, id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(id), &task)
	return &task, err
}

// TaskAction выполняет pause или resume.
func (c *Client) TaskAction(ctx context.Context, id, action string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(id)+"/"+action, nil, &task)
	return &task, err
}

// CancelTask отменяет задачу.
func (c *Client) CancelTask(ctx context.Context, id, reason string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(id)+"/cancel", cancelBody(reason), &task)
	return &task, err
}

// --- Tenants ---

// TenantLock возвращает владельца блокировки tenant'а.
func (c *Client) TenantLock(ctx context.Context, tenantID string) (*TenantLock, error) {
	var lock TenantLock
	err := c.get(ctx, "/api/v1/tenants/"+url.PathEscape(tenantID)+"/lock", &lock)
	return &lock, err
}

// Locks возвращает блокировки, удерживаемые оркестратором.
func (c *Client) Locks(ctx context.Context) ([]Lock, error) {
	var locks []Lock
	err := c.list(ctx, "/api/v1/locks", nil, &locks)
	return locks, err
}

func cancelBody(reason string) any {
	if reason == "" {
		return nil
	}
	return map[string]string{"reason": reason}
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       er.Error.Code,
		Message:    er.Error.Message,
		Field:      er.Error.Field,
		Tenants:    er.Error.Tenants,
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/conflict"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/orchestrator"
	"github.com/shaiso/Rollout/internal/pipeline"
)

type testServer struct {
	*httptest.Server
	orch *orchestrator.Orchestrator
}

func newTestServer(t *testing.T, strategy conflict.Strategy) *testServer {
	t.Helper()

	conflicts, err := conflict.New(conflict.Config{Strategy: strategy, Backend: conflict.NewMemoryBackend()})
	if err != nil {
		t.Fatalf("conflict.New: %v", err)
	}
	p := pipeline.MustPipeline(
		pipeline.NewStage("apply", &pipeline.StepFunc{StepName: "noop"}),
	)
	o, err := orchestrator.New(orchestrator.Config{
		Conflicts: conflicts,
		Pipeline:  pipeline.Static(p),
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	t.Cleanup(o.Stop)

	mux := http.NewServeMux()
	NewHandler(Config{Service: o}).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, orch: o}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func tenantsOf(ids ...string) []domain.TenantConfig {
	out := make([]domain.TenantConfig, len(ids))
	for i, id := range ids {
		out[i] = domain.TenantConfig{
			TenantID:   id,
			DeployUnit: domain.DeployUnit{ID: "billing", Version: "v2"},
		}
	}
	return out
}

type planEnvelope struct {
	Data orchestrator.PlanView `json:"data"`
}

type errorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return v
}

func expectError(t *testing.T, resp *http.Response, body []byte, status int, code ErrorCode) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, status, body)
	}
	if got := decode[errorEnvelope](t, body).Error.Code; got != code {
		t.Errorf("code = %s, want %s", got, code)
	}
}

// waitStatus опрашивает план, пока он не придёт в нужный статус.
func (s *testServer) waitStatus(t *testing.T, id uuid.UUID, want domain.PlanStatus) orchestrator.PlanView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := s.do(t, http.MethodGet, "/api/v1/plans/"+id.String(), nil)
		if resp.StatusCode == http.StatusOK {
			view := decode[planEnvelope](t, body).Data
			if view.Plan.Status == want {
				return view
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("plan %s did not reach %s", id, want)
	return orchestrator.PlanView{}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   ErrorCode
	}{
		{domain.NewValidationError("tenants", "required"), http.StatusBadRequest, ErrCodeValidation},
		{&domain.ConflictError{TenantID: "a"}, http.StatusConflict, ErrCodeConflict},
		{fmt.Errorf("wrap: %w", orchestrator.ErrPlanExists), http.StatusConflict, ErrCodeConflict},
		{orchestrator.ErrPlanNotFound, http.StatusNotFound, ErrCodeNotFound},
		{orchestrator.ErrTaskNotFound, http.StatusNotFound, ErrCodeNotFound},
		{domain.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{&domain.StateConflictError{Entity: "plan", From: "RUNNING", To: "READY"}, http.StatusUnprocessableEntity, ErrCodeStateConflict},
		{orchestrator.ErrPlanNotTerminal, http.StatusUnprocessableEntity, ErrCodeStateConflict},
		{orchestrator.ErrTaskNotRunning, http.StatusUnprocessableEntity, ErrCodeStateConflict},
		{orchestrator.ErrOrchestratorStopped, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternalError},
	}
	for _, tt := range tests {
		status, code := statusOf(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("statusOf(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestCreatePlan_StartAndComplete(t *testing.T) {
	s := newTestServer(t, conflict.StrategyFine)

	resp, body := s.do(t, http.MethodPost, "/api/v1/plans", CreatePlanRequest{
		Tenants: tenantsOf("a", "b"),
		Start:   true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}

	created := decode[planEnvelope](t, body).Data
	if len(created.Tasks) != 2 {
		t.Fatalf("tasks = %d", len(created.Tasks))
	}

	view := s.waitStatus(t, created.Plan.ID, domain.PlanStatusCompleted)
	if view.Stats.ByStatus[domain.TaskStatusCompleted] != 2 {
		t.Errorf("stats = %+v", view.Stats)
	}

	resp, body = s.do(t, http.MethodGet, "/api/v1/plans/"+created.Plan.ID.String()+"/tasks?status=completed", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d %s", resp.StatusCode, body)
	}
	tasks := decode[struct {
		Data  []domain.TaskSnapshot `json:"data"`
		Total int                   `json:"total"`
	}](t, body)
	if tasks.Total != 2 {
		t.Errorf("completed tasks = %d", tasks.Total)
	}

	taskID := tasks.Data[0].ID.String()
	resp, _ = s.do(t, http.MethodGet, "/api/v1/tasks/"+taskID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get task: %d", resp.StatusCode)
	}

	// Завершённую задачу нельзя приостановить.
	resp, body = s.do(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/pause", nil)
	expectError(t, resp, body, http.StatusUnprocessableEntity, ErrCodeStateConflict)
}

func TestCreatePlan_Errors(t *testing.T) {
	s := newTestServer(t, conflict.StrategyFine)

	resp, body := s.do(t, http.MethodPost, "/api/v1/plans", map[string]any{"tenants": "nope"})
	expectError(t, resp, body, http.StatusBadRequest, ErrCodeBadRequest)

	bad := tenantsOf("a")
	bad[0].DeployUnit.Version = ""
	resp, body = s.do(t, http.MethodPost, "/api/v1/plans", CreatePlanRequest{Tenants: bad})
	expectError(t, resp, body, http.StatusBadRequest, ErrCodeValidation)
	if field := decode[errorEnvelope](t, body).Error.Field; field != "deploy_unit.version" {
		t.Errorf("field = %q", field)
	}

	id := uuid.New()
	resp, _ = s.do(t, http.MethodPost, "/api/v1/plans", CreatePlanRequest{ID: &id, Tenants: tenantsOf("a")})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create: %d", resp.StatusCode)
	}
	resp, body = s.do(t, http.MethodPost, "/api/v1/plans", CreatePlanRequest{ID: &id, Tenants: tenantsOf("b")})
	expectError(t, resp, body, http.StatusConflict, ErrCodeConflict)
}

func TestCoarseConflictAndLocks(t *testing.T) {
	s := newTestServer(t, conflict.StrategyCoarse)

	resp, body := s.do(t, http.MethodPost, "/api/v1/plans", CreatePlanRequest{Tenants: tenantsOf("a", "b")})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	first := decode[planEnvelope](t, body).Data

	resp, body = s.do(t, http.MethodPost, "/api/v1/plans", CreatePlanRequest{Tenants: tenantsOf("b", "c")})
	expectError(t, resp, body, http.StatusConflict, ErrCodeConflict)
	if detail := decode[errorEnvelope](t, body).Error; len(detail.Tenants) != 1 || detail.Tenants[0] != "b" {
		t.Errorf("conflict tenants = %v, want [b]", detail.Tenants)
	}

	resp, body = s.do(t, http.MethodGet, "/api/v1/tenants/b/lock", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tenant lock: %d", resp.StatusCode)
	}
	lock := decode[struct {
		Data orchestrator.TenantLock `json:"data"`
	}](t, body).Data
	if !lock.Locked || lock.OwnerPlanID != first.Plan.ID.String() || lock.OwnerTaskID != "" {
		t.Errorf("lock = %+v", lock)
	}

	resp, body = s.do(t, http.MethodGet, "/api/v1/locks", nil)
	locks := decode[struct {
		Total int `json:"total"`
	}](t, body)
	if resp.StatusCode != http.StatusOK || locks.Total != 2 {
		t.Errorf("locks: %d total=%d", resp.StatusCode, locks.Total)
	}

	// Не завершённый план удалить нельзя.
	path := "/api/v1/plans/" + first.Plan.ID.String()
	resp, body = s.do(t, http.MethodDelete, path, nil)
	expectError(t, resp, body, http.StatusUnprocessableEntity, ErrCodeStateConflict)

	resp, body = s.do(t, http.MethodPost, path+"/cancel", CancelRequest{Reason: "changed my mind"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d %s", resp.StatusCode, body)
	}
	s.waitStatus(t, first.Plan.ID, domain.PlanStatusCancelled)

	resp, body = s.do(t, http.MethodGet, "/api/v1/tenants/b/lock", nil)
	if lock := decode[struct {
		Data orchestrator.TenantLock `json:"data"`
	}](t, body).Data; lock.Locked {
		t.Errorf("lock after cancel = %+v", lock)
	}

	resp, _ = s.do(t, http.MethodDelete, path, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, body = s.do(t, http.MethodGet, path, nil)
	expectError(t, resp, body, http.StatusNotFound, ErrCodeNotFound)
}

func TestPlanControl_StateConflicts(t *testing.T) {
	s := newTestServer(t, conflict.StrategyFine)

	resp, body := s.do(t, http.MethodPost, "/api/v1/plans", CreatePlanRequest{Tenants: tenantsOf("a")})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d", resp.StatusCode)
	}
	id := decode[planEnvelope](t, body).Data.Plan.ID.String()

	// READY нельзя поставить на паузу.
	resp, body = s.do(t, http.MethodPost, "/api/v1/plans/"+id+"/pause", nil)
	expectError(t, resp, body, http.StatusUnprocessableEntity, ErrCodeStateConflict)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/plans/"+id+"/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d", resp.StatusCode)
	}

	// Повторный запуск — конфликт состояния.
	resp, body = s.do(t, http.MethodPost, "/api/v1/plans/"+id+"/start", nil)
	expectError(t, resp, body, http.StatusUnprocessableEntity, ErrCodeStateConflict)
}

func TestListPlans(t *testing.T) {
	s := newTestServer(t, conflict.StrategyFine)

	for _, tenant := range []string{"a", "b", "c"} {
		resp, _ := s.do(t, http.MethodPost, "/api/v1/plans", CreatePlanRequest{Tenants: tenantsOf(tenant)})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create: %d", resp.StatusCode)
		}
	}

	resp, body := s.do(t, http.MethodGet, "/api/v1/plans?status=READY&limit=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	list := decode[struct {
		Data  []domain.PlanSnapshot `json:"data"`
		Total int                   `json:"total"`
	}](t, body)
	if list.Total != 2 {
		t.Errorf("total = %d, want 2", list.Total)
	}

	resp, body = s.do(t, http.MethodGet, "/api/v1/plans?status=RUNNING", nil)
	if decode[struct {
		Total int `json:"total"`
	}](t, body).Total != 0 || resp.StatusCode != http.StatusOK {
		t.Errorf("running list: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/v1/plans?status=SLEEPING", nil)
	expectError(t, resp, body, http.StatusBadRequest, ErrCodeBadRequest)

	resp, body = s.do(t, http.MethodGet, "/api/v1/plans?limit=-1", nil)
	expectError(t, resp, body, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestNotFoundAndBadIDs(t *testing.T) {
	s := newTestServer(t, conflict.StrategyFine)

	resp, body := s.do(t, http.MethodGet, "/api/v1/plans/not-a-uuid", nil)
	expectError(t, resp, body, http.StatusBadRequest, ErrCodeBadRequest)

	resp, body = s.do(t, http.MethodGet, "/api/v1/plans/"+uuid.NewString(), nil)
	expectError(t, resp, body, http.StatusNotFound, ErrCodeNotFound)

	resp, body = s.do(t, http.MethodPost, "/api/v1/tasks/"+uuid.NewString()+"/cancel", nil)
	expectError(t, resp, body, http.StatusNotFound, ErrCodeNotFound)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, conflict.StrategyFine)

	resp, body := s.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, body)["queue"]; got != "disabled" {
		t.Errorf("queue = %q, want disabled", got)
	}

	s.orch.Stop()
	resp, _ = s.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz after stop = %d", resp.StatusCode)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Chain(RequestID(), Recovery(NewHandler(Config{}).logger))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("request id not set")
	}
}

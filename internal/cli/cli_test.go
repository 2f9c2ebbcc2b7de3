package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const samplePlan = `
max_concurrency: 2
tenants:
  - tenant_id: acme
    deploy_unit: {id: billing, version: v2}
    endpoints: [http://acme-1:8080]
    previous:
      deploy_unit: {id: billing, version: v1}
    last_known_good_version: v1
  - tenant_id: globex
    deploy_unit: {id: billing, version: v2}
`

func TestParsePlan(t *testing.T) {
	req, err := ParsePlan([]byte(samplePlan))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if req.MaxConcurrency != 2 || len(req.Tenants) != 2 {
		t.Fatalf("req = %+v", req)
	}
	acme := req.Tenants[0]
	if acme.Previous == nil || acme.Previous.DeployUnit.Version != "v1" || acme.LastKnownGoodVersion != "v1" {
		t.Errorf("acme = %+v", acme)
	}
}

func TestParsePlan_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":           "",
		"no tenants":      "max_concurrency: 1\n",
		"missing tenant":  "tenants:\n  - deploy_unit: {id: a, version: v1}\n",
		"missing version": "tenants:\n  - tenant_id: a\n    deploy_unit: {id: a}\n",
		"duplicate":       "tenants:\n  - {tenant_id: a, deploy_unit: {id: u, version: v}}\n  - {tenant_id: a, deploy_unit: {id: u, version: v}}\n",
		"unknown key":     "tenants:\n  - {tenant_id: a, deploy_unit: {id: u, version: v}, color: red}\n",
		"negative":        "max_concurrency: -1\ntenants:\n  - {tenant_id: a, deploy_unit: {id: u, version: v}}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePlan([]byte(doc)); !errors.Is(err, ErrInvalidPlanFile) {
				t.Errorf("err = %v, want ErrInvalidPlanFile", err)
			}
		})
	}
}

// fakeAPI — минимальная заглушка API, запоминающая запросы.
type fakeAPI struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string][]byte
}

func (f *fakeAPI) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r.Body)
	f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
	f.bodies[r.Method+" "+r.URL.Path] = buf.Bytes()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const planID = "0b4a2c1e-8d0f-4e1a-9a55-3f3a1c2b9e10"

func sampleView(status string) PlanView {
	return PlanView{
		Plan: PlanResponse{ID: planID, Status: status, TaskIDs: []string{"t1"}, MaxConcurrency: 2},
		Tasks: []TaskResponse{{
			ID: "t1", PlanID: planID, TenantID: "acme", Status: "COMPLETED",
			DeployUnit: DeployUnit{ID: "billing", Version: "v2"},
			Checkpoint: &Checkpoint{CompletedStageNames: []string{"push", "verify"}},
		}},
		Stats: PlanStats{Total: 1, Admitted: 1, Finished: 1, ByStatus: map[string]int{"COMPLETED": 1}},
	}
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{bodies: make(map[string][]byte)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/plans", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusCreated, map[string]any{"data": sampleView("RUNNING")})
	})
	mux.HandleFunc("GET /api/v1/plans", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		plans := []PlanResponse{sampleView("RUNNING").Plan}
		writeJSON(w, http.StatusOK, map[string]any{"data": plans, "total": len(plans)})
	})
	mux.HandleFunc("GET /api/v1/plans/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.PathValue("id") != planID {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"code": "NOT_FOUND", "message": "plan not found"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": sampleView("FAILED")})
	})
	mux.HandleFunc("POST /api/v1/plans/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"data": sampleView("CANCELLED")})
	})
	mux.HandleFunc("DELETE /api/v1/plans/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": map[string]string{"code": "STATE_CONFLICT", "message": "plan is not in a terminal status"}})
	})
	mux.HandleFunc("GET /api/v1/tenants/{id}/lock", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]any{"data": TenantLock{TenantID: r.PathValue("id"), Locked: true, Owner: "task:t1"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd("test")
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--api-url", srv.URL}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestPlanCreate(t *testing.T) {
	f, srv := newFakeAPI(t)

	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(samplePlan), 0o600); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, err := run(t, srv, "plan", "create", "-f", path, "--start", "--max-concurrency", "5")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(stderr, "Plan created: "+planID) {
		t.Errorf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "acme") || !strings.Contains(stdout, "push,verify") {
		t.Errorf("stdout = %q", stdout)
	}

	var sent CreatePlanRequest
	if err := json.Unmarshal(f.bodies["POST /api/v1/plans"], &sent); err != nil {
		t.Fatal(err)
	}
	if !sent.Start || sent.MaxConcurrency != 5 || len(sent.Tenants) != 2 {
		t.Errorf("sent = %+v", sent)
	}
}

func TestPlanList_JSON(t *testing.T) {
	f, srv := newFakeAPI(t)

	stdout, _, err := run(t, srv, "--json", "plan", "list", "--status", "RUNNING,PAUSED", "--limit", "10")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	var plans []PlanResponse
	if err := json.Unmarshal([]byte(stdout), &plans); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout)
	}
	if len(plans) != 1 || plans[0].ID != planID {
		t.Errorf("plans = %+v", plans)
	}

	got := f.requests[0]
	if !strings.Contains(got, "status=RUNNING") || !strings.Contains(got, "status=PAUSED") || !strings.Contains(got, "limit=10") {
		t.Errorf("request = %s", got)
	}
}

func TestPlanWait_FailedPlanExitsNonZero(t *testing.T) {
	_, srv := newFakeAPI(t)

	_, stderr, err := run(t, srv, "plan", "wait", planID, "--interval", "10ms")
	if err == nil || !strings.Contains(err.Error(), "FAILED") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(stderr, "COMPLETED=1") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestPlanCancelAndDelete(t *testing.T) {
	f, srv := newFakeAPI(t)

	if _, _, err := run(t, srv, "plan", "cancel", planID, "--reason", "bad config"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if body := string(f.bodies["POST /api/v1/plans/"+planID+"/cancel"]); !strings.Contains(body, "bad config") {
		t.Errorf("cancel body = %q", body)
	}

	_, _, err := run(t, srv, "plan", "delete", planID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "STATE_CONFLICT" {
		t.Fatalf("delete err = %v", err)
	}
}

func TestPlanShow_NotFound(t *testing.T) {
	_, srv := newFakeAPI(t)

	_, _, err := run(t, srv, "plan", "show", "nope")
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestTenantLock(t *testing.T) {
	_, srv := newFakeAPI(t)

	stdout, _, err := run(t, srv, "tenant", "lock", "acme")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !strings.Contains(stdout, "task:t1") || !strings.Contains(stdout, "true") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestOutput_YAML(t *testing.T) {
	_, srv := newFakeAPI(t)

	stdout, _, err := run(t, srv, "-o", "yaml", "tenant", "lock", "acme")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !strings.Contains(stdout, "tenant_id: acme") || !strings.Contains(stdout, "locked: true") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestOutput_UnknownFormat(t *testing.T) {
	_, srv := newFakeAPI(t)

	if _, _, err := run(t, srv, "-o", "xml", "tenant", "locks"); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "TABLE": FormatTable, "json": FormatJSON, "Yaml": FormatYAML} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
}

func TestPlanCreate_ConflictListsTenants(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/plans", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": map[string]any{
			"code":    "CONFLICT",
			"message": "tenants already locked: acme, globex",
			"tenants": []string{"acme", "globex"},
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(samplePlan), 0o600); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := run(t, srv, "plan", "create", "-f", path)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || len(apiErr.Tenants) != 2 {
		t.Fatalf("err = %#v", err)
	}
	if !strings.Contains(stderr, "locked tenants: acme, globex") {
		t.Errorf("stderr = %q", stderr)
	}
}

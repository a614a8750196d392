package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgentGuard-Chain/internal/submit"
)

func newTestServer(t *testing.T) (*Server, *submit.Service) {
	t.Helper()
	store := submit.NewMemoryStore()
	queue := submit.NewMemoryQueue(16)
	t.Cleanup(func() { _ = queue.Close() })
	service := submit.NewService(store, queue, 3)
	return NewServer(":0", service), service
}

func TestSubmitReturnsAccepted(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	body := `{"agent_id":"a1","intent":{"kind":"transfer","id":"it-1","chain":"devnet","from_wallet_id":"w1","to":"dst","amount":"10"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var sub submit.Submission
	if err := json.NewDecoder(rec.Body).Decode(&sub); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sub.ID == "" || sub.Status != submit.StatusPending {
		t.Fatalf("unexpected submission: %+v", sub)
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	cases := map[string]string{
		"missing agent": `{"intent":{"kind":"transfer"}}`,
		"broken json":   `{broken`,
		"no intent":     `{"agent_id":"a1"}`,
	}
	for name, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestGetExecution(t *testing.T) {
	server, service := newTestServer(t)
	handler := server.Handler()

	sub, err := service.Submit(httptest.NewRequest(http.MethodGet, "/", nil).Context(), submit.Request{
		ID:      "exec-1",
		AgentID: "a1",
		Intent:  json.RawMessage(`{"kind":"transfer"}`),
	})
	if err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/executions/"+sub.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var fetched submit.Submission
	if err := json.NewDecoder(rec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.ID != "exec-1" || fetched.AgentID != "a1" {
		t.Fatalf("unexpected execution: %+v", fetched)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/executions/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code == "" {
		t.Fatal("error body must carry a code")
	}
}

func TestListExecutionsWithFilters(t *testing.T) {
	server, service := newTestServer(t)
	handler := server.Handler()
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	for _, seed := range []struct{ id, agent string }{
		{"e1", "a1"}, {"e2", "a1"}, {"e3", "a2"},
	} {
		if _, err := service.Submit(ctx, submit.Request{
			ID:      seed.id,
			AgentID: seed.agent,
			Intent:  json.RawMessage(`{"kind":"transfer"}`),
		}); err != nil {
			t.Fatalf("seed %s: %v", seed.id, err)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/executions?agent_id=a1&status=pending", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var subs []*submit.Submission
	if err := json.NewDecoder(rec.Body).Decode(&subs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions for a1, got %d", len(subs))
	}
	for _, sub := range subs {
		if sub.AgentID != "a1" {
			t.Fatalf("filter leaked foreign agent: %+v", sub)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	server, service := newTestServer(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	if _, err := service.Submit(ctx, submit.Request{
		ID:      "e1",
		AgentID: "a1",
		Intent:  json.RawMessage(`{"kind":"transfer"}`),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats submit.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/executions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/executions/e1", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

package agentguard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/executions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.AgentID != "a1" {
			t.Errorf("unexpected agent id: %s", req.AgentID)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Execution{ID: "e1", AgentID: req.AgentID, Status: "pending"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	exec, err := client.Submit(context.Background(), SubmitRequest{
		AgentID: "a1",
		Intent:  json.RawMessage(`{"kind":"transfer"}`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if exec.ID != "e1" || exec.Status != "pending" {
		t.Fatalf("unexpected execution: %+v", exec)
	}
}

func TestGetExecutionAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "SUBMISSION_NOT_FOUND",
			"message": "no such execution",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetExecution(context.Background(), "ghost")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "SUBMISSION_NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestListExecutionsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("agent_id") != "a1" || q.Get("limit") != "5" || q.Get("status") != "confirmed,failed" {
			t.Errorf("unexpected query: %v", q)
		}
		_ = json.NewEncoder(w).Encode([]Execution{{ID: "e1"}, {ID: "e2"}})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	execs, err := client.ListExecutions(context.Background(), ListOptions{
		AgentID:  "a1",
		Limit:    5,
		Statuses: []string{"confirmed", "failed"},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(execs))
	}
}

func TestWaitForResultPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := "running"
		if calls.Add(1) >= 3 {
			status = "confirmed"
		}
		_ = json.NewEncoder(w).Encode(Execution{ID: "e1", Status: status})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exec, err := client.WaitForResult(ctx, "e1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if exec.Status != "confirmed" {
		t.Fatalf("unexpected status: %s", exec.Status)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls.Load())
	}
}

func TestExecutionTerminal(t *testing.T) {
	for status, terminal := range map[string]bool{
		"pending":   false,
		"running":   false,
		"confirmed": true,
		"denied":    true,
		"failed":    true,
	} {
		e := &Execution{Status: status}
		if e.Terminal() != terminal {
			t.Fatalf("status %s: expected terminal=%v", status, terminal)
		}
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("://not-a-url", nil); err == nil {
		t.Fatal("invalid url must be rejected")
	}
}

package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"AgentGuard-Chain/internal/executor"
)

func newPendingSubmission(id, agentID string) *Submission {
	return &Submission{
		ID:         id,
		AgentID:    agentID,
		Payload:    []byte(`{"kind":"transfer"}`),
		Status:     StatusPending,
		MaxRetries: 3,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newPendingSubmission("s1", "a1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newPendingSubmission("s1", "a1")); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate create should conflict, got %v", err)
	}

	sub, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.Status != StatusPending || sub.CreatedAt == 0 {
		t.Fatalf("unexpected submission: %+v", sub)
	}

	if _, err := store.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newPendingSubmission("s1", "a1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.Claim(ctx, "s1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed submission: %+v", claimed)
	}

	// 运行中的提交不能被第二个 worker 领取。
	if _, err := store.Claim(ctx, "s1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on running submission, got %v", err)
	}

	res := &executor.Result{IntentID: "it-1", AgentID: "a1", Success: true, TxHash: "0xabc"}
	if err := store.Complete(ctx, "s1", res); err != nil {
		t.Fatalf("complete: %v", err)
	}
	sub, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.Status != StatusConfirmed {
		t.Fatalf("successful result should confirm, got %s", sub.Status)
	}
	if sub.Result == nil || sub.Result.TxHash != "0xabc" {
		t.Fatalf("result not stored: %+v", sub.Result)
	}

	if _, err := store.Claim(ctx, "s1"); !errors.Is(err, ErrCompleted) {
		t.Fatalf("terminal submission must not be claimed again, got %v", err)
	}
}

func TestMemoryStoreClaimExhaustsRetries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := newPendingSubmission("s1", "a1")
	sub.MaxRetries = 2
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := store.Claim(ctx, "s1"); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if err := store.MarkFailed(ctx, "s1", CodeSubmissionProcessing, "boom", false); err != nil {
			t.Fatalf("mark failed %d: %v", i, err)
		}
	}

	if _, err := store.Claim(ctx, "s1"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMemoryStoreCompleteDerivesDeniedStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newPendingSubmission("s1", "a1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "s1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	res := &executor.Result{
		IntentID:     "it-1",
		AgentID:      "a1",
		Success:      false,
		FailedStage:  executor.StagePolicy,
		ErrorCode:    "POLICY_VIOLATION",
		ErrorMessage: "denied",
	}
	if err := store.Complete(ctx, "s1", res); err != nil {
		t.Fatalf("complete: %v", err)
	}

	sub, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.Status != StatusDenied {
		t.Fatalf("policy denial should map to denied, got %s", sub.Status)
	}
	if sub.ErrorCode != "POLICY_VIOLATION" {
		t.Fatalf("error code not recorded: %+v", sub)
	}
}

func TestMemoryStoreListAndStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		agent := "a1"
		if id == "s3" {
			agent = "a2"
		}
		if err := store.Create(ctx, newPendingSubmission(id, agent)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := store.Claim(ctx, "s2"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Complete(ctx, "s2", &executor.Result{Success: true, TxHash: "0x1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	confirmed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusConfirmed)}))
	if err != nil {
		t.Fatalf("list confirmed: %v", err)
	}
	if len(confirmed) != 1 || confirmed[0].ID != "s2" {
		t.Fatalf("unexpected confirmed list: %+v", confirmed)
	}

	byAgent, err := store.List(ctx, buildListOptions([]ListOption{WithAgentID("a2")}))
	if err != nil {
		t.Fatalf("list by agent: %v", err)
	}
	if len(byAgent) != 1 || byAgent[0].ID != "s3" {
		t.Fatalf("unexpected agent list: %+v", byAgent)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Confirmed != 1 || stats.Pending != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newPendingSubmission("s1", "a1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	sub, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sub.Status = StatusConfirmed

	again, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Status != StatusPending {
		t.Fatal("mutating a returned submission must not affect the store")
	}
}

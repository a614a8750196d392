package submit

import (
	"context"
	"errors"
	"testing"

	xerrors "AgentGuard-Chain/internal/errors"
)

type recordingProducer struct {
	published []string
	failWith  error
}

func (p *recordingProducer) Publish(_ context.Context, submissionID string) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.published = append(p.published, submissionID)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func TestServiceSubmitPublishes(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{}
	service := NewService(store, producer, 3)

	sub, err := service.Submit(context.Background(), Request{
		AgentID: "a1",
		Intent:  []byte(`{"kind":"transfer"}`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.ID == "" {
		t.Fatal("service must assign an id when none is supplied")
	}
	if sub.Status != StatusPending || sub.MaxRetries != 3 {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if len(producer.published) != 1 || producer.published[0] != sub.ID {
		t.Fatalf("submission not published: %v", producer.published)
	}
}

func TestServiceSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(), &recordingProducer{}, 3)

	if _, err := service.Submit(context.Background(), Request{AgentID: "", Intent: []byte(`{}`)}); err == nil {
		t.Fatal("empty agent id must be rejected")
	}
	if _, err := service.Submit(context.Background(), Request{AgentID: "a1", Intent: []byte(`{broken`)}); err == nil {
		t.Fatal("invalid json must be rejected")
	}
	if _, err := service.Submit(context.Background(), Request{AgentID: "a1"}); err == nil {
		t.Fatal("missing intent must be rejected")
	}
}

func TestServiceSubmitIdempotentOnSuppliedID(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{}
	service := NewService(store, producer, 3)

	req := Request{ID: "fixed-id", AgentID: "a1", Intent: []byte(`{"kind":"transfer"}`)}
	first, err := service.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := service.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same submission, got %s and %s", first.ID, second.ID)
	}
	if len(producer.published) != 1 {
		t.Fatalf("duplicate submission must not re-enter the queue: %v", producer.published)
	}
}

func TestServiceSubmitPublishFailureMarksFailed(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{failWith: errors.New("broker down")}
	service := NewService(store, producer, 3)

	_, err := service.Submit(context.Background(), Request{
		ID:      "s1",
		AgentID: "a1",
		Intent:  []byte(`{"kind":"transfer"}`),
	})
	if err == nil {
		t.Fatal("publish failure must surface to the caller")
	}
	if xerrors.CodeOf(err) != CodeSubmissionPublish {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}

	sub, getErr := store.Get(context.Background(), "s1")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if sub.Status != StatusFailed || sub.ErrorCode != string(CodeSubmissionPublish) {
		t.Fatalf("submission must be marked failed: %+v", sub)
	}
}

func TestStatusOfDerivation(t *testing.T) {
	if StatusOf(nil) != StatusFailed {
		t.Fatal("nil result maps to failed")
	}
}

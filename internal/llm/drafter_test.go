package llm

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDrafter_ReturnsParsedDraft(t *testing.T) {
	srv := testServer(t, `{"subject": "Following up", "body": "Just checking in on the contract renewal."}`)
	defer srv.Close()

	d := NewDrafter(testClient(t, srv), zap.NewNop())
	draft := d.Draft(context.Background(), "Jordan re: contract", "renew before month end", "friendly")

	if draft.Subject != "Following up" {
		t.Errorf("subject = %s", draft.Subject)
	}
	if draft.Body == "" {
		t.Fatal("expected non-empty body")
	}
}

func TestDrafter_MalformedOutputFallsBackToTemplate(t *testing.T) {
	srv := testServer(t, "not json")
	defer srv.Close()

	d := NewDrafter(testClient(t, srv), zap.NewNop())
	draft := d.Draft(context.Background(), "Jordan", "renew contract", "friendly")

	if draft.Body == "" {
		t.Fatal("expected fallback body")
	}
}

func TestDrafter_EmptyBodyFallsBackToTemplate(t *testing.T) {
	srv := testServer(t, `{"subject": "x", "body": ""}`)
	defer srv.Close()

	d := NewDrafter(testClient(t, srv), zap.NewNop())
	draft := d.Draft(context.Background(), "Jordan", "renew contract", "friendly")

	if draft.Body == "" {
		t.Fatal("expected fallback body when drafter returns empty body")
	}
}

func TestDrafter_TransportFailureFallsBack(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:0", Timeout: 100 * time.Millisecond}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	d := NewDrafter(c, zap.NewNop())
	draft := d.Draft(context.Background(), "Jordan", "renew contract", "friendly")
	if draft.Body == "" {
		t.Fatal("expected fallback body on transport failure")
	}
}

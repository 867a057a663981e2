package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := chatResponse{}
		resp.Choices = []struct {
			Message      ChatMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		}{
			{Message: ChatMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestExtractor_ConfidentResult(t *testing.T) {
	srv := testServer(t, `{
		"needs_clarification": false,
		"due_at_iso": "2026-08-10T09:00:00-05:00",
		"action_type": "remind",
		"contact_hint": "Jordan re: contract renewal",
		"context": "renew before end of month"
	}`)
	defer srv.Close()

	e := NewExtractor(testClient(t, srv), zap.NewNop())
	result := e.Extract(context.Background(), "remind me to follow up with Jordan", "America/Chicago", time.Now())

	if result.NeedsClarification {
		t.Fatal("expected a confident result")
	}
	if result.ActionType != "remind" {
		t.Errorf("action_type = %s", result.ActionType)
	}
}

func TestExtractor_MalformedJSONFallsBackToClarification(t *testing.T) {
	srv := testServer(t, "not json")
	defer srv.Close()

	e := NewExtractor(testClient(t, srv), zap.NewNop())
	result := e.Extract(context.Background(), "some text", "UTC", time.Now())

	if !result.NeedsClarification {
		t.Fatal("expected fallback clarification")
	}
	if result.ClarifyingQuestion != fallbackQuestion {
		t.Errorf("expected fallback question, got %q", result.ClarifyingQuestion)
	}
}

func TestExtractor_InvalidDueAtFallsBackToClarification(t *testing.T) {
	srv := testServer(t, `{
		"needs_clarification": false,
		"due_at_iso": "not-a-date",
		"action_type": "remind",
		"contact_hint": "x",
		"context": "y"
	}`)
	defer srv.Close()

	e := NewExtractor(testClient(t, srv), zap.NewNop())
	result := e.Extract(context.Background(), "text", "UTC", time.Now())

	if !result.NeedsClarification {
		t.Fatal("expected fallback clarification for unparseable due_at_iso")
	}
}

func TestExtractor_UnknownActionTypeFallsBackToClarification(t *testing.T) {
	srv := testServer(t, `{
		"needs_clarification": false,
		"due_at_iso": "2026-08-10T09:00:00-05:00",
		"action_type": "bogus",
		"contact_hint": "x",
		"context": "y"
	}`)
	defer srv.Close()

	e := NewExtractor(testClient(t, srv), zap.NewNop())
	result := e.Extract(context.Background(), "text", "UTC", time.Now())

	if !result.NeedsClarification {
		t.Fatal("expected fallback clarification for unknown action_type")
	}
}

func TestExtractor_ClarificationWithoutQuestionFallsBack(t *testing.T) {
	srv := testServer(t, `{"needs_clarification": true, "clarifying_question": ""}`)
	defer srv.Close()

	e := NewExtractor(testClient(t, srv), zap.NewNop())
	result := e.Extract(context.Background(), "text", "UTC", time.Now())

	if result.ClarifyingQuestion != fallbackQuestion {
		t.Errorf("expected fallback question, got %q", result.ClarifyingQuestion)
	}
}

func TestExtractor_TransportFailureFallsBack(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:0", Timeout: 100 * time.Millisecond}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	e := NewExtractor(c, zap.NewNop())
	result := e.Extract(context.Background(), "text", "UTC", time.Now())
	if !result.NeedsClarification {
		t.Fatal("expected fallback clarification on transport failure")
	}
}

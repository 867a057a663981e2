package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/test", 200, 100*time.Millisecond)
	RecordRequest("POST", "/test", 201, 50*time.Millisecond)
	RecordRequest("GET", "/test", 404, 10*time.Millisecond)
}

func TestRecordInboundAccepted(t *testing.T) {
	RecordInboundAccepted("email")
	RecordInboundAccepted("chat")
}

func TestRecordInboundDuplicate(t *testing.T) {
	RecordInboundDuplicate("email")
}

func TestRecordInboundRejected(t *testing.T) {
	RecordInboundRejected("email", "bad_signature")
	RecordInboundRejected("chat", "unknown_user")
}

func TestRecordIngestJobLatency(t *testing.T) {
	RecordIngestJobLatency(250 * time.Millisecond)
}

func TestRecordTasksClaimed(t *testing.T) {
	RecordTasksClaimed(3)
	RecordTasksClaimed(0)
}

func TestRecordTaskTransition(t *testing.T) {
	RecordTaskTransition("due")
	RecordTaskTransition("failed")
}

func TestRecordOutboxOutcome(t *testing.T) {
	RecordOutboxOutcome("email", "sent", 1)
	RecordOutboxOutcome("chat", "failed", 5)
}

func TestRecordOutboxLatency(t *testing.T) {
	RecordOutboxLatency("email", 2*time.Second)
}

func TestSetCircuitBreakerState(t *testing.T) {
	SetCircuitBreakerState("extractor", 0)
	SetCircuitBreakerState("ses", 2)
}

func TestRecordIdempotencyHit(t *testing.T) {
	RecordIdempotencyHit()
	RecordIdempotencyHit()
}

func TestRecordRateLimitRejection(t *testing.T) {
	RecordRateLimitRejection("user-1")
	RecordRateLimitRejection("user-2")
}

func TestSetQueueMessagesInFlight(t *testing.T) {
	SetQueueMessagesInFlight("ingest", 10)
	SetQueueMessagesInFlight("execute", 0)
}

func TestSetDBConnections(t *testing.T) {
	SetDBConnections(10)
	SetDBConnections(20)
}

func TestSetRedisConnections(t *testing.T) {
	SetRedisConnections(5)
	SetRedisConnections(10)
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Error("Handler should not return nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if len(body) == 0 {
		t.Error("metrics response should not be empty")
	}
}

func TestMiddleware(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	handler := Middleware(inner)
	req := httptest.NewRequest("POST", "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !innerCalled {
		t.Error("inner handler should have been called")
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("test"))

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}

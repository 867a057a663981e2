package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestQueue(t *testing.T) (*Queue, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := New(rdb, zap.NewNop())

	return q, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	const stream, group = "ingest", "ingest-workers"

	if err := q.EnsureGroup(ctx, stream, group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	payload, _ := json.Marshal(map[string]string{"inbound_id": "abc"})
	if err := q.Enqueue(ctx, stream, Job{ID: "ingest:abc", Payload: payload}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs, err := q.Dequeue(ctx, stream, group, "worker-1", 10, 0)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].ID != "ingest:abc" {
		t.Errorf("expected job id ingest:abc, got %s", jobs[0].ID)
	}

	if err := q.Ack(ctx, stream, group, jobs[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestQueue_EnqueueDuplicateRejected(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	const stream = "ingest"

	if err := q.Enqueue(ctx, stream, Job{ID: "ingest:dup", Payload: []byte("{}")}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	err := q.Enqueue(ctx, stream, Job{ID: "ingest:dup", Payload: []byte("{}")})
	if err != ErrDuplicateJob {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestQueue_ReclaimStale(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	const stream, group = "execute", "exec-workers"

	if err := q.EnsureGroup(ctx, stream, group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := q.Enqueue(ctx, stream, Job{ID: "exec:1", Payload: []byte("{}")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// worker-1 reads but never acks (simulating a crash).
	if _, err := q.Dequeue(ctx, stream, group, "worker-1", 10, 0); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	jobs, err := q.ReclaimStale(ctx, stream, group, "worker-2", 0, 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", len(jobs))
	}
	if jobs[0].ID != "exec:1" {
		t.Errorf("expected exec:1, got %s", jobs[0].ID)
	}
}

func TestQueue_DequeueEmptyReturnsNil(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	if err := q.EnsureGroup(ctx, "empty", "workers"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	jobs, err := q.Dequeue(ctx, "empty", "workers", "worker-1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
}

// Package queue provides the job queue that carries work between the
// pipeline's stages (ingest and execute jobs). It is built on Redis
// Streams: XADD/XREADGROUP/XACK give at-least-once delivery with
// consumer groups, so any number of worker replicas can share a
// stream without two of them claiming the same message.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrDuplicateJob is returned by Enqueue when a job with the same
// identity key has already been enqueued within the dedup window.
// The Store's unique constraints remain the authoritative dedup layer;
// this is a second layer that keeps the same job from being queued
// twice in the ordinary case (e.g. a handler re-enqueuing after a
// crash before it acknowledged the original message).
var ErrDuplicateJob = errors.New("queue: duplicate job identity")

// dedupTTL bounds how long a job identity is remembered. It only needs
// to outlive the time between an enqueue and its ack, plus retry
// margin, since the store-level unique constraint backstops anything
// that slips past it.
const dedupTTL = 24 * time.Hour

// Job is a unit of work carried on a stream.
type Job struct {
	// ID is the identity key used for dedup, not the stream message ID.
	// Callers construct it from the entity the job is about, e.g.
	// "<user_id>:<provider_message_id>" for ingest or "exec:<task_id>".
	ID      string
	Payload json.RawMessage

	streamID string // set on Dequeue, needed to Ack
}

// Queue is a Redis Streams-backed job queue with consumer-group
// semantics and identity-based deduplication.
type Queue struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New wraps an existing go-redis client. The queue shares the Redis
// instance already used for idempotency and rate limiting rather than
// standing up a separate broker.
func New(rdb *redis.Client, logger *zap.Logger) *Queue {
	return &Queue{rdb: rdb, logger: logger}
}

func dedupKey(stream, jobID string) string {
	return fmt.Sprintf("queue:dedup:%s:%s", stream, jobID)
}

// Enqueue adds a job to stream, first reserving its identity key with
// SETNX so a caller that enqueues the same logical job twice (e.g. a
// scheduler tick that re-observes a row it already queued) gets
// ErrDuplicateJob instead of a second in-flight copy.
func (q *Queue) Enqueue(ctx context.Context, stream string, job Job) error {
	reserved, err := q.rdb.SetNX(ctx, dedupKey(stream, job.ID), "1", dedupTTL).Result()
	if err != nil {
		return fmt.Errorf("reserve job identity: %w", err)
	}
	if !reserved {
		return ErrDuplicateJob
	}

	_, err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"job_id":  job.ID,
			"payload": string(job.Payload),
		},
	}).Result()
	if err != nil {
		// Release the reservation so a retry of this enqueue is not
		// permanently blocked by a failed XADD.
		q.rdb.Del(ctx, dedupKey(stream, job.ID))
		return fmt.Errorf("xadd job: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group for stream if it does not
// already exist. MKSTREAM creates the stream itself if this is the
// first consumer to ever read from it.
func (q *Queue) EnsureGroup(ctx context.Context, stream, group string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Dequeue reads up to count pending jobs for consumer within group,
// blocking up to block for new entries if none are immediately
// available. It only reads new (never-delivered) entries; a separate
// reclaim pass over pending entries handles crashed consumers.
func (q *Queue) Dequeue(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Job, error) {
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var jobs []Job
	for _, s := range res {
		for _, msg := range s.Messages {
			jobs = append(jobs, messageToJob(msg))
		}
	}
	return jobs, nil
}

// ReclaimStale takes ownership of pending entries idle longer than
// minIdle, so a consumer that crashed mid-job does not strand its
// message forever. Callers run this periodically alongside Dequeue.
func (q *Queue) ReclaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Job, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}

	jobs := make([]Job, 0, len(msgs))
	for _, msg := range msgs {
		jobs = append(jobs, messageToJob(msg))
	}
	return jobs, nil
}

func messageToJob(msg redis.XMessage) Job {
	j := Job{streamID: msg.ID}
	if v, ok := msg.Values["job_id"].(string); ok {
		j.ID = v
	}
	if v, ok := msg.Values["payload"].(string); ok {
		j.Payload = json.RawMessage(v)
	}
	return j
}

// Ack acknowledges successful processing of a job, removing it from
// the group's pending entries list.
func (q *Queue) Ack(ctx context.Context, stream, group string, job Job) error {
	if job.streamID == "" {
		return fmt.Errorf("ack job %s: missing stream id, was it dequeued through this queue?", job.ID)
	}
	if err := q.rdb.XAck(ctx, stream, group, job.streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

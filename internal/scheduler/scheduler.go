// Package scheduler runs the single-threaded timer that promotes tasks
// whose due_at has passed into the due state and hands them to the
// executor via an execute job.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/metrics"
	"github.com/lalithlochan/nudge/internal/queue"
	"github.com/lalithlochan/nudge/internal/store"
)

// ExecuteStream is the queue stream execute jobs are published to.
const ExecuteStream = "execute"

// batchSize bounds how many tasks one tick can claim.
const batchSize = 100

// Repository is the subset of store.Repository the scheduler needs.
type Repository interface {
	ClaimDueTasks(ctx context.Context, limit int) ([]*store.Task, error)
	RecordEvent(ctx context.Context, ev *store.TaskEvent) error
	ReclaimStuckExecuting(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Enqueuer is the subset of queue.Queue the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, stream string, job queue.Job) error
}

// executeJobPayload is the body of one execute job.
type executeJobPayload struct {
	TaskID string `json:"task_id"`
}

// Config controls tick and reap cadence.
type Config struct {
	TickPeriod    time.Duration // default 1 minute, overridable via SCHEDULER_TICK_PERIOD_MS
	ReapInterval  time.Duration // default 10x TickPeriod
	ReapThreshold time.Duration // default 10x TickPeriod, per Decision D1
}

// Scheduler is the single-inflight tick loop implementing spec §4.4.
type Scheduler struct {
	repo   Repository
	queue  Enqueuer
	cfg    Config
	logger *zap.Logger
}

// New creates a Scheduler.
func New(repo Repository, q Enqueuer, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.TickPeriod == 0 {
		cfg.TickPeriod = time.Minute
	}
	if cfg.ReapThreshold == 0 {
		cfg.ReapThreshold = 10 * cfg.TickPeriod
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = cfg.ReapThreshold
	}
	return &Scheduler{repo: repo, queue: q, cfg: cfg, logger: logger}
}

// Run drives the claim tick and the stuck-claim reap tick until ctx is
// canceled. Each ticker's tick blocks until its handler returns, so an
// overrunning tick suppresses the next firing rather than overlapping it.
func (s *Scheduler) Run(ctx context.Context) {
	claimTicker := time.NewTicker(s.cfg.TickPeriod)
	defer claimTicker.Stop()

	reapTicker := time.NewTicker(s.cfg.ReapInterval)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-claimTicker.C:
			s.tick(ctx)
		case <-reapTicker.C:
			s.reap(ctx)
		}
	}
}

// tick implements spec §4.4: claim due tasks, write a due event for
// each, enqueue its execute job.
func (s *Scheduler) tick(ctx context.Context) {
	tasks, err := s.repo.ClaimDueTasks(ctx, batchSize)
	if err != nil {
		s.logger.Error("scheduler claim failed", zap.Error(err))
		return
	}
	if len(tasks) == 0 {
		return
	}

	metrics.RecordTasksClaimed(len(tasks))

	for _, task := range tasks {
		if err := s.repo.RecordEvent(ctx, &store.TaskEvent{
			EventID:   uuid.New(),
			TaskID:    task.TaskID,
			UserID:    task.UserID,
			EventType: store.EventDue,
		}); err != nil {
			s.logger.Warn("failed to record due event", zap.Error(err), zap.String("task_id", task.TaskID.String()))
		}
		metrics.RecordTaskTransition(store.TaskStatusDue)

		payload, err := json.Marshal(executeJobPayload{TaskID: task.TaskID.String()})
		if err != nil {
			s.logger.Error("failed to marshal execute job payload", zap.Error(err))
			continue
		}

		jobID := "exec:" + task.TaskID.String()
		if err := s.queue.Enqueue(ctx, ExecuteStream, queue.Job{ID: jobID, Payload: payload}); err != nil {
			s.logger.Error("failed to enqueue execute job",
				zap.Error(err),
				zap.String("task_id", task.TaskID.String()),
			)
		}
	}
}

// reap implements the stuck-claim reaper decided in Decision D1: tasks
// left in executing past 10x the tick period are assumed abandoned by a
// crashed executor and returned to due for reclaiming.
func (s *Scheduler) reap(ctx context.Context) {
	n, err := s.repo.ReclaimStuckExecuting(ctx, s.cfg.ReapThreshold)
	if err != nil {
		s.logger.Error("stuck-executing reap failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Warn("reclaimed stuck executing tasks", zap.Int64("count", n))
	}
}

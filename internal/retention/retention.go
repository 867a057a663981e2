// Package retention runs the scheduled sweep that redacts inbound
// message text past its retention window, independent of the admin
// HTTP surface's on-demand trigger for the same operation.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Repository is the subset of store.Repository the sweeper needs.
type Repository interface {
	RedactExpiredInbound(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls sweep cadence and window.
type Config struct {
	Days     int           // retention window in days, default 60
	Interval time.Duration // sweep cadence, default 24h
	Now      func() time.Time
}

// Sweeper periodically redacts inbound rows older than Days, mirroring
// the reference stuck-claim reaper's ticker-loop shape.
type Sweeper struct {
	repo   Repository
	cfg    Config
	logger *zap.Logger
}

// New creates a Sweeper.
func New(repo Repository, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Days <= 0 {
		cfg.Days = 60
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{repo: repo, cfg: cfg, logger: logger}
}

// Run drives the sweep tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := s.cfg.Now().AddDate(0, 0, -s.cfg.Days)
	n, err := s.repo.RedactExpiredInbound(ctx, cutoff)
	if err != nil {
		s.logger.Error("scheduled retention redaction failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("scheduled retention redaction ran", zap.Int64("redacted", n))
	}
}

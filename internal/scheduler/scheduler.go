package scheduler

import (
	"context"
	"log/slog"
	"time"

	"threadfeed/internal/domain"
)

// Ticker runs one full synchronization pass.
type Ticker interface {
	RunTick(ctx context.Context) (*domain.TickStats, error)
}

// Scheduler drives a Ticker on a fixed interval. Ticks run sequentially,
// so at most one pass is in flight at a time and a slow pass delays the
// next one instead of overlapping it.
type Scheduler struct {
	ticker      Ticker
	interval    time.Duration
	tickTimeout time.Duration
	logger      *slog.Logger
}

func NewScheduler(ticker Ticker, interval, tickTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		ticker:      ticker,
		interval:    interval,
		tickTimeout: tickTimeout,
		logger:      logger,
	}
}

// Start runs the first tick immediately and then on every interval until
// the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runTick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.tickTimeout)
	defer cancel()

	if _, err := s.ticker.RunTick(tickCtx); err != nil {
		s.logger.Error("tick failed", "error", err)
	}
}

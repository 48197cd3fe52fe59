package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LockNotificationRedeliverer re-queues lock emails that never reached the mail provider
type LockNotificationRedeliverer interface {
	RedeliverLockNotifications(ctx context.Context, olderThan time.Duration, batch int) (int, error)
}

// SweeperConfig controls how often undelivered lock emails are retried
type SweeperConfig struct {
	Interval    time.Duration
	GracePeriod time.Duration
	BatchSize   int
}

// LockEmailSweeper periodically retries lock notifications that were dropped
// or rejected, so a locked homeowner still receives the unlock link
type LockEmailSweeper struct {
	service  LockNotificationRedeliverer
	cfg      SweeperConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLockEmailSweeper creates a new sweeper
func NewLockEmailSweeper(service LockNotificationRedeliverer, cfg SweeperConfig, logger *slog.Logger) *LockEmailSweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &LockEmailSweeper{
		service: service,
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled
func (s *LockEmailSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			s.logger.Info("lock email sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("lock email sweeper context cancelled")
			return
		}
	}
}

func (s *LockEmailSweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	queued, err := s.service.RedeliverLockNotifications(sweepCtx, s.cfg.GracePeriod, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to redeliver lock notifications", slog.Any("error", err))
		return
	}

	if queued > 0 {
		s.logger.Info("lock notifications requeued", slog.Int("count", queued))
	}
}

// Stop signals the sweeper to stop. Safe to call more than once.
func (s *LockEmailSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

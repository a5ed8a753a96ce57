package repository

import (
	"context"
	"log/slog"
	"time"
)

// Expirer is a store whose expired records can be purged.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically removes expired ephemeral and session tokens.
// Validation never relies on it; it only bounds storage growth.
type Sweeper struct {
	stores   map[string]Expirer
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewSweeper creates a sweeper over the named stores.
func NewSweeper(stores map[string]Expirer, interval, timeout time.Duration, now func() time.Time, logger *slog.Logger) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		stores:   stores,
		interval: interval,
		timeout:  timeout,
		now:      now,
		logger:   logger,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every store and returns the number of records
// removed per store. Failures are logged and do not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) map[string]int64 {
	removed := make(map[string]int64, len(s.stores))
	now := s.now()
	for name, store := range s.stores {
		sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
		n, err := store.DeleteExpired(sweepCtx, now)
		cancel()
		if err != nil {
			s.logger.Error("token sweep failed",
				slog.String("store", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed[name] = n
		if n > 0 {
			s.logger.Info("expired tokens swept",
				slog.String("store", name),
				slog.Int64("removed", n),
			)
		}
	}
	return removed
}

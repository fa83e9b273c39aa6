package lock

import (
	"context"
	"log"
	"time"
)

// DefaultSweepInterval is how often expired leases are physically cleared.
const DefaultSweepInterval = 30 * time.Second

type lockSweeper interface {
	SweepStaleLocks(ctx context.Context) (int, error)
}

// Sweeper periodically clears expired leases so a crashed client can never
// leave a card locked forever. Sweep failures are logged and retried on the
// next tick; they are never fatal.
type Sweeper struct {
	store    lockSweeper
	interval time.Duration
}

func NewSweeper(s lockSweeper, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: s, interval: interval}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleared, err := s.store.SweepStaleLocks(ctx)
			if err != nil {
				log.Printf("lock: sweep failed, retrying next tick: %v", err)
				continue
			}
			if cleared > 0 {
				log.Printf("lock: sweep cleared %d stale lease(s)", cleared)
			}
		}
	}
}

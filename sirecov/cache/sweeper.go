package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// DefaultSweepInterval matches the cache.sweepInterval config default.
const DefaultSweepInterval = 5 * time.Minute

// Cleaner is anything that can drop its expired entries on demand.
type Cleaner interface {
	Cleanup() int
}

// Sweeper periodically calls Cleanup on a target. Sweeping only ever removes
// entries that lookups would already treat as expired, so it may run at any
// point relative to foreground calls.
type Sweeper struct {
	target   Cleaner
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     *conc.WaitGroup
}

// NewSweeper creates a stopped sweeper.
func NewSweeper(target Cleaner, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logger.With().Str("component", "cache-sweeper").Logger(),
	}
}

// Start launches the sweep loop. It returns immediately and does nothing if
// the loop is already running. The loop ends when ctx is done or Stop is
// called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg = conc.NewWaitGroup()
	s.wg.Go(func() { s.loop(ctx) })
	s.logger.Debug().Dur("interval", s.interval).Msg("cache sweeper started")
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.target.Cleanup(); n > 0 {
				s.logger.Debug().Int("expired", n).Msg("swept expired cache entries")
			}
		}
	}
}

// Stop ends the sweep loop and waits for it to exit. Calling Stop on a
// stopped sweeper is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, wg := s.cancel, s.wg
	s.cancel, s.wg = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	wg.Wait()
	s.logger.Debug().Msg("cache sweeper stopped")
}

// Running reports whether Start was called without a matching Stop.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Supervisor bounds session lifetime. Every tick it advances an elapsed
// counter; reaching the ceiling without a reset raises the expiry callback.
// Each successful player admission resets the clock. Cancellation is
// cooperative, checked once per tick.
type Supervisor struct {
	tick    time.Duration
	ceiling time.Duration
	expired func()

	mu      sync.Mutex
	elapsed time.Duration
}

func NewSupervisor(tick, ceiling time.Duration, expired func()) *Supervisor {
	return &Supervisor{
		tick:    tick,
		ceiling: ceiling,
		expired: expired,
	}
}

// Run blocks until the ceiling is reached or the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.elapsed += s.tick
			expired := s.elapsed >= s.ceiling
			s.mu.Unlock()
			if expired {
				log.Warn().Dur("ceiling", s.ceiling).Msg("session: idle ceiling reached")
				s.expired()
				return
			}
		}
	}
}

// Reset zeroes the elapsed counter.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.elapsed = 0
	s.mu.Unlock()
}

// Elapsed returns the current counter value.
func (s *Supervisor) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

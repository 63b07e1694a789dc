package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// versionSignal is a monotonic counter with a wait/notify primitive. Workers
// record the version they last observed and park until it moves on.
type versionSignal struct {
	clk clock.Clock

	mu      sync.Mutex
	version uint64
	changed chan struct{}
}

func newVersionSignal(clk clock.Clock) *versionSignal {
	return &versionSignal{
		clk:     clk,
		changed: make(chan struct{}),
	}
}

// Bump increments the counter and wakes all waiters.
func (s *versionSignal) Bump() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
}

// Current returns the counter value.
func (s *versionSignal) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.version
}

// WaitForUpdate returns immediately if the counter has moved past seen or if
// the caller deferred work. Otherwise it blocks until the next Bump, the max
// sleep elapses, or ctx is cancelled. The bound makes a missed wakeup
// self-correcting.
func (s *versionSignal) WaitForUpdate(ctx context.Context, seen uint64, hadPendingWork bool, max time.Duration) {
	s.mu.Lock()
	if hadPendingWork || s.version > seen {
		s.mu.Unlock()
		return
	}
	changed := s.changed
	s.mu.Unlock()

	timer := s.clk.Timer(max)
	defer timer.Stop()

	select {
	case <-changed:
	case <-timer.C:
	case <-ctx.Done():
	}
}

package vectorsync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrBlocked indicates the guard could not be acquired within the lock
// timeout, either because another synchronization is running or because
// the host is generating. Callers should try again later.
var ErrBlocked = errors.New("synchronization blocked")

// Guard admits at most one synchronization at a time. Waiters poll instead
// of queuing, and give up after the timeout.
type Guard struct {
	busy         atomic.Bool
	pollInterval time.Duration
	timeout      time.Duration
}

// NewGuard creates a guard that polls every pollInterval for up to timeout.
func NewGuard(pollInterval, timeout time.Duration) *Guard {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if timeout < 0 {
		timeout = 0
	}
	return &Guard{pollInterval: pollInterval, timeout: timeout}
}

// Acquire takes the guard. refuse is consulted on every attempt; while it
// reports true the guard is not taken even if free.
func (g *Guard) Acquire(ctx context.Context, refuse func() bool) error {
	deadline := time.Now().Add(g.timeout)

	for {
		if refuse == nil || !refuse() {
			if g.busy.CompareAndSwap(false, true) {
				return nil
			}
		}

		if !time.Now().Before(deadline) {
			return ErrBlocked
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.pollInterval):
		}
	}
}

// Release frees the guard.
func (g *Guard) Release() {
	g.busy.Store(false)
}

// Busy reports whether a synchronization holds the guard.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}

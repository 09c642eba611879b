package ws

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/errorf"
	"nwcp.dev/pkg/utils/log"
)

// Backoff bounds for retried units of work.
const (
	MinDelay = time.Second
	MaxDelay = 2 * time.Minute
)

type unitState struct {
	mu          sync.Mutex
	lastAttempt time.Time
	delay       time.Duration
}

// RateLimit holds an exponential backoff per named unit of work, e.g.
// "connecting" or "subscribing". A unit's delay doubles from MinDelay up
// to MaxDelay and resets to zero whenever the previous attempt held for
// longer than MaxDelay.
type RateLimit struct {
	units *xsync.MapOf[string, *unitState]
}

// NewRateLimit creates an empty rate limiter.
func NewRateLimit() *RateLimit {
	return &RateLimit{units: xsync.NewMapOf[string, *unitState]()}
}

// Wait sleeps the unit's current delay and advances it, returning early
// with an error when ctx ends.
func (r *RateLimit) Wait(ctx context.T, unit string) (err error) {
	u, _ := r.units.LoadOrStore(unit, &unitState{})
	u.mu.Lock()
	var delay time.Duration
	if !u.lastAttempt.IsZero() && time.Since(u.lastAttempt) <= MaxDelay {
		delay = u.delay * 2
		if delay < MinDelay {
			delay = MinDelay
		}
		if delay > MaxDelay {
			delay = MaxDelay
		}
	}
	u.delay = delay
	u.lastAttempt = time.Now()
	u.mu.Unlock()
	if delay == 0 {
		return
	}
	log.D.F("rate limiting %s for %v", unit, delay)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return
	case <-ctx.Done():
		return errorf.D("rate limit wait for %s canceled", unit)
	}
}

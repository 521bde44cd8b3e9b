package privilege

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chartgate/chartgate/internal/clock"
)

// Throttle limits secret attempts per client with a token bucket per key.
type Throttle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	clock   clock.Clock
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ThrottleOption configures a Throttle.
type ThrottleOption func(*Throttle)

// WithIdleTTL sets how long an unused key is kept.
func WithIdleTTL(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.idleTTL = d }
}

// WithThrottleClock sets the time source.
func WithThrottleClock(c clock.Clock) ThrottleOption {
	return func(t *Throttle) { t.clock = c }
}

// NewThrottle allows perSecond attempts per key with the given burst.
// A non-positive perSecond disables throttling.
func NewThrottle(perSecond float64, burst int, opts ...ThrottleOption) *Throttle {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}

	t := &Throttle{
		entries: make(map[string]*throttleEntry),
		limit:   limit,
		burst:   burst,
		idleTTL: 15 * time.Minute,
		clock:   clock.SystemClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Allow consumes one attempt for key.
func (t *Throttle) Allow(key string) bool {
	now := t.clock.Now()

	t.mu.Lock()
	ent, ok := t.entries[key]
	if !ok {
		ent = &throttleEntry{lim: rate.NewLimiter(t.limit, t.burst)}
		t.entries[key] = ent
	}
	ent.lastSeen = now
	t.mu.Unlock()

	return ent.lim.AllowN(now, 1)
}

// size returns the number of tracked keys.
func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Cleanup drops keys idle for longer than the idle TTL.
func (t *Throttle) Cleanup() {
	cutoff := t.clock.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (t *Throttle) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Cleanup()
			}
		}
	}()
}

package buckets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/concordlib/concord/internal/ratelimit"
	"github.com/concordlib/concord/internal/routes"
)

// UnknownHash prefixes the real hash of a bucket whose server identity has
// not been revealed yet.
const UnknownHash = "UNKNOWN"

// RateLimitTooLongError is returned when a bucket's pending wait exceeds the
// manager's configured ceiling instead of blocking the caller unboundedly.
type RateLimitTooLongError struct {
	Route      routes.CompiledRoute
	RetryAfter time.Duration
	MaxWait    time.Duration
}

func (e *RateLimitTooLongError) Error() string {
	return fmt.Sprintf("rate limit on %s lasts %s, longer than max wait %s", e.Route, e.RetryAfter, e.MaxWait)
}

// Bucket tracks and enforces the rate-limit state for one real bucket hash.
//
// Requests serialize through a FIFO gate (one in-flight request per bucket)
// and then consume a slot of the windowed limiter. Unknown buckets skip the
// window: their limits cannot be known until the first response arrives, and
// the gate alone prevents a thundering herd on a fresh route.
type Bucket struct {
	window  *ratelimit.Window
	gate    chan struct{}
	maxWait time.Duration

	mu       sync.Mutex
	name     string
	route    routes.CompiledRoute
	lastUsed time.Time
}

func newBucket(name string, route routes.CompiledRoute, maxWait time.Duration, logger *slog.Logger) *Bucket {
	return &Bucket{
		// The window starts exhausted with a nominal one-slot, one-second
		// shape; the first refill or server update gives it real values.
		window:   ratelimit.NewWindow(name, time.Second, 1, logger),
		gate:     make(chan struct{}, 1),
		maxWait:  maxWait,
		name:     name,
		route:    route,
		lastUsed: time.Now(),
	}
}

// Name returns the bucket's real hash, or its placeholder hash while the
// server identity is unknown.
func (b *Bucket) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

// IsUnknown reports whether the bucket is still a placeholder.
func (b *Bucket) IsUnknown() bool {
	return strings.HasPrefix(b.Name(), UnknownHash)
}

// Acquire takes the request gate and a window slot. On any failure the gate
// is released so the caller's queue position is not leaked.
func (b *Bucket) Acquire(ctx context.Context) error {
	// Channel receive queues are FIFO, so contending callers take the gate
	// in arrival order.
	select {
	case b.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.touch()

	if b.IsUnknown() {
		return nil
	}

	now := time.Now()
	if resetAt := b.window.ResetAt(); b.window.Remaining() <= 0 && resetAt.After(now) {
		if wait := resetAt.Sub(now); wait > b.maxWait {
			<-b.gate
			return &RateLimitTooLongError{Route: b.route, RetryAfter: wait, MaxWait: b.maxWait}
		}
	}

	if err := b.window.Acquire(ctx); err != nil {
		<-b.gate
		return err
	}
	return nil
}

// release frees the request gate. Window slots are deliberately not given
// back: capacity only returns when the window resets.
func (b *Bucket) release() {
	select {
	case <-b.gate:
	default:
	}
}

// update recalibrates the window from server-provided values.
func (b *Bucket) update(remaining, limit int, resetAt time.Time) {
	b.window.Update(remaining, limit, resetAt)
	b.touch()
}

// exhaust zeroes the window until resetAt. Used when a 429 proves the local
// bookkeeping was too optimistic.
func (b *Bucket) exhaust(resetAt time.Time) {
	b.window.Update(0, b.window.Limit(), resetAt)
}

// resolve renames a placeholder bucket to its real hash. The instance is
// kept, so any callers queued on the gate or window carry over untouched.
func (b *Bucket) resolve(realHash string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !strings.HasPrefix(b.name, UnknownHash) {
		return
	}
	b.name = realHash
}

// idle reports whether the bucket can be garbage collected: nothing queued,
// no throttle goroutine, no request in flight, and past the expiry horizon.
func (b *Bucket) idle(now time.Time, expireAfter time.Duration) bool {
	if b.window.Pending() > 0 || b.window.Throttling() || len(b.gate) > 0 {
		return false
	}
	b.mu.Lock()
	last := b.lastUsed
	b.mu.Unlock()
	if resetAt := b.window.ResetAt(); resetAt.After(last) {
		last = resetAt
	}
	return now.After(last.Add(expireAfter))
}

func (b *Bucket) close() {
	b.window.Close()
}

func (b *Bucket) touch() {
	b.mu.Lock()
	b.lastUsed = time.Now()
	b.mu.Unlock()
}

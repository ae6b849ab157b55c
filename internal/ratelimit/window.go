package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Window is a windowed burst limiter: at most limit callers may proceed
// within each period. When the window is exhausted, callers queue and a
// single throttle goroutine sleeps until the reset, refills the window, and
// releases queued callers in arrival order. A burst larger than the limit
// drains across multiple windows.
//
// The window can be recalibrated at any time via Update, e.g. from live
// server response headers; queued callers observe the new window on their
// next release check.
type Window struct {
	name   string
	logger *slog.Logger

	mu         sync.Mutex
	period     time.Duration
	limit      int
	remaining  int
	resetAt    time.Time
	queue      []*waiter
	throttling bool
	closed     bool
	wake       chan struct{} // nudges the throttle goroutine after Update/Close
}

// NewWindow returns a limiter admitting limit callers per period. The name
// appears in log lines only.
func NewWindow(name string, period time.Duration, limit int, logger *slog.Logger) *Window {
	if logger == nil {
		logger = slog.Default()
	}
	return &Window{
		name:   name,
		logger: logger,
		period: period,
		limit:  limit,
		wake:   make(chan struct{}, 1),
	}
}

// Acquire blocks until the caller may proceed. It returns nil on success,
// ctx.Err() if cancelled while queued, or ErrClosed.
//
// A caller that is admitted consumes one slot of the current window. Slots
// are only restored when the window resets, never on completion of the
// caller's work.
func (w *Window) Acquire(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}

	// If a throttle goroutine is draining the queue, join the back of it
	// even if the window has slots; anything else would reorder callers.
	if !w.throttling && !w.limited(time.Now()) {
		w.remaining--
		w.mu.Unlock()
		return nil
	}

	wt := newWaiter()
	w.queue = append(w.queue, wt)
	if !w.throttling {
		w.throttling = true
		go w.throttle()
	}
	w.mu.Unlock()

	select {
	case err := <-wt.ch:
		return err
	case <-ctx.Done():
		w.remove(wt)
		return ctx.Err()
	}
}

// Update recalibrates the window in place. Queued callers observe the new
// remaining count and reset time immediately.
func (w *Window) Update(remaining, limit int, resetAt time.Time) {
	w.mu.Lock()
	w.remaining = remaining
	w.limit = limit
	w.resetAt = resetAt
	if p := time.Until(resetAt); p > 0 {
		w.period = p
	}
	w.mu.Unlock()
	w.nudge()
}

// Pending returns the number of queued callers.
func (w *Window) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Throttling reports whether the background throttle goroutine is running.
func (w *Window) Throttling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.throttling
}

// Remaining returns the slots left in the current window.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remaining
}

// Limit returns the window capacity.
func (w *Window) Limit() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limit
}

// ResetAt returns the end of the current window.
func (w *Window) ResetAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resetAt
}

// Close releases all queued callers with ErrClosed. The limiter must not be
// reused afterwards.
func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, wt := range w.queue {
		wt.ch <- ErrClosed
	}
	w.queue = nil
	w.mu.Unlock()
	w.nudge()
}

// limited reports whether the window is exhausted at the given instant,
// refilling it first if the reset time has passed. Only ever call with the
// current time.
func (w *Window) limited(now time.Time) bool {
	if !w.resetAt.After(now) {
		w.remaining = w.limit
		w.resetAt = now.Add(w.period)
		return false
	}
	return w.remaining <= 0
}

// throttle drains the queue, sleeping out each window as it goes. It exits
// once the queue is empty.
func (w *Window) throttle() {
	w.mu.Lock()
	w.logger.Debug("rate limited, backing off",
		"limiter", w.name,
		"until_reset", time.Until(w.resetAt),
	)

	for len(w.queue) > 0 && !w.closed {
		now := time.Now()
		if w.limited(now) {
			sleep := w.resetAt.Sub(now)
			w.mu.Unlock()
			select {
			case <-time.After(sleep):
			case <-w.wake:
			}
			w.mu.Lock()
			continue
		}
		for w.remaining > 0 && len(w.queue) > 0 {
			w.remaining--
			wt := w.queue[0]
			w.queue = w.queue[1:]
			wt.ch <- nil
		}
	}
	w.throttling = false
	w.mu.Unlock()
}

// nudge wakes the throttle goroutine early so it re-reads the window.
func (w *Window) nudge() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// remove excises a cancelled waiter. If the waiter was already released its
// slot stays consumed, which is safe: the window refills on reset anyway.
func (w *Window) remove(wt *waiter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, q := range w.queue {
		if q == wt {
			w.queue = append(w.queue[:i], w.queue[i+1:]...)
			return
		}
	}
}

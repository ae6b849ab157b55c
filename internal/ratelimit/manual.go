package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned to callers waiting on a gate that has been shut down.
var ErrClosed = errors.New("rate limiter closed")

// waiter is one queued caller. The channel is buffered so releasing never
// blocks the releaser, even if the caller has already given up.
type waiter struct {
	ch chan error
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan error, 1)}
}

// Manual is the global throttle gate. While not engaged, Acquire returns
// immediately. Once Throttle is invoked, callers queue until the cooldown
// elapses, then are released in arrival order.
//
// Engaging the gate while a cooldown is already pending replaces the pending
// cooldown; two overlapping cooldown timers can never run at once.
type Manual struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []*waiter
	timer   *time.Timer
	engaged bool
	closed  bool
}

// NewManual returns an idle global gate.
func NewManual(logger *slog.Logger) *Manual {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manual{logger: logger}
}

// Acquire blocks while the gate is engaged. It returns nil once permitted to
// proceed, ctx.Err() if the caller was cancelled while queued, or ErrClosed.
func (m *Manual) Acquire(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if !m.engaged {
		m.mu.Unlock()
		return nil
	}
	w := newWaiter()
	m.queue = append(m.queue, w)
	m.mu.Unlock()

	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		m.remove(w)
		return ctx.Err()
	}
}

// Throttle engages the gate for the given cooldown. If a cooldown is already
// pending it is replaced, so a later, stricter retry-after wins.
func (m *Manual) Throttle(cooldown time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.logger.Warn("globally rate limited", "cooldown", cooldown)

	if m.timer != nil {
		m.timer.Stop()
	}
	m.engaged = true
	m.timer = time.AfterFunc(cooldown, m.unlock)
}

// IsEngaged reports whether a cooldown is currently pending.
func (m *Manual) IsEngaged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engaged
}

// Close releases all queued callers with ErrClosed and cancels any pending
// cooldown. The gate must not be reused afterwards.
func (m *Manual) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	for _, w := range m.queue {
		w.ch <- ErrClosed
	}
	m.queue = nil
}

// unlock runs when the cooldown timer fires: it disengages the gate and
// releases every queued caller in arrival order.
func (m *Manual) unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.engaged {
		return
	}
	m.engaged = false
	m.timer = nil
	for _, w := range m.queue {
		w.ch <- nil
	}
	m.queue = nil
}

// remove excises a cancelled waiter without disturbing the positions of the
// others. If the waiter was already released, nothing needs doing.
func (m *Manual) remove(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.queue {
		if q == w {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

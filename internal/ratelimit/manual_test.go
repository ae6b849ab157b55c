package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestManual_PassThroughWhenIdle(t *testing.T) {
	m := NewManual(nil)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := m.Acquire(ctx); err != nil {
		t.Fatalf("Acquire on idle gate: %v", err)
	}
}

func TestManual_ThrottleBlocksThenReleases(t *testing.T) {
	m := NewManual(nil)
	defer m.Close()

	m.Throttle(50 * time.Millisecond)
	if !m.IsEngaged() {
		t.Fatal("expected gate to be engaged")
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Acquire returned after %v, want >= cooldown", elapsed)
	}
	if m.IsEngaged() {
		t.Error("gate still engaged after cooldown")
	}
}

func TestManual_RethrottleReplacesCooldown(t *testing.T) {
	m := NewManual(nil)
	defer m.Close()

	m.Throttle(time.Hour)
	m.Throttle(30 * time.Millisecond) // replaces, does not stack

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
}

func TestManual_ReleaseOrderIsFIFO(t *testing.T) {
	m := NewManual(nil)
	defer m.Close()

	m.Throttle(50 * time.Millisecond)

	const n = 8
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := m.Acquire(context.Background()); err != nil {
				t.Errorf("waiter %d: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}(i)
		// Force deterministic arrival order.
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	for i, id := range order {
		if id != i {
			t.Fatalf("release order %v, want arrival order", order)
		}
	}
}

func TestManual_CancelledWaiterIsExcised(t *testing.T) {
	m := NewManual(nil)
	defer m.Close()

	m.Throttle(60 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Acquire(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-errCh; err != context.Canceled {
		t.Fatalf("cancelled Acquire = %v, want context.Canceled", err)
	}

	// A later caller must still be released cleanly.
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after cancellation: %v", err)
	}
}

func TestManual_CloseFailsWaiters(t *testing.T) {
	m := NewManual(nil)
	m.Throttle(time.Hour)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Acquire(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	m.Close()
	if err := <-errCh; err != ErrClosed {
		t.Fatalf("Acquire after Close = %v, want ErrClosed", err)
	}
	if err := m.Acquire(context.Background()); err != ErrClosed {
		t.Fatalf("Acquire on closed gate = %v, want ErrClosed", err)
	}
}

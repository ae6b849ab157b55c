package buckets

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/concordlib/concord/internal/routes"
)

func compiled(t *testing.T, r routes.Route, params map[string]string) routes.CompiledRoute {
	t.Helper()
	return r.Compile(params)
}

func TestManager_UnknownRoutesDoNotShareBuckets(t *testing.T) {
	m := NewManager(time.Minute, nil)
	defer m.Close()

	a := compiled(t, routes.GetChannelMessages, map[string]string{"channel": "1"})
	b := compiled(t, routes.GetGuild, map[string]string{"guild": "2"})

	ba := m.bucketFor(a)
	bb := m.bucketFor(b)
	if ba == bb {
		t.Fatal("unrelated unknown routes share one placeholder bucket")
	}
	if !ba.IsUnknown() || !bb.IsUnknown() {
		t.Fatal("fresh buckets should be placeholders")
	}
}

func TestManager_UpdateResolvesPlaceholderInPlace(t *testing.T) {
	m := NewManager(time.Minute, nil)
	defer m.Close()

	cr := compiled(t, routes.PostChannelMessages, map[string]string{"channel": "123"})

	placeholder := m.bucketFor(cr)
	m.Update(cr, "abc123", 4, 5, time.Second)

	resolved := m.bucketFor(cr)
	if resolved != placeholder {
		t.Fatal("Update must re-key the placeholder instance, not create a new bucket")
	}
	if resolved.IsUnknown() {
		t.Fatal("bucket still a placeholder after Update")
	}
	if got, want := resolved.Name(), cr.RealBucketHash("abc123"); got != want {
		t.Errorf("bucket name = %q, want %q", got, want)
	}
}

func TestManager_HandOffPreservesWaiters(t *testing.T) {
	m := NewManager(time.Minute, nil)
	defer m.Close()

	cr := compiled(t, routes.PostChannelMessages, map[string]string{"channel": "123"})
	ctx := context.Background()

	// First caller holds the placeholder's request gate.
	lease, err := m.Acquire(ctx, cr)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// K callers queue behind it.
	const k = 3
	released := make(chan int, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l, err := m.Acquire(ctx, cr)
			if err != nil {
				t.Errorf("waiter %d: %v", id, err)
				return
			}
			released <- id
			l.Release()
		}(i)
		time.Sleep(5 * time.Millisecond)
	}

	// Server reveals the real bucket while the waiters are queued.
	m.Update(cr, "realhash", k, k+1, 500*time.Millisecond)

	lease.Release()
	wg.Wait()
	close(released)

	count := 0
	for range released {
		count++
	}
	if count != k {
		t.Fatalf("%d waiters released after hand-off, want %d", count, k)
	}
}

func TestManager_MajorParamsSplitQuota(t *testing.T) {
	m := NewManager(time.Minute, nil)
	defer m.Close()

	a := compiled(t, routes.PostChannelMessages, map[string]string{"channel": "111"})
	b := compiled(t, routes.PostChannelMessages, map[string]string{"channel": "222"})

	m.Update(a, "shared", 1, 5, time.Minute)
	m.Update(b, "shared", 5, 5, time.Minute)

	ba := m.bucketFor(a)
	bb := m.bucketFor(b)
	if ba == bb {
		t.Fatal("different channels must not share bucket state")
	}

	// Same major param maps back to the same live bucket.
	if m.bucketFor(compiled(t, routes.PostChannelMessages, map[string]string{"channel": "111"})) != ba {
		t.Fatal("same channel must share bucket state")
	}
}

func TestManager_Global429EngagesGlobalGate(t *testing.T) {
	m := NewManager(time.Minute, nil)
	defer m.Close()

	cr := compiled(t, routes.GetCurrentUser, nil)
	m.Throttle429(cr, 40*time.Millisecond, true)

	if !m.GlobalGate().IsEngaged() {
		t.Fatal("global 429 did not engage the global gate")
	}

	// Any route is gated, not just the one that triggered it.
	other := compiled(t, routes.GetGuild, map[string]string{"guild": "9"})
	start := time.Now()
	lease, err := m.Acquire(context.Background(), other)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	lease.Release()
	if time.Since(start) < 30*time.Millisecond {
		t.Error("acquire on unrelated route was not delayed by the global gate")
	}
}

func TestManager_Local429ExhaustsBucket(t *testing.T) {
	m := NewManager(time.Minute, nil)
	defer m.Close()

	cr := compiled(t, routes.PatchChannel, map[string]string{"channel": "77"})
	m.Update(cr, "hhh", 3, 3, time.Minute)

	m.Throttle429(cr, 50*time.Millisecond, false)

	b := m.bucketFor(cr)
	if got := b.window.Remaining(); got != 0 {
		t.Fatalf("remaining after local 429 = %d, want 0", got)
	}

	// The caller drains once the server's retry-after elapses.
	start := time.Now()
	lease, err := m.Acquire(context.Background(), cr)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	lease.Release()
	if time.Since(start) < 35*time.Millisecond {
		t.Error("acquire did not wait out the 429 retry-after")
	}
}

func TestManager_RateLimitTooLong(t *testing.T) {
	m := NewManager(20*time.Millisecond, nil)
	defer m.Close()

	cr := compiled(t, routes.PatchChannel, map[string]string{"channel": "5"})
	m.Update(cr, "slow", 0, 2, 10*time.Minute)

	_, err := m.Acquire(context.Background(), cr)
	var tooLong *RateLimitTooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("Acquire = %v, want RateLimitTooLongError", err)
	}

	// The failure path must not leak the request gate.
	b := m.bucketFor(cr)
	if len(b.gate) != 0 {
		t.Fatal("request gate leaked after RateLimitTooLongError")
	}
}

func TestManager_GCNeverRemovesBucketWithWaiters(t *testing.T) {
	m := NewManager(time.Minute, nil)
	defer m.Close()

	cr := compiled(t, routes.GetGuild, map[string]string{"guild": "1"})
	m.Update(cr, "gc", 0, 1, 300*time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		lease, err := m.Acquire(context.Background(), cr)
		if err == nil {
			lease.Release()
		}
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	m.gcPass(time.Now().Add(time.Hour), DefaultExpireAfter)

	m.mu.Lock()
	_, alive := m.buckets[cr.RealBucketHash("gc")]
	m.mu.Unlock()
	if !alive {
		t.Fatal("GC removed a bucket with a pending waiter")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("waiter failed: %v", err)
	}
}

func TestManager_GCRemovesIdleBuckets(t *testing.T) {
	m := NewManager(time.Minute, nil)
	defer m.Close()

	cr := compiled(t, routes.GetGuild, map[string]string{"guild": "1"})
	m.Update(cr, "idle", 5, 5, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	m.gcPass(time.Now().Add(time.Hour), DefaultExpireAfter)

	m.mu.Lock()
	n := len(m.buckets)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d buckets survive GC, want 0", n)
	}
}

func TestManager_CloseFailsQueuedCallers(t *testing.T) {
	m := NewManager(time.Minute, nil)

	cr := compiled(t, routes.GetGuild, map[string]string{"guild": "1"})
	m.Update(cr, "x", 0, 1, time.Hour)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), cr)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	m.Close()
	if err := <-errCh; err == nil {
		t.Fatal("queued caller survived Close")
	}
}

package buckets

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/concordlib/concord/internal/ratelimit"
	"github.com/concordlib/concord/internal/routes"
)

const (
	// Garbage collection cadence.
	DefaultGCPeriod    = 20 * time.Second
	DefaultExpireAfter = 10 * time.Second

	// DefaultMaxWait bounds how long a caller may sit on an exhausted
	// bucket before the acquire fails instead.
	DefaultMaxWait = 5 * time.Minute
)

// Lease is the scoped guard returned by Manager.Acquire. It must be released
// once the request completes (successfully or not); releasing is idempotent.
type Lease struct {
	bucket *Bucket
	once   sync.Once
}

// Release frees the bucket's request gate. Window capacity is not restored;
// it only returns when the window resets.
func (l *Lease) Release() {
	l.once.Do(l.bucket.release)
}

// Manager owns the route-to-hash and hash-to-bucket mappings and routes
// every REST call to the bucket that governs it.
//
// It is safe for use from arbitrarily many concurrent call sites and is
// shared across all shards of a client.
type Manager struct {
	logger  *slog.Logger
	maxWait time.Duration
	global  *ratelimit.Manual

	mu          sync.Mutex
	routeHashes map[routes.Route]string
	buckets     map[string]*Bucket

	gcOnce   sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager returns a manager whose buckets refuse waits longer than
// maxWait with a RateLimitTooLongError.
func NewManager(maxWait time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:      logger,
		maxWait:     maxWait,
		global:      ratelimit.NewManual(logger),
		routeHashes: make(map[routes.Route]string),
		buckets:     make(map[string]*Bucket),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start spins up the periodic garbage collection sweep. Calling it more than
// once is a no-op.
func (m *Manager) Start() {
	m.gcOnce.Do(func() {
		go m.gcLoop(DefaultGCPeriod, DefaultExpireAfter)
	})
}

// Close stops the GC sweep and fails every queued caller in every bucket and
// on the global gate. The manager must not be reused afterwards.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})

	m.mu.Lock()
	for hash, b := range m.buckets {
		b.close()
		delete(m.buckets, hash)
	}
	m.routeHashes = make(map[routes.Route]string)
	m.mu.Unlock()

	m.global.Close()
}

// Acquire resolves the bucket governing the compiled route, takes the global
// gate and then the bucket, and returns a lease to release when the request
// is done. The global gate is taken first so whichever limit is stricter
// governs the call.
func (m *Manager) Acquire(ctx context.Context, cr routes.CompiledRoute) (*Lease, error) {
	b := m.bucketFor(cr)

	if err := m.global.Acquire(ctx); err != nil {
		return nil, err
	}
	if err := b.Acquire(ctx); err != nil {
		return nil, err
	}
	return &Lease{bucket: b}, nil
}

// Update applies the rate-limit response headers of a completed call back
// onto the bucket state, recording the server-revealed bucket hash and
// resolving any placeholder bucket for the route.
func (m *Manager) Update(cr routes.CompiledRoute, bucketHash string, remaining, limit int, resetAfter time.Duration) {
	resetAt := time.Now().Add(resetAfter)

	m.mu.Lock()
	m.routeHashes[cr.Route] = bucketHash
	realHash := cr.RealBucketHash(bucketHash)

	b, ok := m.buckets[realHash]
	if !ok {
		placeholder := unknownRealHash(cr)
		if pb, had := m.buckets[placeholder]; had {
			// Hand the placeholder over: same instance, new key, so queued
			// callers transfer by identity and none are dropped.
			delete(m.buckets, placeholder)
			pb.resolve(realHash)
			b = pb
			m.logger.Debug("resolved bucket",
				"route", cr.String(), "bucket", realHash)
		} else {
			b = newBucket(realHash, cr, m.maxWait, m.logger)
			m.logger.Debug("created bucket from headers",
				"route", cr.String(), "bucket", realHash)
		}
		m.buckets[realHash] = b
	}
	m.mu.Unlock()

	b.update(remaining, limit, resetAt)
}

// Throttle429 applies a 429 response. With the global flag set, the global
// gate engages for retryAfter regardless of which bucket triggered it.
// Without it, the route's bucket is treated as having run out earlier than
// predicted: remaining drops to zero and the reset moves to the server's
// stricter retryAfter.
func (m *Manager) Throttle429(cr routes.CompiledRoute, retryAfter time.Duration, global bool) {
	if global {
		m.global.Throttle(retryAfter)
		return
	}

	b := m.bucketFor(cr)
	b.exhaust(time.Now().Add(retryAfter))
	m.logger.Warn("bucket rate limit hit early",
		"route", cr.String(), "bucket", b.Name(), "retry_after", retryAfter)
}

// GlobalGate exposes the manual global gate, e.g. for tests or for callers
// that need to inspect cooldown state.
func (m *Manager) GlobalGate() *ratelimit.Manual {
	return m.global
}

// bucketFor looks up or creates the bucket currently governing the compiled
// route. Routes whose bucket hash is still unknown each get their own
// placeholder so unrelated routes never share a quota by accident.
func (m *Manager) bucketFor(cr routes.CompiledRoute) *Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	var realHash string
	if hash, ok := m.routeHashes[cr.Route]; ok {
		realHash = cr.RealBucketHash(hash)
	} else {
		realHash = unknownRealHash(cr)
	}

	b, ok := m.buckets[realHash]
	if !ok {
		b = newBucket(realHash, cr, m.maxWait, m.logger)
		m.buckets[realHash] = b
		m.logger.Debug("mapped route to new bucket", "route", cr.String(), "bucket", realHash)
	}
	return b
}

func (m *Manager) gcLoop(period, expireAfter time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.gcPass(time.Now(), expireAfter)
		}
	}
}

// gcPass removes buckets that have been idle past the expiry horizon. A
// bucket with queued callers, a running throttle, or an in-flight request is
// never removed.
func (m *Manager) gcPass(now time.Time, expireAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for hash, b := range m.buckets {
		if b.idle(now, expireAfter) {
			b.close()
			delete(m.buckets, hash)
			purged++
		}
	}
	if purged > 0 {
		m.logger.Debug("purged stale buckets", "purged", purged, "remaining", len(m.buckets))
	}
}

// unknownRealHash builds a placeholder hash unique to this compiled route.
func unknownRealHash(cr routes.CompiledRoute) string {
	return UnknownHash + routes.HashSeparator + cr.Route.Method + " " + cr.CompiledPath
}

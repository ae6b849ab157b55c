// Package backoff provides the exponential backoff generator used to pace
// gateway reconnect attempts.
//
// The generator is stateful: each call to Next returns a larger delay until
// the cap is reached, and Reset restores the initial state after a sustained
// healthy connection. Jitter is a uniform multiplier so that many shards
// reconnecting at once do not stampede the gateway.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Jitter bounds. Each delay is multiplied by a uniform sample from
// [jitterMin, jitterMax].
const (
	jitterMin = 0.9
	jitterMax = 1.1
)

// Exponential produces exponentially increasing delays with jitter.
//
// Next returns min(max, base^exponent * jitter). The exponent starts at
// InitialIncrement so the very first delay is already non-trivial, and grows
// by Increment after every call.
//
// Not safe for concurrent use; each shard supervisor owns its own instance.
type Exponential struct {
	base      float64
	max       time.Duration
	increment float64
	initial   float64

	exponent float64
	randFunc func() float64 // uniform [0,1), swappable in tests
}

// New returns a generator with the given base multiplier, cap, and initial
// increment. A base <= 1 or max <= 0 is a programming error and panics.
func New(base float64, max time.Duration, initialIncrement float64) *Exponential {
	if base <= 1 || max <= 0 {
		panic("backoff: base must be > 1 and max must be positive")
	}
	return &Exponential{
		base:      base,
		max:       max,
		increment: 1,
		initial:   initialIncrement,
		exponent:  initialIncrement,
		randFunc:  rand.Float64,
	}
}

// Next returns the next delay and advances the exponent.
func (e *Exponential) Next() time.Duration {
	jitter := jitterMin + e.randFunc()*(jitterMax-jitterMin)
	raw := math.Pow(e.base, e.exponent) * jitter

	e.exponent += e.increment

	d := time.Duration(raw * float64(time.Second))
	if d < 0 || d > e.max {
		// Negative means the float overflowed int64 nanoseconds.
		return e.max
	}
	return d
}

// Reset restores the generator to its initial state.
func (e *Exponential) Reset() {
	e.exponent = e.initial
}

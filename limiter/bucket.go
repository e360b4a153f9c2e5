package limiter

import (
	"math"
	"sync"
	"time"
)

// LimitSpec says that Capacity tokens become available every RefillPeriod,
// restored continuously up to Capacity.
type LimitSpec struct {
	Capacity     int64
	RefillPeriod time.Duration
}

// Valid reports whether both capacity and refill period are positive.
func (s LimitSpec) Valid() bool {
	return s.Capacity > 0 && s.RefillPeriod > 0
}

// waitFor returns how long it takes to refill the missing tokens at this spec's rate.
func (s LimitSpec) waitFor(missing float64) time.Duration {
	if missing <= 0 {
		return 0
	}
	nanos := math.Ceil(missing * float64(s.RefillPeriod) / float64(s.Capacity))
	return time.Duration(nanos)
}

// Probe is the outcome of a single consume attempt.
type Probe struct {
	Consumed      bool
	Remaining     int64         // whole tokens left after the attempt
	WaitForRefill time.Duration // zero when Consumed
}

// RetryAfterSeconds truncates WaitForRefill to whole seconds.
func (p Probe) RetryAfterSeconds() int64 {
	return int64(p.WaitForRefill / time.Second)
}

// TokenBucket holds the greedy-refill state for one bucket key.
// All access goes through TryConsume, which serializes on the bucket's mutex.
type TokenBucket struct {
	mu         sync.Mutex
	available  float64
	lastRefill time.Time
}

// NewTokenBucket returns a full bucket for spec, stamped at now.
func NewTokenBucket(spec LimitSpec, now time.Time) *TokenBucket {
	return &TokenBucket{
		available:  float64(spec.Capacity),
		lastRefill: now,
	}
}

// TryConsume refills the bucket for the time elapsed since the last access and
// then takes n tokens if they are available.
//
// The spec is read on every call: a capacity change applies immediately and the
// carried-over token count is clamped to the new capacity, never rescaled.
func (b *TokenBucket) TryConsume(spec LimitSpec, n int64, now time.Time) Probe {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(spec, now)

	requested := float64(n)
	if b.available >= requested {
		b.available -= requested
		return Probe{
			Consumed:  true,
			Remaining: int64(math.Floor(b.available)),
		}
	}

	return Probe{
		Consumed:      false,
		Remaining:     int64(math.Floor(b.available)),
		WaitForRefill: spec.waitFor(requested - b.available),
	}
}

// refill must be called with b.mu held.
func (b *TokenBucket) refill(spec LimitSpec, now time.Time) {
	capacity := float64(spec.Capacity)

	// a clock that moved backwards refills nothing and keeps lastRefill monotonic
	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.available += capacity * float64(elapsed) / float64(spec.RefillPeriod)
		b.lastRefill = now
	}

	if b.available > capacity {
		b.available = capacity
	}
	if b.available < 0 {
		b.available = 0
	}
}

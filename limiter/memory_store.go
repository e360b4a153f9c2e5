package limiter

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemoryStore keeps buckets in process memory. It is only correct when a single
// server enforces a given set of limits.
type MemoryStore struct {
	buckets sync.Map // BucketKey -> *TokenBucket
	opts    *storeOptions
}

// NewMemoryStore creates a new in-memory bucket store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &MemoryStore{opts: o}
}

// GetOrCreate returns the bucket for key, creating a full one for spec if absent.
// Concurrent creators converge on the first stored bucket.
func (s *MemoryStore) GetOrCreate(key BucketKey, spec LimitSpec) *TokenBucket {
	if existing, ok := s.buckets.Load(key); ok {
		return existing.(*TokenBucket)
	}

	created := NewTokenBucket(spec, s.opts.now())
	actual, loaded := s.buckets.LoadOrStore(key, created)
	if !loaded {
		log.Debug().Str("key", string(key)).Int64("capacity", spec.Capacity).Dur("refill_period", spec.RefillPeriod).Msg("bucket created")
	}
	return actual.(*TokenBucket)
}

// Consume implements Store.
func (s *MemoryStore) Consume(ctx context.Context, key BucketKey, spec LimitSpec, n int64) (Probe, error) {
	bucket := s.GetOrCreate(key, spec)
	return bucket.TryConsume(spec, n, s.opts.now()), nil
}

// Reset implements Store. The bucket is dropped and recreated full on next use.
func (s *MemoryStore) Reset(ctx context.Context, key BucketKey) error {
	s.buckets.Delete(key)
	log.Debug().Str("key", string(key)).Msg("bucket reset")
	return nil
}

// Len returns the number of live buckets.
func (s *MemoryStore) Len() int {
	n := 0
	s.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

package limiter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// hierarchyConfig is the 5/3/2 per hour setup: global 5, tenant "standard" 3, users 2.
func hierarchyConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		Global:  &HourlyLimit{LimitPerHour: 5},
		Tenants: map[string]HourlyLimit{"standard": {LimitPerHour: 3}},
		Users:   &UserLimits{DefaultPerTenant: 2},
	}
	require.NoError(t, cfg.ValidateAndPrepare())
	return cfg
}

// recordingStore remembers which keys were consumed.
type recordingStore struct {
	Store
	mu   sync.Mutex
	keys []BucketKey
}

func (s *recordingStore) Consume(ctx context.Context, key BucketKey, spec LimitSpec, n int64) (Probe, error) {
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	return s.Store.Consume(ctx, key, spec, n)
}

func (s *recordingStore) consumed(key BucketKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.keys {
		if k == key {
			n++
		}
	}
	return n
}

// failingStore fails every call with err.
type failingStore struct {
	err error
}

func (s failingStore) Consume(context.Context, BucketKey, LimitSpec, int64) (Probe, error) {
	return Probe{}, s.err
}

func (s failingStore) Reset(context.Context, BucketKey) error {
	return s.err
}

// blockingStore blocks until the call's context is done.
type blockingStore struct{}

func (blockingStore) Consume(ctx context.Context, _ BucketKey, _ LimitSpec, _ int64) (Probe, error) {
	<-ctx.Done()
	return Probe{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
}

func (blockingStore) Reset(ctx context.Context, _ BucketKey) error {
	<-ctx.Done()
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
}

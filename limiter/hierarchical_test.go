package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newHierarchy(t *testing.T, cfg *Config) (*HierarchicalLimiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	return NewHierarchicalLimiter(store, NewResolver(cfg)), clock
}

func TestHierarchicalLimiter_UserExhaustion(t *testing.T) {
	limiter, _ := newHierarchy(t, hierarchyConfig(t))
	ctx := context.Background()

	first, err := limiter.IsAllowed(ctx, "standard", "user1")
	require.NoError(t, err)
	assert.Equal(t, Result{Allowed: true, DeniedAt: ScopeNone, RemainingGlobal: 4, RemainingTenant: 2, RemainingUser: 1}, first)

	second, err := limiter.IsAllowed(ctx, "standard", "user1")
	require.NoError(t, err)
	assert.True(t, second.Allowed)

	third, err := limiter.IsAllowed(ctx, "standard", "user1")
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, ScopeUser, third.DeniedAt)
	// global and tenant tokens were spent even though USER denied
	assert.Equal(t, int64(2), third.RemainingGlobal)
	assert.Equal(t, int64(0), third.RemainingTenant)
	assert.Equal(t, int64(0), third.RemainingUser)
}

func TestHierarchicalLimiter_TenantExhaustion(t *testing.T) {
	limiter, _ := newHierarchy(t, hierarchyConfig(t))
	ctx := context.Background()

	for _, user := range []string{"user1", "user2", "user1"} {
		result, err := limiter.IsAllowed(ctx, "standard", user)
		require.NoError(t, err)
		require.True(t, result.Allowed, "call for %s", user)
	}

	result, err := limiter.IsAllowed(ctx, "standard", "user2")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ScopeTenant, result.DeniedAt)
	assert.Equal(t, int64(1), result.RemainingGlobal)
	assert.Equal(t, int64(0), result.RemainingTenant)
	assert.Equal(t, NotEvaluated, result.RemainingUser)
}

func TestHierarchicalLimiter_GlobalShortCircuit(t *testing.T) {
	clock := newFakeClock()
	store := &recordingStore{Store: NewMemoryStore(WithClock(clock.Now))}
	limiter := NewHierarchicalLimiter(store, NewResolver(hierarchyConfig(t)))
	ctx := context.Background()

	// distinct unconfigured tenants fall back to the global capacity
	for i := 0; i < 5; i++ {
		result, err := limiter.IsAllowed(ctx, fmt.Sprintf("tenant-%d", i), fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	for i := 0; i < 3; i++ {
		result, err := limiter.IsAllowed(ctx, "standard", "late-user")
		require.NoError(t, err)
		assert.Equal(t, Result{Allowed: false, DeniedAt: ScopeGlobal, RemainingGlobal: 0, RemainingTenant: NotEvaluated, RemainingUser: NotEvaluated}, result)
	}

	keys := NewKeyDeriver(HierarchyNamespace)
	assert.Equal(t, 8, store.consumed(keys.DeriveKey(ScopeGlobal, GlobalIdentifier)))
	assert.Zero(t, store.consumed(keys.DeriveKey(ScopeTenant, "standard")), "tenant bucket must not be touched")
	assert.Zero(t, store.consumed(keys.DeriveKey(ScopeUser, "late-user")), "user bucket must not be touched")
}

func TestHierarchicalLimiter_RefillAfterPeriod(t *testing.T) {
	limiter, clock := newHierarchy(t, hierarchyConfig(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.IsAllowed(ctx, "standard", "user1")
		require.NoError(t, err)
	}
	result, _ := limiter.IsAllowed(ctx, "standard", "user1")
	require.Equal(t, ScopeUser, result.DeniedAt)

	clock.Advance(time.Hour)

	result, err := limiter.IsAllowed(ctx, "standard", "user1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestHierarchicalLimiter_EmptyIdentifiers(t *testing.T) {
	limiter, _ := newHierarchy(t, hierarchyConfig(t))

	_, err := limiter.IsAllowed(context.Background(), "", "user")
	assert.ErrorIs(t, err, ErrEmptyIdentifier)

	_, err = limiter.IsAllowed(context.Background(), "standard", "")
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
}

func TestHierarchicalLimiter_StoreFailurePolicy(t *testing.T) {
	storeErr := fmt.Errorf("%w: connection refused", ErrStoreUnavailable)

	t.Run("fail closed", func(t *testing.T) {
		cfg := hierarchyConfig(t)
		limiter := NewHierarchicalLimiter(failingStore{err: storeErr}, NewResolver(cfg))

		result, err := limiter.IsAllowed(context.Background(), "standard", "user1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStoreUnavailable)

		var scopeErr *ScopeError
		require.True(t, errors.As(err, &scopeErr))
		assert.Equal(t, ScopeGlobal, scopeErr.Scope)

		assert.False(t, result.Allowed)
		assert.Equal(t, ScopeGlobal, result.DeniedAt)
		assert.Equal(t, NotEvaluated, result.RemainingGlobal)
	})

	t.Run("fail open", func(t *testing.T) {
		cfg := hierarchyConfig(t)
		cfg.FailurePolicy = FailOpen
		limiter := NewHierarchicalLimiter(failingStore{err: storeErr}, NewResolver(cfg))

		result, err := limiter.IsAllowed(context.Background(), "standard", "user1")
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.True(t, result.Allowed)
		assert.Equal(t, ScopeNone, result.DeniedAt)
	})
}

func TestHierarchicalLimiter_StoreTimeout(t *testing.T) {
	cfg := hierarchyConfig(t)
	cfg.StoreTimeout = 10 * time.Millisecond
	limiter := NewHierarchicalLimiter(blockingStore{}, NewResolver(cfg))

	started := time.Now()
	result, err := limiter.IsAllowed(context.Background(), "standard", "user1")

	assert.Less(t, time.Since(started), time.Second)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, result.Allowed)
}

func TestHierarchicalLimiter_Reset(t *testing.T) {
	limiter, _ := newHierarchy(t, hierarchyConfig(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = limiter.IsAllowed(ctx, "standard", "user1")
	}
	result, _ := limiter.IsAllowed(ctx, "standard", "user1")
	require.Equal(t, ScopeUser, result.DeniedAt)

	require.NoError(t, limiter.ResetUser(ctx, "user1"))
	require.NoError(t, limiter.ResetTenant(ctx, "standard"))

	result, err := limiter.IsAllowed(ctx, "standard", "user1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(2), result.RemainingTenant)

	assert.ErrorIs(t, limiter.ResetUser(ctx, ""), ErrEmptyIdentifier)
}

func TestHierarchicalLimiter_SharedRedisBuckets(t *testing.T) {
	_, client := newTestRedis(t)
	clock := newFakeClock()
	resolver := NewResolver(hierarchyConfig(t))

	serverA := NewHierarchicalLimiter(NewRedisStore(client, WithClock(clock.Now)), resolver)
	serverB := NewHierarchicalLimiter(NewRedisStore(client, WithClock(clock.Now)), resolver)
	ctx := context.Background()

	result, err := serverA.IsAllowed(ctx, "standard", "user1")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = serverB.IsAllowed(ctx, "standard", "user1")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = serverA.IsAllowed(ctx, "standard", "user1")
	require.NoError(t, err)
	assert.Equal(t, ScopeUser, result.DeniedAt, "both servers drew from the same user bucket")
}

func TestHierarchicalLimiter_ConcurrentCallers(t *testing.T) {
	cfg := &Config{
		Global: &HourlyLimit{LimitPerHour: 1000},
		Users:  &UserLimits{DefaultPerTenant: 40},
	}
	require.NoError(t, cfg.ValidateAndPrepare())
	limiter, _ := newHierarchy(t, cfg)

	var allowed, deniedAtUser atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 300; i++ {
		g.Go(func() error {
			result, err := limiter.IsAllowed(ctx, "acme", "hot-user")
			if err != nil {
				return err
			}
			if result.Allowed {
				allowed.Add(1)
			} else if result.DeniedAt == ScopeUser {
				deniedAtUser.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(40), allowed.Load())
	assert.Equal(t, int64(260), deniedAtUser.Load())
}

package limiter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// UserLimiter is the flat, single-scope limiter: one bucket per user, no
// hierarchy. It serves callers that cannot name a tenant.
type UserLimiter struct {
	store    Store
	resolver *Resolver
	keys     KeyDeriver
	metrics  *Metrics
}

// NewUserLimiter creates a flat per-user limiter using the legacy spec of the
// resolver's active config.
func NewUserLimiter(store Store, resolver *Resolver, opts ...Option) *UserLimiter {
	o := applyOptions(NewKeyDeriver(LegacyNamespace), opts)
	return &UserLimiter{
		store:    store,
		resolver: resolver,
		keys:     *o.keys,
		metrics:  o.metrics,
	}
}

// TryAcquire consumes one token from userID's bucket.
//
// On a store failure the returned probe follows the failure policy, carries
// NotEvaluated as Remaining, and the error wraps ErrStoreUnavailable.
func (l *UserLimiter) TryAcquire(ctx context.Context, userID string) (Probe, error) {
	if userID == "" {
		return Probe{}, ErrEmptyIdentifier
	}

	cfg := l.resolver.Config()
	key := l.keys.DeriveKey(ScopeUser, userID)

	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	started := time.Now()
	probe, err := l.store.Consume(ctx, key, cfg.LegacySpec(), 1)
	l.metrics.observeStore(ScopeUser, started, err)
	if err != nil {
		probe = Probe{Consumed: cfg.FailOpen(), Remaining: NotEvaluated}
		log.Error().Err(err).Str("user_id", userID).Str("policy", cfg.FailurePolicy).Bool("allowed", probe.Consumed).Msg("bucket store failed, applying failure policy")
		l.metrics.observeDecision("legacy", probe.Consumed, deniedScope(probe))
		return probe, &ScopeError{Scope: ScopeUser, Err: err}
	}

	if probe.Consumed {
		log.Debug().Str("user_id", userID).Int64("remaining", probe.Remaining).Msg("request allowed")
	} else {
		log.Warn().Str("user_id", userID).Dur("wait", probe.WaitForRefill).Msg("rate limit exceeded")
	}
	l.metrics.observeDecision("legacy", probe.Consumed, deniedScope(probe))
	return probe, nil
}

// Reset refills userID's bucket.
func (l *UserLimiter) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyIdentifier
	}
	ctx, cancel := context.WithTimeout(ctx, l.resolver.Config().StoreTimeout)
	defer cancel()

	if err := l.store.Reset(ctx, l.keys.DeriveKey(ScopeUser, userID)); err != nil {
		return &ScopeError{Scope: ScopeUser, Err: err}
	}
	return nil
}

func deniedScope(p Probe) Scope {
	if p.Consumed {
		return ScopeNone
	}
	return ScopeUser
}

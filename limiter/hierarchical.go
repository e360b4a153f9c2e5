package limiter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Result is the composite verdict of a hierarchical admission check.
// Remaining counts are NotEvaluated for scopes that were never reached.
type Result struct {
	Allowed         bool
	DeniedAt        Scope
	RemainingGlobal int64
	RemainingTenant int64
	RemainingUser   int64
}

func (r *Result) setRemaining(scope Scope, remaining int64) {
	switch scope {
	case ScopeGlobal:
		r.RemainingGlobal = remaining
	case ScopeTenant:
		r.RemainingTenant = remaining
	case ScopeUser:
		r.RemainingUser = remaining
	}
}

// HierarchicalLimiter admits requests against the GLOBAL, TENANT and USER buckets
// in that order and stops at the first denial.
//
// A token is spent at every scope that was reached, so a request denied at USER
// has already used one GLOBAL and one TENANT token. Nothing is refunded.
type HierarchicalLimiter struct {
	store    Store
	resolver *Resolver
	keys     KeyDeriver
	metrics  *Metrics
}

// NewHierarchicalLimiter creates a limiter over store, reading limits from resolver.
func NewHierarchicalLimiter(store Store, resolver *Resolver, opts ...Option) *HierarchicalLimiter {
	o := applyOptions(NewKeyDeriver(HierarchyNamespace), opts)
	return &HierarchicalLimiter{
		store:    store,
		resolver: resolver,
		keys:     *o.keys,
		metrics:  o.metrics,
	}
}

type scopeStep struct {
	scope      Scope
	identifier string
}

// IsAllowed consumes one token at each scope until one denies.
//
// A store failure returns a *ScopeError wrapping ErrStoreUnavailable together
// with the result dictated by the failure policy: under fail_closed the request
// is denied at the failing scope, under fail_open it is allowed. Later scopes are
// not evaluated in either case.
func (l *HierarchicalLimiter) IsAllowed(ctx context.Context, tenantID, userID string) (Result, error) {
	if tenantID == "" || userID == "" {
		return Result{DeniedAt: ScopeNone}, ErrEmptyIdentifier
	}

	cfg := l.resolver.Config()
	result := Result{
		DeniedAt:        ScopeNone,
		RemainingGlobal: NotEvaluated,
		RemainingTenant: NotEvaluated,
		RemainingUser:   NotEvaluated,
	}

	steps := [...]scopeStep{
		{scope: ScopeGlobal, identifier: GlobalIdentifier},
		{scope: ScopeTenant, identifier: tenantID},
		{scope: ScopeUser, identifier: userID},
	}

	for _, step := range steps {
		probe, err := l.consume(ctx, cfg, step)
		if err != nil {
			return l.storeFailure(cfg, result, step.scope, tenantID, userID, err)
		}

		result.setRemaining(step.scope, probe.Remaining)
		if !probe.Consumed {
			result.DeniedAt = step.scope
			log.Warn().Str("tenant_id", tenantID).Str("user_id", userID).Stringer("scope", step.scope).Int64("remaining", probe.Remaining).Dur("wait", probe.WaitForRefill).Msg("rate limit exceeded")
			l.metrics.observeDecision("hierarchical", false, step.scope)
			return result, nil
		}
	}

	result.Allowed = true
	log.Debug().Str("tenant_id", tenantID).Str("user_id", userID).Int64("remaining_global", result.RemainingGlobal).Int64("remaining_tenant", result.RemainingTenant).Int64("remaining_user", result.RemainingUser).Msg("request allowed")
	l.metrics.observeDecision("hierarchical", true, ScopeNone)
	return result, nil
}

func (l *HierarchicalLimiter) consume(ctx context.Context, cfg *Config, step scopeStep) (Probe, error) {
	spec := cfg.Resolve(step.scope, step.identifier)
	key := l.keys.DeriveKey(step.scope, step.identifier)

	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	started := time.Now()
	probe, err := l.store.Consume(ctx, key, spec, 1)
	l.metrics.observeStore(step.scope, started, err)
	return probe, err
}

func (l *HierarchicalLimiter) storeFailure(cfg *Config, result Result, scope Scope, tenantID, userID string, err error) (Result, error) {
	scopeErr := &ScopeError{Scope: scope, Err: err}

	if cfg.FailOpen() {
		result.Allowed = true
		result.DeniedAt = ScopeNone
	} else {
		result.Allowed = false
		result.DeniedAt = scope
	}

	log.Error().Err(err).Str("tenant_id", tenantID).Str("user_id", userID).Stringer("scope", scope).Str("policy", cfg.FailurePolicy).Bool("allowed", result.Allowed).Msg("bucket store failed, applying failure policy")
	l.metrics.observeDecision("hierarchical", result.Allowed, result.DeniedAt)
	return result, scopeErr
}

// ResetTenant refills the bucket of tenantID.
func (l *HierarchicalLimiter) ResetTenant(ctx context.Context, tenantID string) error {
	return l.reset(ctx, ScopeTenant, tenantID)
}

// ResetUser refills the bucket of userID, e.g. after the user's plan changed.
func (l *HierarchicalLimiter) ResetUser(ctx context.Context, userID string) error {
	return l.reset(ctx, ScopeUser, userID)
}

func (l *HierarchicalLimiter) reset(ctx context.Context, scope Scope, identifier string) error {
	if identifier == "" {
		return ErrEmptyIdentifier
	}
	ctx, cancel := context.WithTimeout(ctx, l.resolver.Config().StoreTimeout)
	defer cancel()

	if err := l.store.Reset(ctx, l.keys.DeriveKey(scope, identifier)); err != nil {
		return &ScopeError{Scope: scope, Err: err}
	}
	log.Info().Stringer("scope", scope).Str("identifier", identifier).Msg("bucket reset")
	return nil
}

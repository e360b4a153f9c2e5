// Package guard turns limiter verdicts into transport-level admission control
// for gRPC servers and HTTP handlers.
package guard

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/toolink/quota/limiter"
	"github.com/toolink/quota/meta"
)

// Decision is the admission outcome for one request.
type Decision struct {
	Allowed bool
	Exempt  bool
	// Hierarchy is set when the caller named a tenant.
	Hierarchy *limiter.Result
	// Legacy is set when the flat per-user limiter was used instead.
	Legacy *limiter.Probe
	// Unavailable is true when the store failed and the failure policy decided.
	Unavailable bool
}

// DeniedAt returns the scope that denied the request, or ScopeNone.
func (d Decision) DeniedAt() limiter.Scope {
	switch {
	case d.Allowed:
		return limiter.ScopeNone
	case d.Hierarchy != nil:
		return d.Hierarchy.DeniedAt
	default:
		return limiter.ScopeUser
	}
}

// Guard decides admission for incoming requests.
type Guard struct {
	hierarchy *limiter.HierarchicalLimiter
	legacy    *limiter.UserLimiter
	table     *Table
	metrics   *Metrics
}

// Option configures a Guard.
type Option func(*Guard)

// WithTable sets the exempt operation table.
func WithTable(t *Table) Option {
	return func(g *Guard) {
		g.table = t
	}
}

// WithMetrics records per-operation request counts on m.
func WithMetrics(m *Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// New creates a Guard. Callers with a tenant go through hierarchy, the rest
// through legacy.
func New(hierarchy *limiter.HierarchicalLimiter, legacy *limiter.UserLimiter, opts ...Option) *Guard {
	g := &Guard{
		hierarchy: hierarchy,
		legacy:    legacy,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit decides whether the request for op, made by the identity stored in
// ctx, may proceed. Store failures are logged and resolved by the failure
// policy; the returned Decision is always usable.
func (g *Guard) Admit(ctx context.Context, op string) Decision {
	if g.table.Treatment(op) == Exempt {
		log.Debug().Str("operation", op).Msg("operation exempt from rate limiting")
		return Decision{Allowed: true, Exempt: true}
	}

	id := meta.IdentityFromContext(ctx)
	if id.UserID == "" {
		id.UserID = limiter.AnonymousUser
	}

	var decision Decision
	var err error
	if id.HasTenant() {
		var result limiter.Result
		result, err = g.hierarchy.IsAllowed(ctx, id.TenantID, id.UserID)
		decision = Decision{Allowed: result.Allowed, Hierarchy: &result}
	} else {
		var probe limiter.Probe
		probe, err = g.legacy.TryAcquire(ctx, id.UserID)
		decision = Decision{Allowed: probe.Consumed, Legacy: &probe}
	}

	if err != nil {
		decision.Unavailable = errors.Is(err, limiter.ErrStoreUnavailable)
		log.Error().Err(err).Str("operation", op).Str("tenant_id", id.TenantID).Str("user_id", id.UserID).Bool("allowed", decision.Allowed).Msg("admission check failed")
	}

	g.metrics.observe(op, decision)
	return decision
}

package limiter

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Resolver maps a scope and identifier to the configured limit spec.
// The underlying config can be swapped at runtime; every Resolve reads one snapshot.
type Resolver struct {
	config atomic.Pointer[Config]
}

// NewResolver creates a Resolver over a config prepared by ValidateAndPrepare.
func NewResolver(cfg *Config) *Resolver {
	r := &Resolver{}
	r.config.Store(cfg)
	return r
}

// Update validates cfg and makes it the active config. The previous config stays
// active if validation fails.
func (r *Resolver) Update(cfg *Config) error {
	if err := cfg.ValidateAndPrepare(); err != nil {
		return err
	}
	r.config.Store(cfg)
	log.Info().Int64("global_limit", cfg.globalSpec.Capacity).Int("tenants", len(cfg.tenantSpecs)).Int64("user_limit", cfg.userSpec.Capacity).Msg("limit config updated")
	return nil
}

// Config returns the active config snapshot.
func (r *Resolver) Config() *Config {
	return r.config.Load()
}

// Resolve returns the limit for scope from the active config.
func (r *Resolver) Resolve(scope Scope, identifier string) LimitSpec {
	return r.config.Load().Resolve(scope, identifier)
}

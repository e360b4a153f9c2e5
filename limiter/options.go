package limiter

// Option configures a HierarchicalLimiter or UserLimiter.
type Option func(*limiterOptions)

type limiterOptions struct {
	metrics *Metrics
	keys    *KeyDeriver
}

// WithMetrics records decisions and store calls on m.
func WithMetrics(m *Metrics) Option {
	return func(o *limiterOptions) {
		o.metrics = m
	}
}

// WithKeyDeriver overrides the limiter's default key namespace.
func WithKeyDeriver(d KeyDeriver) Option {
	return func(o *limiterOptions) {
		o.keys = &d
	}
}

func applyOptions(defaultNamespace KeyDeriver, opts []Option) limiterOptions {
	o := limiterOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.keys == nil {
		o.keys = &defaultNamespace
	}
	return o
}

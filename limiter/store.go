package limiter

import (
	"context"
	"time"
)

// Store owns the token buckets and performs atomic consumes on them.
type Store interface {
	// Consume takes n tokens from the bucket at key, creating a full bucket for
	// spec first if none exists. The read-modify-write must be atomic per key.
	// Failures to reach the backing store are wrapped in ErrStoreUnavailable.
	Consume(ctx context.Context, key BucketKey, spec LimitSpec, n int64) (Probe, error)

	// Reset restores the bucket at key to full capacity.
	Reset(ctx context.Context, key BucketKey) error
}

// StoreOption configures a Store implementation.
type StoreOption func(*storeOptions)

type storeOptions struct {
	now       func() time.Time
	keyPrefix string
}

func defaultStoreOptions() *storeOptions {
	return &storeOptions{
		now:       time.Now,
		keyPrefix: defaultRedisKeyPrefix,
	}
}

// WithClock replaces time.Now as the store's time source.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithKeyPrefix sets the prefix prepended to bucket keys in shared stores.
func WithKeyPrefix(prefix string) StoreOption {
	return func(o *storeOptions) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

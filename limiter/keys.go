package limiter

import (
	"github.com/google/uuid"
)

// Namespaces for derived bucket keys. They are fixed so that keys survive restarts.
var (
	// HierarchyNamespace scopes the GLOBAL, TENANT and USER buckets.
	HierarchyNamespace = uuid.MustParse("6f1c9a52-3d0e-5b7a-9e43-2c8f1d7b04a6")
	// LegacyNamespace scopes the flat per-user buckets so they never share a key
	// with the hierarchical USER bucket of the same user.
	LegacyNamespace = uuid.MustParse("a4e2b7c1-58d9-5f03-8b16-7e0c3f92d5ab")
)

// BucketKey addresses exactly one token bucket.
type BucketKey string

// KeyDeriver turns (scope, identifier) pairs into stable bucket keys.
type KeyDeriver struct {
	namespace uuid.UUID
}

// NewKeyDeriver creates a KeyDeriver that derives keys inside namespace.
func NewKeyDeriver(namespace uuid.UUID) KeyDeriver {
	return KeyDeriver{namespace: namespace}
}

// DeriveKey returns a name-based (SHA-1, version 5) UUID of
// "ratelimit:<scope>:<identifier>". The scope prefix keeps textually equal
// identifiers of different scopes apart.
func (d KeyDeriver) DeriveKey(scope Scope, identifier string) BucketKey {
	material := "ratelimit:" + scope.label() + ":" + identifier
	return BucketKey(uuid.NewSHA1(d.namespace, []byte(material)).String())
}

// Package meta carries request-scoped caller metadata within a context.Context.
// Authentication layers record the caller's tenant and user here; admission
// control reads them back without knowing how they were established.
package meta

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/metadata"
)

// Well-known metadata keys. gRPC metadata keys are lower case; HTTP header
// lookups are case-insensitive.
const (
	KeyTenantID = "x-tenant-id"
	KeyUserID   = "x-user-id"
)

// metadataKey is the private key type used for context.WithValue.
type metadataKey struct{}

// Identity is the authenticated caller of a request.
type Identity struct {
	TenantID string
	UserID   string
}

// HasTenant reports whether the caller belongs to a known tenant.
func (i Identity) HasTenant() bool {
	return i.TenantID != ""
}

// Metadata holds string attributes of one request.
type Metadata struct {
	mu   sync.RWMutex
	data map[string]string
}

// New creates a new, empty Metadata store.
func New() *Metadata {
	return &Metadata{
		data: make(map[string]string),
	}
}

// FromIdentity creates a Metadata store holding id.
func FromIdentity(id Identity) *Metadata {
	m := New()
	m.SetIdentity(id)
	return m
}

// FromGRPC copies the identity keys out of incoming gRPC metadata.
func FromGRPC(md metadata.MD) *Metadata {
	m := New()
	for _, key := range []string{KeyTenantID, KeyUserID} {
		if values := md.Get(key); len(values) > 0 {
			m.Set(key, values[0])
		}
	}
	return m
}

// FromHeader copies the identity keys out of HTTP request headers.
func FromHeader(h http.Header) *Metadata {
	m := New()
	for _, key := range []string{KeyTenantID, KeyUserID} {
		if value := h.Get(key); value != "" {
			m.Set(key, value)
		}
	}
	return m
}

// Set adds or updates a key-value pair. Keys are stored lower case.
func (m *Metadata) Set(key, value string) {
	if m == nil {
		log.Error().Str("key", key).Msg("attempted to set metadata on nil *metadata instance")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[strings.ToLower(key)] = strings.TrimSpace(value)
}

// Get retrieves a value by key.
func (m *Metadata) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[strings.ToLower(key)]
	return value, ok
}

// SetIdentity records the caller's tenant and user.
func (m *Metadata) SetIdentity(id Identity) {
	if id.TenantID != "" {
		m.Set(KeyTenantID, id.TenantID)
	}
	if id.UserID != "" {
		m.Set(KeyUserID, id.UserID)
	}
}

// Identity returns the caller recorded in the metadata. Missing parts are empty.
func (m *Metadata) Identity() Identity {
	tenant, _ := m.Get(KeyTenantID)
	user, _ := m.Get(KeyUserID)
	return Identity{TenantID: tenant, UserID: user}
}

// WithContext returns a new context derived from ctx that carries m.
func (m *Metadata) WithContext(ctx context.Context) context.Context {
	if ctx == nil {
		log.Error().Msg("attempted to attach metadata to a nil context, using background context")
		ctx = context.Background()
	}
	if m == nil {
		return ctx
	}
	return context.WithValue(ctx, metadataKey{}, m)
}

// FromContext extracts the *Metadata from ctx. The boolean is false when ctx
// carries none, in which case an empty store is returned.
func FromContext(ctx context.Context) (*Metadata, bool) {
	if ctx == nil {
		return New(), false
	}

	md, ok := ctx.Value(metadataKey{}).(*Metadata)
	if !ok || md == nil {
		return New(), false
	}
	return md, true
}

// IdentityFromContext returns the caller identity stored in ctx, if any.
func IdentityFromContext(ctx context.Context) Identity {
	md, _ := FromContext(ctx)
	return md.Identity()
}

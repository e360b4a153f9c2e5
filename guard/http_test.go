package guard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolink/quota/limiter"
)

func newTestRouter(g *Guard) http.Handler {
	r := chi.NewRouter()
	r.Use(g.Middleware)
	r.Get("/jokes", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func doRequest(h http.Handler, path, tenant, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_HierarchicalHeadersAndDenial(t *testing.T) {
	router := newTestRouter(newTestGuard(t, newStore(), limiter.FailClosed))

	rec := doRequest(router, "/jokes", "standard", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("X-Rate-Limit-Remaining-Global"))
	assert.Equal(t, "2", rec.Header().Get("X-Rate-Limit-Remaining-Tenant"))
	assert.Equal(t, "1", rec.Header().Get("X-Rate-Limit-Remaining-User"))

	doRequest(router, "/jokes", "standard", "u2")
	doRequest(router, "/jokes", "standard", "u1")

	rec = doRequest(router, "/jokes", "standard", "u2")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "-1", rec.Header().Get("X-Rate-Limit-Remaining-User"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "429 TOO_MANY_REQUESTS", body["status"])
	assert.Equal(t, "TENANT", body["deniedAt"])
}

func TestMiddleware_LegacyRetryAfter(t *testing.T) {
	router := newTestRouter(newTestGuard(t, newStore(), limiter.FailClosed))

	for i := 0; i < 10; i++ {
		rec := doRequest(router, "/jokes", "", "u1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Rate-Limit-Remaining"))
	}

	rec := doRequest(router, "/jokes", "", "u1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "6", rec.Header().Get("X-Rate-Limit-Retry-After-Seconds"))
	assert.Equal(t, "6", rec.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, planExhaustedMessage, body["description"])
	_, hasScope := body["deniedAt"]
	assert.False(t, hasScope)
}

func TestMiddleware_ExemptPath(t *testing.T) {
	g := newTestGuard(t, newStore(), limiter.FailClosed, WithTable(NewTable("GET /healthz")))
	router := newTestRouter(g)

	for i := 0; i < 20; i++ {
		rec := doRequest(router, "/healthz", "standard", "u1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Rate-Limit-Remaining-Global"))
	}
}

func TestMiddleware_StoreUnavailable(t *testing.T) {
	router := newTestRouter(newTestGuard(t, downStore{}, limiter.FailClosed))

	rec := doRequest(router, "/jokes", "standard", "u1")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "503 SERVICE_UNAVAILABLE", body["status"])
}

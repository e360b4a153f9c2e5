package guard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/toolink/quota/limiter"
	"github.com/toolink/quota/meta"
)

const planExhaustedMessage = "API request limit linked to your current plan has been exhausted."

type errorResponse struct {
	Status      string        `json:"status"`
	DeniedAt    limiter.Scope `json:"deniedAt,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Middleware enforces admission control on HTTP requests. The operation
// identifier is "METHOD /path".
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := meta.FromContext(r.Context()); !ok {
			r = r.WithContext(meta.FromHeader(r.Header).WithContext(r.Context()))
		}

		decision := g.Admit(r.Context(), r.Method+" "+r.URL.Path)
		for key, value := range headerValues(decision) {
			w.Header().Set(key, value)
		}

		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		writeDenial(w, decision)
	})
}

func writeDenial(w http.ResponseWriter, d Decision) {
	code := http.StatusTooManyRequests
	body := errorResponse{}

	switch {
	case d.Unavailable:
		code = http.StatusServiceUnavailable
		body.Description = "rate limiter unavailable"
	case d.Hierarchy != nil:
		body.DeniedAt = d.Hierarchy.DeniedAt
	default:
		body.Description = planExhaustedMessage
		if d.Legacy != nil {
			w.Header().Set("Retry-After", fmt.Sprint(d.Legacy.RetryAfterSeconds()))
		}
	}
	body.Status = statusLine(code)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to write rate limit response")
	}
}

// statusLine renders e.g. "429 TOO_MANY_REQUESTS".
func statusLine(code int) string {
	text := strings.ToUpper(strings.ReplaceAll(http.StatusText(code), " ", "_"))
	return fmt.Sprintf("%d %s", code, text)
}

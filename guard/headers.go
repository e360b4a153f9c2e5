package guard

import (
	"strconv"
)

// Response header / metadata keys. gRPC uses them as is; HTTP canonicalizes them.
const (
	HeaderRemainingGlobal   = "x-rate-limit-remaining-global"
	HeaderRemainingTenant   = "x-rate-limit-remaining-tenant"
	HeaderRemainingUser     = "x-rate-limit-remaining-user"
	HeaderRemaining         = "x-rate-limit-remaining"
	HeaderRetryAfterSeconds = "x-rate-limit-retry-after-seconds"
)

// headerValues renders the telemetry of d. Hierarchical decisions report all
// three scopes, -1 marking a scope that was not evaluated.
func headerValues(d Decision) map[string]string {
	values := map[string]string{}

	switch {
	case d.Hierarchy != nil:
		values[HeaderRemainingGlobal] = strconv.FormatInt(d.Hierarchy.RemainingGlobal, 10)
		values[HeaderRemainingTenant] = strconv.FormatInt(d.Hierarchy.RemainingTenant, 10)
		values[HeaderRemainingUser] = strconv.FormatInt(d.Hierarchy.RemainingUser, 10)
	case d.Legacy != nil:
		if d.Legacy.Remaining >= 0 {
			values[HeaderRemaining] = strconv.FormatInt(d.Legacy.Remaining, 10)
		}
		if !d.Legacy.Consumed && !d.Unavailable {
			values[HeaderRetryAfterSeconds] = strconv.FormatInt(d.Legacy.RetryAfterSeconds(), 10)
		}
	}
	return values
}

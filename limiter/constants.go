package limiter

import "time"

// Storage types
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Failure policies applied when the bucket store cannot be reached.
const (
	FailClosed = "fail_closed"
	FailOpen   = "fail_open"
)

// NotEvaluated is reported as the remaining count of a scope that was never reached.
const NotEvaluated int64 = -1

// GlobalIdentifier is the fixed identifier of the single global bucket.
const GlobalIdentifier = "global"

// AnonymousUser is used by callers that have no authenticated user id at all.
const AnonymousUser = "anonymous"

// Defaults
const (
	defaultStoreTimeout    = 50 * time.Millisecond
	defaultRedisKeyPrefix  = "ratelimit:"
	defaultLegacyCapacity  = 10
	defaultLegacyRefill    = time.Minute
	defaultHierarchyPeriod = time.Hour
)

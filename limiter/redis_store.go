package limiter

import (
	"context"
	_ "embed" // needed for go:embed
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

//go:embed limiter.lua
var redisLimiterScript string

var redisScript = redis.NewScript(redisLimiterScript)

// RedisStore keeps buckets in Redis so that every server process sees one
// logical bucket per key. Each consume is a single Lua script call.
type RedisStore struct {
	client redis.Cmdable // Cmdable keeps ClusterClient and SentinelClient usable
	opts   *storeOptions
}

// NewRedisStore creates a Redis-backed bucket store on a pre-configured client.
func NewRedisStore(client redis.Cmdable, opts ...StoreOption) *RedisStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &RedisStore{
		client: client,
		opts:   o,
	}
}

// Load preloads the script so the first consume can use EVALSHA.
func (s *RedisStore) Load(ctx context.Context) error {
	if err := redisScript.Load(ctx, s.client).Err(); err != nil {
		return fmt.Errorf("%w: loading script: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) redisKey(key BucketKey) string {
	return s.opts.keyPrefix + string(key)
}

// Consume implements Store.
func (s *RedisStore) Consume(ctx context.Context, key BucketKey, spec LimitSpec, n int64) (Probe, error) {
	now := s.opts.now()

	// an idle bucket is full again after one period, so it can expire then
	ttl := spec.RefillPeriod.Milliseconds() + time.Second.Milliseconds()

	args := []any{
		spec.Capacity,                    // ARGV[1]
		spec.RefillPeriod.Microseconds(), // ARGV[2]
		now.UnixMicro(),                  // ARGV[3]
		n,                                // ARGV[4]
		ttl,                              // ARGV[5]
	}

	result, err := redisScript.Run(ctx, s.client, []string{s.redisKey(key)}, args...).Result()
	if err != nil {
		log.Error().Err(err).Str("key", string(key)).Msg("redis lua script execution failed")
		return Probe{}, fmt.Errorf("%w: key %s: %w", ErrStoreUnavailable, key, err)
	}

	consumed, tokens, err := parseScriptResult(result)
	if err != nil {
		log.Error().Err(err).Str("key", string(key)).Interface("result", result).Msg("redis lua script returned unexpected result")
		return Probe{}, fmt.Errorf("%w: key %s: %w", ErrStoreUnavailable, key, err)
	}

	probe := Probe{
		Consumed:  consumed,
		Remaining: int64(math.Floor(tokens)),
	}
	if !consumed {
		probe.WaitForRefill = spec.waitFor(float64(n) - tokens)
	}
	return probe, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, key BucketKey) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: reset %s: %w", ErrStoreUnavailable, key, err)
	}
	log.Debug().Str("key", string(key)).Msg("redis bucket reset")
	return nil
}

func parseScriptResult(result any) (bool, float64, error) {
	values, ok := result.([]any)
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected result type %T", result)
	}

	flag, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected consumed flag type %T", values[0])
	}

	raw, ok := values[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("unexpected tokens type %T", values[1])
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("parsing tokens %q: %w", raw, err)
	}

	return flag == 1, tokens, nil
}

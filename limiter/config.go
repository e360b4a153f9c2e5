package limiter

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// HourlyLimit is a limit expressed as tokens per hour.
type HourlyLimit struct {
	LimitPerHour int64 `yaml:"limit_per_hour"`
}

// UserLimits holds the limit shared by every user.
type UserLimits struct {
	DefaultPerTenant int64 `yaml:"default_per_tenant"`
}

// LegacyLimits configures the flat per-user limiter used when no tenant is known.
type LegacyLimits struct {
	Capacity     int64         `yaml:"capacity"`
	RefillPeriod time.Duration `yaml:"refill_period"`
}

// RedisConfig holds the connection settings for the redis storage type.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Config holds the overall rate limiter configuration.
type Config struct {
	StorageType   string                 `yaml:"storage_type"`   // "memory" or "redis"
	FailurePolicy string                 `yaml:"failure_policy"` // "fail_closed" or "fail_open"
	StoreTimeout  time.Duration          `yaml:"store_timeout"`
	Redis         RedisConfig            `yaml:"redis"`
	Global        *HourlyLimit           `yaml:"global"`
	Tenants       map[string]HourlyLimit `yaml:"tenants"`
	Users         *UserLimits            `yaml:"users"`
	Legacy        LegacyLimits           `yaml:"legacy"`

	// internal fields
	globalSpec  LimitSpec
	tenantSpecs map[string]LimitSpec
	userSpec    LimitSpec
	legacySpec  LimitSpec
}

// LoadConfig reads, parses and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML into a validated Config.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.ValidateAndPrepare(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateAndPrepare applies defaults, validates the raw config and precomputes
// the limit specs. A missing global or user limit is a startup error.
func (c *Config) ValidateAndPrepare() error {
	if c.StorageType == "" {
		c.StorageType = StorageMemory
	}
	if c.StorageType != StorageMemory && c.StorageType != StorageRedis {
		return fmt.Errorf("%w: storage_type %q, must be '%s' or '%s'", ErrInvalidConfig, c.StorageType, StorageMemory, StorageRedis)
	}

	if c.FailurePolicy == "" {
		c.FailurePolicy = FailClosed
	}
	if c.FailurePolicy != FailClosed && c.FailurePolicy != FailOpen {
		return fmt.Errorf("%w: failure_policy %q, must be '%s' or '%s'", ErrInvalidConfig, c.FailurePolicy, FailClosed, FailOpen)
	}

	if c.StoreTimeout < 0 {
		return fmt.Errorf("%w: store_timeout %s must not be negative", ErrInvalidConfig, c.StoreTimeout)
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = defaultStoreTimeout
	}

	if c.StorageType == StorageRedis && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required for storage_type '%s'", ErrInvalidConfig, StorageRedis)
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}

	if c.Global == nil {
		return fmt.Errorf("%w: global limit is not configured", ErrInvalidConfig)
	}
	if c.Global.LimitPerHour <= 0 {
		return fmt.Errorf("%w: global limit_per_hour %d, must be positive", ErrInvalidConfig, c.Global.LimitPerHour)
	}
	c.globalSpec = hourly(c.Global.LimitPerHour)

	c.tenantSpecs = make(map[string]LimitSpec, len(c.Tenants))
	for tenantID, limit := range c.Tenants {
		if tenantID == "" {
			return fmt.Errorf("%w: tenant id must not be empty", ErrInvalidConfig)
		}
		if limit.LimitPerHour <= 0 {
			return fmt.Errorf("%w: tenant '%s' limit_per_hour %d, must be positive", ErrInvalidConfig, tenantID, limit.LimitPerHour)
		}
		c.tenantSpecs[tenantID] = hourly(limit.LimitPerHour)
	}
	if len(c.Tenants) == 0 {
		log.Warn().Msg("no tenant limits configured, every tenant falls back to the global limit")
	}

	if c.Users == nil {
		return fmt.Errorf("%w: users limit is not configured", ErrInvalidConfig)
	}
	if c.Users.DefaultPerTenant <= 0 {
		return fmt.Errorf("%w: users default_per_tenant %d, must be positive", ErrInvalidConfig, c.Users.DefaultPerTenant)
	}
	c.userSpec = hourly(c.Users.DefaultPerTenant)

	if c.Legacy.Capacity == 0 {
		c.Legacy.Capacity = defaultLegacyCapacity
	}
	if c.Legacy.RefillPeriod == 0 {
		c.Legacy.RefillPeriod = defaultLegacyRefill
	}
	c.legacySpec = LimitSpec{Capacity: c.Legacy.Capacity, RefillPeriod: c.Legacy.RefillPeriod}
	if !c.legacySpec.Valid() {
		return fmt.Errorf("%w: legacy capacity %d and refill_period %s must be positive", ErrInvalidConfig, c.Legacy.Capacity, c.Legacy.RefillPeriod)
	}

	return nil
}

// Resolve returns the limit for scope. Tenants without an explicit entry get the
// global capacity; all users share one default.
func (c *Config) Resolve(scope Scope, identifier string) LimitSpec {
	switch scope {
	case ScopeTenant:
		if spec, ok := c.tenantSpecs[identifier]; ok {
			return spec
		}
		return c.globalSpec
	case ScopeUser:
		return c.userSpec
	default:
		return c.globalSpec
	}
}

// FailOpen reports whether store failures should admit requests.
func (c *Config) FailOpen() bool {
	return c.FailurePolicy == FailOpen
}

// LegacySpec returns the prepared spec of the flat per-user limiter.
func (c *Config) LegacySpec() LimitSpec {
	return c.legacySpec
}

func hourly(limit int64) LimitSpec {
	return LimitSpec{Capacity: limit, RefillPeriod: defaultHierarchyPeriod}
}

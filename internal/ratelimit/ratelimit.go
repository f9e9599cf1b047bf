// Package ratelimit bounds provider invocations per agent with a
// sliding window: Redis-backed when configured so limits hold across
// processes, in-memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiting configuration.
type Config struct {
	// Enabled determines if rate limiting is active
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Redis configuration for shared rate limiting state
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// ProviderCalls bounds provider invocations per agent
	ProviderCalls LimitConfig `json:"provider_calls" yaml:"provider_calls"`

	// CleanupInterval for dropping stale windows (in-memory backend)
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig returns the default provider-call limits.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		ProviderCalls:   LimitConfig{Requests: 30, Window: time.Minute},
		CleanupInterval: 5 * time.Minute,
	}
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// LimitConfig holds one rate limit: requests per window.
type LimitConfig struct {
	Requests int           `json:"requests" yaml:"requests"`
	Window   time.Duration `json:"window" yaml:"window"`
}

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int64         `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
	Limit      int64         `json:"limit"`
}

// RateLimiter bounds provider calls keyed by agent id.
type RateLimiter struct {
	cfg   Config
	redis *redis.Client
	mem   *windowStore
	nonce atomic.Int64
}

// NewRateLimiter creates a new rate limiter with the given
// configuration. A configured but unreachable Redis is a construction
// error, not a silent fallback.
func NewRateLimiter(cfg Config) (*RateLimiter, error) {
	rl := &RateLimiter{
		cfg: cfg,
		mem: newWindowStore(cfg.CleanupInterval),
	}

	if cfg.Redis.Enabled {
		rl.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rl.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}
	return rl, nil
}

// AllowProviderCall checks whether the agent may invoke the provider
// right now.
func (rl *RateLimiter) AllowProviderCall(ctx context.Context, agentID string) (*Result, error) {
	return rl.Allow(ctx, agentID, rl.cfg.ProviderCalls)
}

// Allow runs one sliding-window admission check for the identifier.
// The request is only recorded when it is admitted; rejected requests
// never shrink the window further.
func (rl *RateLimiter) Allow(ctx context.Context, identifier string, limit LimitConfig) (*Result, error) {
	if !rl.cfg.Enabled {
		return &Result{Allowed: true, Limit: int64(limit.Requests)}, nil
	}

	now := time.Now().UnixMilli()
	if rl.redis != nil {
		return rl.allowRedis(ctx, rl.key(identifier), limit, now)
	}
	return rl.mem.allow(rl.key(identifier), now, limit.Window.Milliseconds(), limit.Requests), nil
}

// slidingWindowScript admits atomically: prune the window, count, and
// only add the new entry when it fits. Returns {allowed, used,
// retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local used = redis.call('ZCARD', key)
if used < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, used + 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = window
if oldest[2] then
	wait = window - (now - tonumber(oldest[2]))
end
return {0, used, wait}
`)

func (rl *RateLimiter) allowRedis(ctx context.Context, key string, limit LimitConfig, now int64) (*Result, error) {
	member := fmt.Sprintf("%d-%d", now, rl.nonce.Add(1))
	raw, err := slidingWindowScript.Run(ctx, rl.redis, []string{key},
		now, limit.Window.Milliseconds(), limit.Requests, member).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("sliding window script: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("sliding window script: unexpected reply %v", raw)
	}

	allowed := raw[0] == 1
	used := raw[1]
	result := &Result{
		Allowed:   allowed,
		Remaining: max(0, int64(limit.Requests)-used),
		Limit:     int64(limit.Requests),
	}
	if !allowed {
		result.RetryAfter = time.Duration(raw[2]) * time.Millisecond
	}
	return result, nil
}

// key flattens an identifier into the storage key.
func (rl *RateLimiter) key(identifier string) string {
	prefix := rl.cfg.Redis.KeyPrefix
	if prefix == "" {
		prefix = "ratelimit"
	}
	sanitized := strings.Map(func(r rune) rune {
		if r == ':' || r == ' ' {
			return '_'
		}
		return r
	}, identifier)
	return prefix + ":provider:" + sanitized
}

// Close releases the Redis connection and stops the in-memory janitor.
func (rl *RateLimiter) Close() error {
	rl.mem.stop()
	if rl.redis != nil {
		return rl.redis.Close()
	}
	return nil
}

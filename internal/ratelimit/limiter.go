package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ============================================================================
// FIXED WINDOW COUNTER
// ============================================================================
// Each identity gets one counter key. The first request of a window creates
// the key and sets its expiry, later requests only increment it. The window
// therefore starts at the identity's first request, not on a clock boundary.
//
// INCR and the conditional PEXPIRE run in a single script, so concurrent
// callers cannot reset the expiry and stretch the window forever. A key that
// lost its TTL somehow gets one again on the next call.
// ============================================================================
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

const (
	// DefaultPrefix is prepended to the identity to form the counter key
	DefaultPrefix = "rate_limit:"
	// DefaultLimit is the number of calls allowed per window
	DefaultLimit = 5
	// DefaultWindow is the window length
	DefaultWindow = 60 * time.Second
)

// Config holds configuration for the rate limiter
type Config struct {
	// Limit is the maximum number of calls per window
	Limit int
	// Window is the lifetime of a counter
	Window time.Duration
	// Prefix namespaces counter keys
	Prefix string
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before trying again
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter is a Redis-backed fixed window rate limiter
type Limiter struct {
	redis  redis.Scripter
	config Config
	now    func() time.Time
}

// NewLimiter creates a new rate limiter instance
func NewLimiter(rdb redis.Scripter, cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Limiter{
		redis:  rdb,
		config: cfg,
		now:    time.Now,
	}
}

// Allow counts one call for identity and reports whether it fits in the current window
func (l *Limiter) Allow(ctx context.Context, identity string) (Decision, error) {
	key := l.config.Prefix + identity

	res, err := fixedWindowScript.Run(ctx, l.redis, []string{key}, l.config.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check for %s: %w", identity, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit check for %s: unexpected reply %v", identity, res)
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	remaining := l.config.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= l.config.Limit,
		Limit:     l.config.Limit,
		Remaining: remaining,
		ResetAt:   l.now().Add(ttl),
	}, nil
}

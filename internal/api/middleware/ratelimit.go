package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/rzx/internal/metrics"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Enable auto-blocking after repeated violations
}

// counter decides whether one more request fits in the window.
type counter interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time)
	Violation(ctx context.Context, ip string) int64
}

// RateLimiter implements per-endpoint rate limiting. It counts in Redis when
// a client is configured and in process memory otherwise.
type RateLimiter struct {
	counter          counter
	limits           map[string]RateLimit
	blocker          *IPBlocker
	logger           zerolog.Logger
	whitelist        []*net.IPNet
	whitelistIPs     map[string]bool
	autoBlockEnabled bool
}

// NewRateLimiter creates a new rate limiter. client may be nil.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	var c counter = newLocalCounter()
	if client != nil {
		c = &redisCounter{client: client}
	}

	rl := &RateLimiter{
		counter:          c,
		blocker:          NewIPBlocker(client),
		logger:           logger,
		whitelistIPs:     make(map[string]bool),
		autoBlockEnabled: cfg.AutoBlockEnabled,
		limits: map[string]RateLimit{
			"GET /ws":                  {30, time.Minute, ipKey},
			"POST /api/message":        {30, time.Minute, ipKey},
			"POST /api/llm/":           {20, time.Minute, ipKey},
			"POST /api/projects/":      {30, time.Minute, ipKey},
			"DELETE /api/projects/":    {30, time.Minute, ipKey},
			"POST /api/previews":       {30, time.Minute, ipKey},
			"POST /api/project-events": {60, time.Minute, ipKey},
			"GET /api/chats/":          {120, time.Minute, ipKey},
			"POST /api/chats/":         {120, time.Minute, ipKey},
		},
	}

	// Parse whitelist entries
	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			// CIDR notation
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			// Single IP
			rl.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

// SetLimit overrides the limit for an endpoint pattern ("METHOD /prefix").
// A non-positive requests or window removes the limit.
func (rl *RateLimiter) SetLimit(pattern string, requests int, window time.Duration) {
	if requests <= 0 || window <= 0 {
		delete(rl.limits, pattern)
		return
	}
	rl.limits[pattern] = RateLimit{Requests: requests, Window: window, KeyFunc: ipKey}
}

// isWhitelisted checks if an IP is in the whitelist.
func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	// Check exact IP match
	if rl.whitelistIPs[ipStr] {
		return true
	}

	// Check CIDR ranges
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ipKey returns rate limit key based on client IP.
func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	// Fallback to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)

		// Skip rate limiting for whitelisted IPs
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		// Check IP block first
		if rl.blocker.IsBlocked(r.Context(), ip) {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			http.Error(w, `{"error":"temporarily blocked"}`, http.StatusForbidden)
			return
		}

		// Find matching limit
		pattern, limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		allowed, remaining, resetAt := rl.counter.CheckAndIncrement(r.Context(), key, limit.Requests, limit.Window)

		// Set rate limit headers
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())))
			metrics.RateLimitHits.WithLabelValues(pattern).Inc()

			// Track violation
			rl.trackViolation(r.Context(), ip)

			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Str("key", key).
				Msg("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// findLimit finds the matching rate limit for a request.
func (rl *RateLimiter) findLimit(r *http.Request) (string, *RateLimit) {
	key := r.Method + " " + r.URL.Path

	for pattern, limit := range rl.limits {
		if strings.HasPrefix(key, pattern) {
			l := limit // Copy to avoid pointer issues
			return pattern, &l
		}
	}
	return "", nil
}

// trackViolation tracks rate limit violations and auto-blocks repeat offenders.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlockEnabled {
		return
	}

	count := rl.counter.Violation(ctx, ip)
	if count >= 10 {
		rl.blocker.Block(ctx, ip, 24*time.Hour, "repeated rate limit violations")
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

// redisCounter is a sliding window shared by every server instance.
type redisCounter struct {
	client *redis.Client
}

// CheckAndIncrement checks rate limit and increments counter.
// Returns (allowed, remaining, resetAt).
func (c *redisCounter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := time.Now()
	windowStart := now.Add(-window)

	// Use a fixed window key based on current time bucket
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	windowKey := fmt.Sprintf("%s:%d", key, now.UnixMilli()/windowMs)

	pipe := c.client.Pipeline()

	// Remove old entries outside window
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))

	// Count current entries
	countCmd := pipe.ZCard(ctx, windowKey)

	// Add current request with unique member
	pipe.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})

	// Set TTL on key
	pipe.Expire(ctx, windowKey, window*2)

	_, _ = pipe.Exec(ctx)

	count := countCmd.Val()
	remaining := limit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}

	return count < int64(limit), remaining, now.Add(window)
}

func (c *redisCounter) Violation(ctx context.Context, ip string) int64 {
	key := fmt.Sprintf("violations:ip:%s", ip)
	count, _ := c.client.Incr(ctx, key).Result()
	c.client.Expire(ctx, key, time.Hour)
	return count
}

// violationTTL matches the expiry of the Redis violation counter.
const violationTTL = time.Hour

// sweepInterval bounds how often idle entries are evicted.
const sweepInterval = time.Minute

type bucket struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

type violation struct {
	count   int64
	expires time.Time
}

// localCounter keeps one token bucket per key in process memory. A bucket
// idle for a whole window is full again, so it is dropped.
type localCounter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	violations map[string]*violation
	lastSweep  time.Time
	now        func() time.Time
}

func newLocalCounter() *localCounter {
	return &localCounter{
		buckets:    make(map[string]*bucket),
		violations: make(map[string]*violation),
		now:        time.Now,
	}
}

func (c *localCounter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := c.now()
	if limit <= 0 || window <= 0 {
		return true, 0, now
	}

	c.mu.Lock()
	c.sweep(now)
	bucketKey := key + ":" + window.String()
	b, ok := c.buckets[bucketKey]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
			window:  window,
		}
		c.buckets[bucketKey] = b
	}
	b.lastSeen = now
	c.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, now.Add(window)
}

func (c *localCounter) Violation(ctx context.Context, ip string) int64 {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep(now)
	v, ok := c.violations[ip]
	if !ok {
		v = &violation{}
		c.violations[ip] = v
	}
	v.count++
	v.expires = now.Add(violationTTL)
	return v.count
}

// sweep evicts idle buckets and expired violations. Callers hold c.mu.
func (c *localCounter) sweep(now time.Time) {
	if now.Sub(c.lastSweep) < sweepInterval {
		return
	}
	c.lastSweep = now
	for k, b := range c.buckets {
		if now.Sub(b.lastSeen) >= b.window {
			delete(c.buckets, k)
		}
	}
	for ip, v := range c.violations {
		if now.After(v.expires) {
			delete(c.violations, ip)
		}
	}
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client *redis.Client

	mu      sync.Mutex
	blocked map[string]time.Time
}

// NewIPBlocker creates a new IP blocker. A nil client keeps blocks in memory.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client, blocked: make(map[string]time.Time)}
}

// IsBlocked checks if an IP is blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	if b.client == nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		until, ok := b.blocked[ip]
		if ok && time.Now().After(until) {
			delete(b.blocked, ip)
			return false
		}
		return ok
	}
	key := fmt.Sprintf("blocked:ip:%s", ip)
	exists, _ := b.client.Exists(ctx, key).Result()
	return exists > 0
}

// Block blocks an IP for the specified duration.
func (b *IPBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	if b.client == nil {
		b.mu.Lock()
		b.blocked[ip] = time.Now().Add(duration)
		b.mu.Unlock()
		return
	}
	key := fmt.Sprintf("blocked:ip:%s", ip)
	b.client.Set(ctx, key, reason, duration)
}

// Unblock removes an IP block.
func (b *IPBlocker) Unblock(ctx context.Context, ip string) {
	if b.client == nil {
		b.mu.Lock()
		delete(b.blocked, ip)
		b.mu.Unlock()
		return
	}
	key := fmt.Sprintf("blocked:ip:%s", ip)
	b.client.Del(ctx, key)
}

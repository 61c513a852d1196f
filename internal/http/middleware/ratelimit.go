package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/vishnandaman/road-assist/internal/auth"
)

var throttledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ratelimit_throttled_total",
	Help: "Requests rejected by the rate limiter.",
}, []string{"scope"})

// Limit is a token bucket refill rate with a burst capacity.
type Limit struct {
	PerSecond float64
	Burst     float64
}

// RateLimiter throttles requests per caller using a redis token bucket.
// Authenticated callers are keyed by user id, anonymous ones by client
// address.
type RateLimiter struct {
	client *redis.Client
	read   Limit
	write  Limit
	script *redis.Script
}

// NewRateLimiter builds a limiter; a nil client disables limiting.
func NewRateLimiter(client *redis.Client, read, write Limit) *RateLimiter {
	if client == nil {
		return nil
	}
	return &RateLimiter{client: client, read: read, write: write, script: redis.NewScript(tokenBucketLua)}
}

// Middleware enforces the limits. A nil limiter passes everything
// through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, limit := "write", l.write
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			scope, limit = "read", l.read
		}
		if limit.PerSecond <= 0 || limit.Burst <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		allowed, retryAfter, err := l.allow(r.Context(), scope, callerKey(r), limit)
		if err != nil {
			// Availability beats enforcement when redis is down.
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			throttledTotal.WithLabelValues(scope).Inc()
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ctx context.Context, scope, caller string, limit Limit) (bool, time.Duration, error) {
	key := "ratelimit:" + scope + ":" + caller
	result, err := l.script.Run(ctx, l.client, []string{key},
		time.Now().UnixMilli(), limit.PerSecond, limit.Burst, 1).Result()
	if err != nil {
		return false, 0, err
	}
	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, errors.New("unexpected script response")
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return false, 0, errors.New("unexpected script response")
	}
	waitMillis, _ := values[1].(int64)
	return allowed == 1, time.Duration(waitMillis) * time.Millisecond, nil
}

// callerKey prefers the authenticated identity over network address.
func callerKey(r *http.Request) string {
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + id.String()
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		return "addr:" + strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "addr:" + host
	}
	return "addr:" + r.RemoteAddr
}

const tokenBucketLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'timestamp')
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now_ms

local delta = math.max(0, now_ms - last)
tokens = math.min(capacity, tokens + delta * rate / 1000)

local allowed = 0
local wait_ms = 0
if tokens >= requested then
  allowed = 1
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000 / rate)
end

redis.call('HMSET', key, 'tokens', tokens, 'timestamp', now_ms)
redis.call('PEXPIRE', key, math.ceil(capacity / rate * 1000))

return {allowed, wait_ms}
`

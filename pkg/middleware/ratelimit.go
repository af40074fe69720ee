package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quietgrove/gatehouse/pkg/config"
	"github.com/quietgrove/gatehouse/pkg/contextkeys"
	"github.com/quietgrove/gatehouse/pkg/httputil"
	"github.com/quietgrove/gatehouse/pkg/identity"
	"github.com/quietgrove/gatehouse/pkg/observability"
)

// CounterStore is a shared fixed-window counter. Implementations must count
// across all replicas of the service, not per-process.
type CounterStore interface {
	// Incr increments the counter for key, starting the window on first
	// increment. It returns the count after incrementing and the time left
	// in the current window.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
}

// RedisCounterStore counts in Redis so every replica sees the same window.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore creates a Redis-backed counter store
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Incr increments the key and sets the window expiry on first use. INCR and
// TTL go through one pipeline round trip.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("counter store increment failed: %w", err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		// Fresh key (or one that lost its expiry): start the window now.
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("counter store expire failed: %w", err)
		}
		remaining = window
	}

	return incr.Val(), remaining, nil
}

// KeyFunc derives the counter key suffix for a request. An empty return
// skips limiting for that request.
type KeyFunc func(r *http.Request) string

// KeyByIP keys the counter on the proxy-validated client IP. Used for
// unauthenticated endpoints where the IP is all we have.
func KeyByIP(r *http.Request) string {
	if ip := contextkeys.ClientIP(r.Context()); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}

// KeyByUser keys the counter on the authenticated user, falling back to the
// client IP when no principal is present yet.
func KeyByUser(r *http.Request) string {
	if principal, ok := r.Context().Value(contextkeys.PrincipalKey).(*identity.Principal); ok {
		return "user:" + principal.UserID.String()
	}
	return KeyByIP(r)
}

// KeyBySessionCookie keys the counter on a digest of the named session
// cookie. Routes that run before the token pipeline have no principal in
// context, but each browser session carries its own cookie, so users behind
// one corporate NAT still get independent budgets. Only the digest touches
// the store; the cookie value itself never leaves the process. Falls back
// to KeyByUser (and transitively the client IP) when the cookie is absent.
func KeyBySessionCookie(name string) KeyFunc {
	return func(r *http.Request) string {
		if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
			sum := sha256.Sum256([]byte(cookie.Value))
			return "session:" + hex.EncodeToString(sum[:])
		}
		return KeyByUser(r)
	}
}

// RateLimiter enforces per-tier fixed-window limits against a shared
// counter store.
//
// The store failing is treated as the limit being exceeded for everyone:
// limits exist to protect the provider quota and the login surface, and an
// unprotected window during an outage is exactly when abuse is cheapest.
// Requests are rejected with 503 until the store recovers.
type RateLimiter struct {
	store       CounterStore
	environment string
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewRateLimiter creates a rate limiter namespaced to one environment
func NewRateLimiter(store CounterStore, environment string, logger *observability.Logger, metrics *observability.Metrics) *RateLimiter {
	return &RateLimiter{
		store:       store,
		environment: environment,
		logger:      logger,
		metrics:     metrics,
	}
}

// Limit wraps a handler with a fixed-window limit for one tier
func (rl *RateLimiter) Limit(tier string, limit config.Limit, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			suffix := keyFn(r)
			if suffix == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Environment in the key keeps staging traffic from eating
			// production budgets on a shared Redis.
			key := fmt.Sprintf("ratelimit:%s:%s:%s", rl.environment, tier, suffix)

			count, remaining, err := rl.store.Incr(r.Context(), key, limit.Window)
			if err != nil {
				if rl.metrics != nil {
					rl.metrics.CounterStoreErrors.Inc()
				}
				rl.logger.ForRequest(r.Context()).WithError(err).
					WithField("tier", tier).
					Error("counter store unavailable, failing closed")
				httputil.WriteServiceUnavailable(w, "rate limiting unavailable")
				return
			}

			left := limit.Requests - int(count)
			if left < 0 {
				left = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(left))

			if count > int64(limit.Requests) {
				retryAfter := int(remaining.Round(time.Second).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				if rl.metrics != nil {
					rl.metrics.RateLimitExceededTotal.WithLabelValues(tier).Inc()
				}
				rl.logger.SecurityEvent(r.Context(), "rate_limit_exceeded", r.URL.Path, r.Method, tier)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteTooManyRequests(w, "rate limit exceeded", retryAfter, limit.String())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

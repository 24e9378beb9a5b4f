package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"dynamic-graphql/internal/logging"
)

// DefaultRateLimitExempt lists the health endpoints that bypass the limiter.
var DefaultRateLimitExempt = []string{"/health", "/metrics"}

// RateLimitConfig configures a process-wide token bucket.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
	// Exempt paths never consume a token. Nil means DefaultRateLimitExempt.
	Exempt []string
}

// RateLimitMiddleware admits at most Burst requests at once, refilled at RPS.
// Rejected requests get 429, a Retry-After computed from the refill rate and
// the failure envelope.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	exempt := cfg.Exempt
	if exempt == nil {
		exempt = DefaultRateLimitExempt
	}
	bucket := newTokenBucket(cfg.RPS, cfg.Burst, time.Now)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(exempt, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			wait, ok := bucket.take()
			if !ok {
				retry := retryAfterSeconds(wait)
				logging.FromContext(r.Context()).Debug("request rate limited",
					slog.String("path", r.URL.Path),
					slog.Int("retry_after_s", retry),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tokenBucket is a lazily refilled bucket. A non-positive rate or burst
// admits everything.
type tokenBucket struct {
	mu       sync.Mutex
	clock    func() time.Time
	perSec   float64
	capacity float64
	level    float64
	updated  time.Time
}

func newTokenBucket(rps float64, burst int, clock func() time.Time) *tokenBucket {
	b := &tokenBucket{clock: clock, updated: clock()}
	if rps > 0 && burst > 0 {
		b.perSec, b.capacity, b.level = rps, float64(burst), float64(burst)
	}
	return b
}

// take spends one token, or reports how long until one is available.
func (b *tokenBucket) take() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.perSec <= 0 {
		return 0, true
	}
	b.refill()
	if b.level >= 1 {
		b.level--
		return 0, true
	}
	deficit := 1 - b.level
	return time.Duration(deficit / b.perSec * float64(time.Second)), false
}

func (b *tokenBucket) refill() {
	now := b.clock()
	elapsed := now.Sub(b.updated)
	if elapsed <= 0 {
		return
	}
	b.level = math.Min(b.capacity, b.level+elapsed.Seconds()*b.perSec)
	b.updated = now
}

// retryAfterSeconds rounds wait up to whole seconds, at least one.
func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

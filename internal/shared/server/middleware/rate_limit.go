package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"meal-backend/internal/shared/server/respond"
)

const (
	defaultRateLimitGroup = "DEFAULT"
	// sweepThreshold is the bucket count above which idle, refilled buckets are dropped.
	sweepThreshold = 10000
)

type RateLimitRule struct {
	Rate  float64
	Burst int
}

// RateLimitConfig configures the per-client token bucket. Clients are keyed by IP since
// the analyze route carries no authenticated identity.
type RateLimitConfig struct {
	Rules        map[string]RateLimitRule
	DefaultGroup string
	GroupFor     func(*gin.Context) string
	Limiter      *RateLimiter
	// Reject writes the response for a limited request. Nil writes a 429 error.
	Reject func(c *gin.Context, group string, retryAfter time.Duration)
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
}

type rateBucket struct {
	limiter *rate.Limiter
	rule    RateLimitRule
}

func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		buckets: make(map[string]*rateBucket),
		now:     now,
	}
}

func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(nil)
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = defaultRateLimitGroup
	}
	if cfg.Reject == nil {
		cfg.Reject = RejectTooManyRequests
	}
	return func(c *gin.Context) {
		group := cfg.DefaultGroup
		if cfg.GroupFor != nil {
			if g := strings.TrimSpace(cfg.GroupFor(c)); g != "" {
				group = g
			}
		}
		rule, ok := cfg.Rules[group]
		if !ok {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.ClientIP()) + "|" + group
		allowed, retryAfter := cfg.Limiter.Allow(key, rule)
		if allowed {
			c.Next()
			return
		}
		cfg.Reject(c, group, retryAfter)
		c.Abort()
	}
}

// RejectTooManyRequests writes a 429 with Retry-After.
func RejectTooManyRequests(c *gin.Context, _ string, retryAfter time.Duration) {
	c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds(retryAfter)))
	respond.Error(c, http.StatusTooManyRequests, respond.CodeRateLimit, "too many requests", gin.H{
		"retryAfterMs": retryAfterMillis(retryAfter),
	})
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(float64(retryAfterMillis(d)) / 1000.0))
	if secs <= 0 {
		secs = 1
	}
	return secs
}

func retryAfterMillis(d time.Duration) int {
	ms := int(d / time.Millisecond)
	if ms <= 0 {
		ms = 1000
	}
	return ms
}

// Allow takes a token for key. When none is left it reports how long until one is.
func (l *RateLimiter) Allow(key string, rule RateLimitRule) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	if rule.Rate <= 0 || rule.Burst <= 0 {
		return true, 0
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[key]
	if !ok || bucket.rule != rule {
		if !ok && len(l.buckets) >= sweepThreshold {
			l.sweep(now)
		}
		bucket = &rateBucket{limiter: rate.NewLimiter(rate.Limit(rule.Rate), rule.Burst), rule: rule}
		l.buckets[key] = bucket
	}
	if bucket.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := bucket.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// Len returns the number of tracked buckets.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops buckets that would be full by now. Callers hold mu.
func (l *RateLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if b.limiter.TokensAt(now) >= float64(b.rule.Burst) {
			delete(l.buckets, key)
		}
	}
}

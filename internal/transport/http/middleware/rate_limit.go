package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	rateLimitProblemType  = "https://admin.learnonline.cc/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// RateLimitStore defines the persistence operations required by the middleware.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter evaluates sliding-window rules against a shared attempt store.
// A store failure never blocks the request; the limiter fails open and logs.
type RateLimiter struct {
	store  RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

// decision captures the outcome of one rule evaluation. Remaining and reset
// feed the X-RateLimit-* response headers.
type decision struct {
	allowed   bool
	limit     int
	remaining int
	reset     time.Time
	retry     time.Duration
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance"`
	RetryAfter int            `json:"retry_after"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules. With
// multiple rules the tightest decision supplies the response headers, and any
// single exhausted rule blocks the request.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if len(active) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var tightest *decision

		for _, rule := range active {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			d, err := rl.evaluate(c.Request.Context(), rule, identifier, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.String("identifier", identifier),
					zap.Error(err),
				)
				continue
			}

			if tighterThan(d, tightest) {
				copied := d
				tightest = &copied
			}

			if !d.allowed {
				writeRateLimitHeaders(c, d)
				rl.reject(c, d)
				return
			}
		}

		if tightest != nil {
			writeRateLimitHeaders(c, *tightest)
		}

		c.Next()
	}
}

// evaluate trims the window, counts live attempts, and records the current one
// unless the rule is already exhausted. A blocked request is never recorded,
// so waiting out the window always clears the limit.
func (rl *RateLimiter) evaluate(ctx context.Context, rule RateLimitRule, identifier string, now time.Time) (decision, error) {
	key := fmt.Sprintf("%s:%s", rule.Name, identifier)

	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return decision{}, err
	}

	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return decision{}, err
	}

	oldest, hasAttempts, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return decision{}, err
	}

	reset := now.Add(rule.Window)
	if hasAttempts {
		reset = oldest.Add(rule.Window)
	}

	retry := reset.Sub(now)
	if retry < 0 {
		retry = 0
	}

	if count >= rule.Limit {
		return decision{
			limit: rule.Limit,
			reset: reset,
			retry: retry,
		}, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return decision{}, err
	}

	remaining := rule.Limit - count - 1
	if remaining < 0 {
		remaining = 0
	}

	if !hasAttempts {
		reset = now.Add(rule.Window)
	}

	return decision{
		allowed:   true,
		limit:     rule.Limit,
		remaining: remaining,
		reset:     reset,
		retry:     retry,
	}, nil
}

// tighterThan reports whether candidate should displace current as the
// header-producing decision. A block always wins; among allowed decisions the
// one closest to exhaustion wins.
func tighterThan(candidate decision, current *decision) bool {
	if current == nil {
		return true
	}
	if !candidate.allowed && current.allowed {
		return true
	}
	if candidate.allowed != current.allowed {
		return false
	}
	if candidate.remaining != current.remaining {
		return candidate.remaining < current.remaining
	}
	return candidate.reset.Before(current.reset)
}

func writeRateLimitHeaders(c *gin.Context, d decision) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(d.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))

	if !d.allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(d)))
	}
}

func (rl *RateLimiter) reject(c *gin.Context, d decision) {
	seconds := retrySeconds(d)

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", seconds),
		Instance:   instance,
		RetryAfter: seconds,
		TraceID:    GetTraceID(c),
	})
}

func retrySeconds(d decision) int {
	seconds := int(math.Ceil(d.retry.Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}

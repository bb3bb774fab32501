package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

// memoryAttemptStore keeps attempt timestamps per key so tests can drive the
// limiter through real request sequences. trimErr simulates an unavailable
// backend.
type memoryAttemptStore struct {
	attempts map[string][]time.Time
	trimErr  error
}

func newMemoryAttemptStore() *memoryAttemptStore {
	return &memoryAttemptStore{attempts: make(map[string][]time.Time)}
}

func (s *memoryAttemptStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	if s.trimErr != nil {
		return s.trimErr
	}
	cutoff := reference.Add(-window)
	kept := s.attempts[identifier][:0]
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	s.attempts[identifier] = kept
	return nil
}

func (s *memoryAttemptStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	cutoff := reference.Add(-window)
	count := 0
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *memoryAttemptStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.attempts[identifier] = append(s.attempts[identifier], at)
	return nil
}

func (s *memoryAttemptStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	cutoff := reference.Add(-window)
	var oldest time.Time
	found := false
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) && (!found || at.Before(oldest)) {
			oldest = at
			found = true
		}
	}
	return oldest, found, nil
}

func loginRule(limit int, window time.Duration) RateLimitRule {
	return RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      limit,
		Window:     window,
		Identifier: ClientIPIdentifier(),
	}
}

func newLoginRouter(limiter *RateLimiter, rules ...RateLimitRule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/v1/auth/login", limiter.RateLimit(rules...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func postLogin(router *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = ip + ":51000"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestLoginRateLimitHeadersCountDown(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	store := newMemoryAttemptStore()
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLoginRouter(limiter, loginRule(5, time.Minute))

	first := postLogin(router, "203.0.113.7")
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	if got := first.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected limit header 5, got %q", got)
	}
	if got := first.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("expected remaining header 4, got %q", got)
	}

	second := postLogin(router, "203.0.113.7")
	if got := second.Header().Get("X-RateLimit-Remaining"); got != "3" {
		t.Fatalf("expected remaining header 3, got %q", got)
	}
	expectedReset := now.Add(time.Minute).Unix()
	if got := second.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(expectedReset, 10) {
		t.Fatalf("expected reset header %d, got %q", expectedReset, got)
	}
	if got := second.Header().Get("Retry-After"); got != "" {
		t.Fatalf("expected no retry-after header, got %q", got)
	}
}

func TestLoginRateLimitBlocksSixthAttempt(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	store := newMemoryAttemptStore()
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLoginRouter(limiter, loginRule(5, time.Minute))

	for i := 0; i < 5; i++ {
		if rr := postLogin(router, "203.0.113.7"); rr.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	blocked := postLogin(router, "203.0.113.7")
	if blocked.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", blocked.Code)
	}
	if got := blocked.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected retry-after 60, got %q", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(blocked.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected problem status %d", problem.Status)
	}
	if problem.RetryAfter != 60 {
		t.Fatalf("expected problem retry_after 60, got %d", problem.RetryAfter)
	}
	if problem.Instance != "/api/v1/auth/login" {
		t.Fatalf("unexpected problem instance %q", problem.Instance)
	}

	// The rejected request must not consume window capacity.
	if got := len(store.attempts["auth_login_ip:203.0.113.7"]); got != 5 {
		t.Fatalf("expected 5 recorded attempts, got %d", got)
	}

	// A different client is unaffected.
	if rr := postLogin(router, "198.51.100.9"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for other client, got %d", rr.Code)
	}
}

func TestRateLimitRulesScopeByName(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	store := newMemoryAttemptStore()
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/v1/auth/login", limiter.RateLimit(loginRule(1, time.Minute)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.POST("/api/v1/auth/password/forgot", limiter.RateLimit(RateLimitRule{
		Name:       "password_reset_ip",
		Limit:      3,
		Window:     time.Hour,
		Identifier: ClientIPIdentifier(),
	}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	if rr := postLogin(router, "203.0.113.7"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := postLogin(router, "203.0.113.7"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected exhausted login rule to block, got %d", rr.Code)
	}

	// The reset endpoint keeps its own window for the same client.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/password/forgot", nil)
	req.RemoteAddr = "203.0.113.7:51000"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected reset endpoint to allow, got %d", rr.Code)
	}
}

func TestRateLimitTightestRuleSuppliesHeaders(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	store := newMemoryAttemptStore()
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })

	burst := RateLimitRule{Name: "login_burst", Limit: 3, Window: time.Minute, Identifier: ClientIPIdentifier()}
	sustained := RateLimitRule{Name: "login_sustained", Limit: 10, Window: time.Hour, Identifier: ClientIPIdentifier()}
	router := newLoginRouter(limiter, burst, sustained)

	rr := postLogin(router, "203.0.113.7")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Fatalf("expected headers from the tighter rule, limit %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("expected remaining 2 from the tighter rule, got %q", got)
	}
}

func TestRateLimiterFailsOpenWhenStoreUnavailable(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	store := newMemoryAttemptStore()
	store.trimErr = errors.New("redis down")
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLoginRouter(limiter, loginRule(1, time.Minute))

	for i := 0; i < 3; i++ {
		if rr := postLogin(router, "203.0.113.7"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 when failing open, got %d", i+1, rr.Code)
		}
	}
	if got := len(store.attempts["auth_login_ip:203.0.113.7"]); got != 0 {
		t.Fatalf("expected no recorded attempts on failure, got %d", got)
	}
}

func TestRateLimitSkipsWhenIdentifierMissing(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	store := newMemoryAttemptStore()
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLoginRouter(limiter, RateLimitRule{
		Name:   "auth_login_ip",
		Limit:  1,
		Window: time.Minute,
		Identifier: func(*gin.Context) (string, bool) {
			return "", false
		},
	})

	for i := 0; i < 3; i++ {
		if rr := postLogin(router, "203.0.113.7"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	if len(store.attempts) != 0 {
		t.Fatalf("expected untouched store, got %v", store.attempts)
	}
}

package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestRateLimitRepository_RecordAndCount(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, "rate-limit", 2*time.Minute)

	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		if err := repo.RecordAttempt(ctx, "203.0.113.10", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, "203.0.113.10", time.Minute, base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts, got %d", count)
	}

	remaining := server.TTL("rate-limit:203.0.113.10")
	if remaining <= 0 || remaining > 2*time.Minute {
		t.Fatalf("expected ttl within (0, 2m], got %v", remaining)
	}
}

func TestRateLimitRepository_SameInstantAttemptsAllCount(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, "rate-limit", 0)

	ctx := context.Background()
	at := time.Now()

	// Burst arrivals share a timestamp but must not collapse into one entry.
	for i := 0; i < 3; i++ {
		if err := repo.RecordAttempt(ctx, "203.0.113.20", at); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, "203.0.113.20", time.Minute, at)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts, got %d", count)
	}
}

func TestRateLimitRepository_WindowExcludesOldAttempts(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, "rate-limit", 0)

	ctx := context.Background()
	base := time.Now()

	if err := repo.RecordAttempt(ctx, "user-1", base.Add(-2*time.Minute)); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}
	if err := repo.RecordAttempt(ctx, "user-1", base); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}

	count, err := repo.CountAttempts(ctx, "user-1", time.Minute, base)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 attempt inside window, got %d", count)
	}
}

func TestRateLimitRepository_TrimWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, "rate-limit", 0)

	ctx := context.Background()
	base := time.Now()

	if err := repo.RecordAttempt(ctx, "user-2", base.Add(-2*time.Hour)); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}
	if err := repo.RecordAttempt(ctx, "user-2", base); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}

	if err := repo.TrimWindow(ctx, "user-2", time.Hour, base); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}

	count, err := repo.CountAttempts(ctx, "user-2", 24*time.Hour, base)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected trimmed set to hold 1 attempt, got %d", count)
	}
}

func TestRateLimitRepository_OldestAttempt(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, "rate-limit", 0)

	ctx := context.Background()
	base := time.Now()
	oldest := base.Add(-30 * time.Second)

	if err := repo.RecordAttempt(ctx, "user-3", oldest); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}
	if err := repo.RecordAttempt(ctx, "user-3", base); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}

	got, found, err := repo.OldestAttempt(ctx, "user-3", time.Minute, base)
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if !found {
		t.Fatalf("expected an attempt inside the window")
	}
	if !got.Equal(time.Unix(0, oldest.UnixNano())) {
		t.Fatalf("expected oldest %v, got %v", oldest, got)
	}

	_, found, err = repo.OldestAttempt(ctx, "user-unknown", time.Minute, base)
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if found {
		t.Fatalf("expected no attempt for unknown identifier")
	}
}

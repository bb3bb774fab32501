package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/learnonline/admin-iam/internal/core/port"
)

// RateLimitRepository keeps a per-identifier attempt log in a Redis sorted
// set. Scores carry millisecond precision for range queries; the member
// itself encodes the exact nanosecond timestamp plus a nonce so attempts
// landing in the same instant stay distinct entries.
type RateLimitRepository struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
	nonce     atomic.Uint64
}

// NewRateLimitRepository constructs a repository on the provided client.
// retention bounds how long an idle attempt log survives; zero disables the
// key expiry.
func NewRateLimitRepository(client *redis.Client, keyPrefix string, retention time.Duration) *RateLimitRepository {
	return &RateLimitRepository{client: client, keyPrefix: keyPrefix, retention: retention}
}

// RecordAttempt appends the attempt and refreshes the key expiry in one
// round trip.
func (r *RateLimitRepository) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	key := r.key(identifier)
	entry := redis.Z{
		Score:  scoreAt(at),
		Member: fmt.Sprintf("%d-%d", at.UnixNano(), r.nonce.Add(1)),
	}

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, entry)
	if r.retention > 0 {
		pipe.Expire(ctx, key, r.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	return nil
}

// CountAttempts returns how many attempts fall inside the window ending at
// the reference time.
func (r *RateLimitRepository) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	count, err := r.client.ZCount(ctx, r.key(identifier),
		formatScore(reference.Add(-window)),
		formatScore(reference),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}

	return int(count), nil
}

// TrimWindow drops attempts that aged out of the window ending at the
// reference time.
func (r *RateLimitRepository) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	err := r.client.ZRemRangeByScore(ctx, r.key(identifier),
		"-inf",
		"("+formatScore(reference.Add(-window)),
	).Err()
	if err != nil {
		return fmt.Errorf("trim window: %w", err)
	}

	return nil
}

// OldestAttempt returns the earliest attempt still inside the window, with
// nanosecond precision recovered from the stored member.
func (r *RateLimitRepository) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}

	members, err := r.client.ZRangeByScore(ctx, r.key(identifier), &redis.ZRangeBy{
		Min:   formatScore(reference.Add(-window)),
		Max:   formatScore(reference),
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("oldest attempt: %w", err)
	}
	if len(members) == 0 {
		return time.Time{}, false, nil
	}

	raw, _, _ := strings.Cut(members[0], "-")
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse attempt member %q: %w", members[0], err)
	}

	return time.Unix(0, ns), true, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	if r.keyPrefix == "" {
		return identifier
	}
	return r.keyPrefix + ":" + identifier
}

// scoreAt truncates to milliseconds; a millisecond epoch fits a float64
// score exactly where a nanosecond does not.
func scoreAt(at time.Time) float64 {
	return float64(at.UnixMilli())
}

func formatScore(at time.Time) string {
	return strconv.FormatInt(at.UnixMilli(), 10)
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)

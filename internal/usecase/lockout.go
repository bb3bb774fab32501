package usecase

import (
	"time"

	"github.com/learnonline/admin-iam/internal/core/domain"
)

const (
	defaultLockoutMaxAttempts  = 5
	defaultLockoutLockDuration = 15 * time.Minute
)

// LockoutPolicy decides when repeated login failures freeze an account.
// It is a pure decision type; the atomic counter writes live in the
// account repository.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// NewLockoutPolicy returns a policy with the provided parameters, falling
// back to the platform defaults for non-positive values.
func NewLockoutPolicy(maxAttempts int, lockDuration time.Duration) LockoutPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultLockoutMaxAttempts
	}
	if lockDuration <= 0 {
		lockDuration = defaultLockoutLockDuration
	}
	return LockoutPolicy{MaxAttempts: maxAttempts, LockDuration: lockDuration}
}

// Remaining returns how long the account stays locked from now. Zero means
// the account is not locked, including when a previous lock has lapsed.
func (p LockoutPolicy) Remaining(account *domain.Account, now time.Time) time.Duration {
	if account == nil || account.LockedUntil == nil {
		return 0
	}
	if remaining := account.LockedUntil.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// LockUntil computes the lock expiry for a lock starting at now.
func (p LockoutPolicy) LockUntil(now time.Time) time.Time {
	return now.Add(p.LockDuration)
}

// ShouldLock reports whether the given failure count triggers a lockout.
func (p LockoutPolicy) ShouldLock(failedAttempts int) bool {
	return failedAttempts >= p.MaxAttempts
}

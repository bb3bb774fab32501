package usecase

import (
	"testing"
	"time"

	"github.com/learnonline/admin-iam/internal/core/domain"
)

func TestNewLockoutPolicyDefaults(t *testing.T) {
	policy := NewLockoutPolicy(0, 0)
	if policy.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts 5, got %d", policy.MaxAttempts)
	}
	if policy.LockDuration != 15*time.Minute {
		t.Fatalf("expected default lock duration 15m, got %v", policy.LockDuration)
	}

	policy = NewLockoutPolicy(3, time.Minute)
	if policy.MaxAttempts != 3 || policy.LockDuration != time.Minute {
		t.Fatalf("expected configured values, got %+v", policy)
	}
}

func TestLockoutPolicyRemaining(t *testing.T) {
	policy := NewLockoutPolicy(5, 15*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := policy.Remaining(nil, now); got != 0 {
		t.Fatalf("nil account: expected 0, got %v", got)
	}
	if got := policy.Remaining(&domain.Account{}, now); got != 0 {
		t.Fatalf("unlocked account: expected 0, got %v", got)
	}

	active := now.Add(10 * time.Minute)
	if got := policy.Remaining(&domain.Account{LockedUntil: &active}, now); got != 10*time.Minute {
		t.Fatalf("active lock: expected 10m, got %v", got)
	}

	lapsed := now.Add(-time.Second)
	if got := policy.Remaining(&domain.Account{LockedUntil: &lapsed}, now); got != 0 {
		t.Fatalf("lapsed lock: expected 0, got %v", got)
	}
}

func TestLockoutPolicyShouldLock(t *testing.T) {
	policy := NewLockoutPolicy(5, 15*time.Minute)

	if policy.ShouldLock(4) {
		t.Fatal("4 failures must not lock")
	}
	if !policy.ShouldLock(5) {
		t.Fatal("5 failures must lock")
	}
	if !policy.ShouldLock(6) {
		t.Fatal("counts past the threshold stay locked")
	}
}

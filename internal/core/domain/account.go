package domain

import "time"

// Account mirrors the persisted representation in the accounts table.
// Email is stored lowercase; lookups are case-insensitive.
type Account struct {
	ID                     string
	Email                  string
	Name                   string
	PasswordHash           string
	PasswordAlgo           string
	Role                   Role
	TwoFactorEnabled       bool
	TwoFactorSecret        *string
	RecoveryCodeHashes     []string
	FailedLoginAttempts    int
	LastFailedLogin        *time.Time
	LockedUntil            *time.Time
	LastLogin              *time.Time
	LastLoginIP            *string
	PasswordResetTokenHash *string
	PasswordResetExpires   *time.Time
	DemoInstanceID         *string
	CreatedAt              time.Time
}

// IsLocked reports whether the account is inside an active lockout window.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// IsDemo reports whether the account belongs to a sandboxed demo instance.
func (a *Account) IsDemo() bool {
	return a.DemoInstanceID != nil && *a.DemoInstanceID != ""
}

// Sanitized returns a copy safe to hand to transport layers: credential
// material and second-factor secrets are stripped.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	a.TwoFactorSecret = nil
	a.RecoveryCodeHashes = nil
	a.PasswordResetTokenHash = nil
	return a
}

// PasswordHistoryEntry tracks historical password hashes for reuse prevention.
type PasswordHistoryEntry struct {
	ID           string
	AccountID    string
	PasswordHash string
	SetAt        time.Time
}

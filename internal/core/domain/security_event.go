package domain

import "time"

// SecurityEventKind enumerates the auditable authentication decisions.
type SecurityEventKind string

const (
	EventSuccessLogin           SecurityEventKind = "SUCCESS_LOGIN"
	EventFailedLogin            SecurityEventKind = "FAILED_LOGIN"
	EventLockoutTriggered       SecurityEventKind = "LOCKOUT_TRIGGERED"
	EventFailedTwoFactor        SecurityEventKind = "FAILED_2FA"
	EventPasswordResetRequested SecurityEventKind = "PASSWORD_RESET_REQUESTED"
	EventPasswordChange         SecurityEventKind = "PASSWORD_CHANGE"
	EventRoleChanged            SecurityEventKind = "ROLE_CHANGED"
	EventTwoFactorEnabled       SecurityEventKind = "2FA_ENABLED"
	EventAccountRegistered      SecurityEventKind = "ACCOUNT_REGISTERED"
)

// SecurityEvent is an immutable audit record. The core only ever appends
// these; retention and deletion are external concerns.
type SecurityEvent struct {
	ID        string
	Kind      SecurityEventKind
	AccountID *string
	IP        *string
	UserAgent *string
	Metadata  map[string]any
	CreatedAt time.Time
}

package domain

import "time"

// AccountRegisteredEvent represents the payload for admin.account.registered messages.
type AccountRegisteredEvent struct {
	EventID      string
	AccountID    string
	Email        string
	Name         string
	Role         Role
	RegisteredAt time.Time
	Metadata     map[string]any
}

// PasswordChangedEvent represents the payload for admin.account.password.changed messages.
type PasswordChangedEvent struct {
	EventID   string
	AccountID string
	ChangedAt time.Time
	ChangedBy string
	Metadata  map[string]any
}

// PasswordResetRequestedEvent represents the payload for admin.account.password.reset_requested messages.
type PasswordResetRequestedEvent struct {
	EventID           string
	AccountID         string
	RequestID         string
	RequestedAt       time.Time
	MaskedDestination string
	ExpiresAt         time.Time
	IPAddress         *string
	Metadata          map[string]any
}

// AccountLockedEvent represents the payload for admin.account.locked messages.
type AccountLockedEvent struct {
	EventID        string
	AccountID      string
	FailedAttempts int
	LockedUntil    time.Time
	LockedAt       time.Time
	Metadata       map[string]any
}

// RoleChangedEvent represents the payload for admin.account.role.changed messages.
// Downstream consumers use it to notify the subject that their own account
// was modified.
type RoleChangedEvent struct {
	EventID      string
	AccountID    string
	PreviousRole Role
	NewRole      Role
	ChangedBy    string
	ChangedAt    time.Time
	Metadata     map[string]any
}

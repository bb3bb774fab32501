package port

import (
	"context"

	"github.com/learnonline/admin-iam/internal/core/domain"
)

// EventPublisher fans domain events out to the message bus. Publication is
// fire-and-forget from the core's perspective: callers log failures and
// proceed.
type EventPublisher interface {
	PublishAccountRegistered(ctx context.Context, event domain.AccountRegisteredEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
	PublishRoleChanged(ctx context.Context, event domain.RoleChangedEvent) error
}

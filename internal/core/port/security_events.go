package port

import (
	"context"

	"github.com/learnonline/admin-iam/internal/core/domain"
)

// SecurityEventRepository appends audit records. There is deliberately no
// update or delete surface.
type SecurityEventRepository interface {
	Append(ctx context.Context, event domain.SecurityEvent) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.SecurityEvent, error)
}

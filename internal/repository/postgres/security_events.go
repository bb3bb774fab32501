package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/core/port"
)

// SecurityEventRepository implements port.SecurityEventRepository using
// PostgreSQL. The table is append-only; no update or delete paths exist.
type SecurityEventRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSecurityEventRepository wires a PostgreSQL-backed security event log.
func NewSecurityEventRepository(exec pgExecutor) *SecurityEventRepository {
	return &SecurityEventRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append inserts one audit record.
func (r *SecurityEventRepository) Append(ctx context.Context, event domain.SecurityEvent) error {
	stmt, args, err := r.builder.Insert("admin.security_events").
		Columns("id", "kind", "account_id", "ip", "user_agent", "metadata", "created_at").
		Values(
			event.ID,
			event.Kind,
			event.AccountID,
			event.IP,
			event.UserAgent,
			event.Metadata,
			event.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert security event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}

	return nil
}

// ListByAccount returns the most recent events for one account.
func (r *SecurityEventRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.SecurityEvent, error) {
	builder := r.builder.Select("id", "kind", "account_id", "ip", "user_agent", "metadata", "created_at").
		From("admin.security_events").
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("created_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	stmt, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list security events sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.SecurityEvent, 0)
	for rows.Next() {
		var event domain.SecurityEvent
		if err := rows.Scan(
			&event.ID,
			&event.Kind,
			&event.AccountID,
			&event.IP,
			&event.UserAgent,
			&event.Metadata,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}

	return events, nil
}

var _ port.SecurityEventRepository = (*SecurityEventRepository)(nil)

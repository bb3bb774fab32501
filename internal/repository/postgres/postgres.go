package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txBeginner is satisfied by pool-like executors that can open transactions.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Accounts       *AccountRepository
	SecurityEvents *SecurityEventRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Accounts:       NewAccountRepository(pool),
		SecurityEvents: NewSecurityEventRepository(pool),
	}
}

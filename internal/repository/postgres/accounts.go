package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/core/port"
	"github.com/learnonline/admin-iam/internal/repository"
)

const uniqueViolationCode = "23505"

var accountColumns = []string{
	"id",
	"email",
	"name",
	"password_hash",
	"password_algo",
	"role",
	"two_factor_enabled",
	"two_factor_secret",
	"recovery_code_hashes",
	"failed_login_attempts",
	"last_failed_login",
	"locked_until",
	"last_login",
	"last_login_ip",
	"password_reset_token_hash",
	"password_reset_expires",
	"demo_instance_id",
	"created_at",
}

// AccountRepository implements port.AccountRepository using PostgreSQL.
// Counter and recovery-code mutations run as single conditional statements
// so concurrent requests against one account serialize at the row level.
type AccountRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository wires a PostgreSQL-backed account repository.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	repo := &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	if err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Name,
		&account.PasswordHash,
		&account.PasswordAlgo,
		&account.Role,
		&account.TwoFactorEnabled,
		&account.TwoFactorSecret,
		&account.RecoveryCodeHashes,
		&account.FailedLoginAttempts,
		&account.LastFailedLogin,
		&account.LockedUntil,
		&account.LastLogin,
		&account.LastLoginIP,
		&account.PasswordResetTokenHash,
		&account.PasswordResetExpires,
		&account.DemoInstanceID,
		&account.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &account, nil
}

// Create inserts a new account row.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	query := r.builder.Insert("admin.accounts").
		Columns(
			"id",
			"email",
			"name",
			"password_hash",
			"password_algo",
			"role",
			"two_factor_enabled",
			"recovery_code_hashes",
			"demo_instance_id",
			"created_at",
		).
		Values(
			account.ID,
			strings.ToLower(account.Email),
			account.Name,
			account.PasswordHash,
			account.PasswordAlgo,
			account.Role,
			account.TwoFactorEnabled,
			account.RecoveryCodeHashes,
			account.DemoInstanceID,
			account.CreatedAt,
		)

	stmt, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From("admin.accounts").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	return scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByEmail retrieves an account by email, matching case-insensitively.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From("admin.accounts").
		Where(squirrel.Eq{"email": strings.ToLower(strings.TrimSpace(email))}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by email sql: %w", err)
	}

	return scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

func applyAccountFilter(query squirrel.SelectBuilder, filter port.AccountFilter) squirrel.SelectBuilder {
	if filter.Role != "" {
		query = query.Where(squirrel.Eq{"role": filter.Role})
	}

	if len(filter.ExcludeRoles) > 0 {
		query = query.Where(squirrel.NotEq{"role": filter.ExcludeRoles})
	}

	if filter.Search != "" {
		pattern := "%" + strings.TrimSpace(filter.Search) + "%"
		query = query.Where(squirrel.Or{
			squirrel.ILike{"email": pattern},
			squirrel.ILike{"name": pattern},
		})
	}

	return query
}

// List returns accounts with optional filtering and pagination.
func (r *AccountRepository) List(ctx context.Context, filter port.AccountFilter) ([]domain.Account, error) {
	query := applyAccountFilter(
		r.builder.Select(accountColumns...).
			From("admin.accounts").
			OrderBy("created_at DESC"),
		filter,
	)

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list accounts sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

// Count returns the total number of accounts matching the filter.
func (r *AccountRepository) Count(ctx context.Context, filter port.AccountFilter) (int, error) {
	query := applyAccountFilter(
		r.builder.Select("COUNT(*)").From("admin.accounts"),
		filter,
	)

	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count accounts sql: %w", err)
	}

	var count int64
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("scan accounts count: %w", err)
	}

	return int(count), nil
}

// RecordLoginFailure increments the failure counter and stamps the lockout
// expiry once the counter reaches the threshold. The CASE expression keeps
// increment and lock decision in one statement, so two concurrent failures
// cannot both observe the pre-increment count.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id string, at time.Time, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	stmt := `
		UPDATE admin.accounts
		   SET failed_login_attempts = failed_login_attempts + 1,
		       last_failed_login = $2,
		       locked_until = CASE
		           WHEN failed_login_attempts + 1 >= $3 THEN $4
		           ELSE locked_until
		       END
		 WHERE id = $1
		RETURNING failed_login_attempts, locked_until
	`

	var (
		attempts    int
		lockedUntil *time.Time
	)
	if err := r.exec.QueryRow(ctx, stmt, id, at, threshold, lockUntil).Scan(&attempts, &lockedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, repository.ErrNotFound
		}
		return 0, nil, fmt.Errorf("record login failure: %w", err)
	}

	return attempts, lockedUntil, nil
}

// RecordLoginSuccess zeroes the failure counter, clears the lockout, and
// stamps the login time and source address.
func (r *AccountRepository) RecordLoginSuccess(ctx context.Context, id string, at time.Time, ip *string) error {
	stmt, args, err := r.builder.Update("admin.accounts").
		Set("failed_login_attempts", 0).
		Set("last_failed_login", nil).
		Set("locked_until", nil).
		Set("last_login", at).
		Set("last_login_ip", ip).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record login success sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ConsumeRecoveryCode removes one recovery-code hash. The ANY guard in the
// WHERE clause makes consumption single-use under concurrency: the second
// request matching the same hash updates zero rows.
func (r *AccountRepository) ConsumeRecoveryCode(ctx context.Context, id string, codeHash string) error {
	stmt := `
		UPDATE admin.accounts
		   SET recovery_code_hashes = array_remove(recovery_code_hashes, $2)
		 WHERE id = $1
		   AND $2 = ANY(recovery_code_hashes)
	`

	ct, err := r.exec.Exec(ctx, stmt, id, codeHash)
	if err != nil {
		return fmt.Errorf("consume recovery code: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// SetTwoFactorSecret stores a pending TOTP secret and the recovery-code
// hashes generated alongside it. The account stays two_factor_enabled=false
// until activation confirms a valid code.
func (r *AccountRepository) SetTwoFactorSecret(ctx context.Context, id string, secret string, recoveryHashes []string) error {
	stmt, args, err := r.builder.Update("admin.accounts").
		Set("two_factor_secret", secret).
		Set("recovery_code_hashes", recoveryHashes).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set two factor secret sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("set two factor secret: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// EnableTwoFactor flips the enrollment flag for an account that already has a
// stored secret.
func (r *AccountRepository) EnableTwoFactor(ctx context.Context, id string) error {
	stmt := `
		UPDATE admin.accounts
		   SET two_factor_enabled = TRUE
		 WHERE id = $1
		   AND two_factor_secret IS NOT NULL
	`

	ct, err := r.exec.Exec(ctx, stmt, id)
	if err != nil {
		return fmt.Errorf("enable two factor: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// SetPasswordResetToken stores the reset-token hash and expiry, displacing
// any previously issued token.
func (r *AccountRepository) SetPasswordResetToken(ctx context.Context, id string, tokenHash string, expiresAt time.Time) error {
	stmt, args, err := r.builder.Update("admin.accounts").
		Set("password_reset_token_hash", tokenHash).
		Set("password_reset_expires", expiresAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set password reset token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("set password reset token: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// GetByResetToken resolves an account by reset-token hash. Expiry is checked
// inside the query, so an expired token behaves exactly like an unknown one.
func (r *AccountRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From("admin.accounts").
		Where(squirrel.Eq{"password_reset_token_hash": tokenHash}).
		Where(squirrel.Gt{"password_reset_expires": now}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by reset token sql: %w", err)
	}

	return scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

// CompletePasswordReset stores the new hash, clears the reset token and any
// active lockout, and appends the new hash to the history table, all within
// one transaction.
func (r *AccountRepository) CompletePasswordReset(ctx context.Context, id string, passwordHash, passwordAlgo string, changedAt time.Time) error {
	var beginner txBeginner
	if b, ok := r.exec.(txBeginner); ok {
		beginner = b
	} else if r.pool != nil {
		beginner = r.pool
	}
	if beginner == nil {
		return fmt.Errorf("password reset requires a transactional connection")
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin password reset tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentHash string
	if err := tx.QueryRow(ctx,
		`SELECT password_hash FROM admin.accounts WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&currentHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("lock account for password reset: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO admin.account_password_history (account_id, password_hash, set_at)
		 VALUES ($1, $2, $3)`,
		id, passwordHash, changedAt,
	); err != nil {
		return fmt.Errorf("insert password history: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE admin.accounts
		   SET password_hash = $2,
		       password_algo = $3,
		       password_reset_token_hash = NULL,
		       password_reset_expires = NULL,
		       failed_login_attempts = 0,
		       last_failed_login = NULL,
		       locked_until = NULL
		 WHERE id = $1
	`, id, passwordHash, passwordAlgo); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit password reset tx: %w", err)
	}

	return nil
}

// UpdateRole assigns a new role to the account.
func (r *AccountRepository) UpdateRole(ctx context.Context, id string, role domain.Role) error {
	stmt, args, err := r.builder.Update("admin.accounts").
		Set("role", role).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update role sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ListPasswordHistory retrieves the most recent password hashes for an account.
func (r *AccountRepository) ListPasswordHistory(ctx context.Context, id string, limit int) ([]domain.PasswordHistoryEntry, error) {
	builder := r.builder.Select("id", "account_id", "password_hash", "set_at").
		From("admin.account_password_history").
		Where(squirrel.Eq{"account_id": id}).
		OrderBy("set_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	stmt, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select password history sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query password history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.PasswordHistoryEntry, 0)
	for rows.Next() {
		var entry domain.PasswordHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.PasswordHash, &entry.SetAt); err != nil {
			return nil, fmt.Errorf("scan password history: %w", err)
		}
		history = append(history, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate password history: %w", err)
	}

	return history, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)

package port

import (
	"context"
	"time"

	"github.com/learnonline/admin-iam/internal/core/domain"
)

// AccountFilter narrows listing queries.
type AccountFilter struct {
	Role         domain.Role
	ExcludeRoles []domain.Role
	Search       string
	Limit        int
	Offset       int
}

// AccountRepository exposes persistence behavior for accounts. Mutations on
// the failure counter, the lockout timestamp, and the recovery-code list are
// single conditional statements at the storage layer so that concurrent
// requests against the same account cannot interleave read-modify-write.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	List(ctx context.Context, filter AccountFilter) ([]domain.Account, error)
	Count(ctx context.Context, filter AccountFilter) (int, error)

	// RecordLoginFailure atomically increments the failure counter and, when
	// the new count reaches threshold, stamps lockUntil. It returns the new
	// count and the effective lock expiry (nil while below threshold).
	RecordLoginFailure(ctx context.Context, id string, at time.Time, threshold int, lockUntil time.Time) (int, *time.Time, error)
	// RecordLoginSuccess zeroes the failure counter, clears any lock, and
	// stamps the last login time and IP in one statement.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time, ip *string) error

	// ConsumeRecoveryCode removes one stored recovery-code hash. It returns
	// repository.ErrNotFound when the hash is not present, including when a
	// concurrent request consumed it first.
	ConsumeRecoveryCode(ctx context.Context, id string, codeHash string) error
	SetTwoFactorSecret(ctx context.Context, id string, secret string, recoveryHashes []string) error
	EnableTwoFactor(ctx context.Context, id string) error

	SetPasswordResetToken(ctx context.Context, id string, tokenHash string, expiresAt time.Time) error
	// GetByResetToken resolves an account whose stored reset-token hash
	// matches and whose expiry is still in the future at now.
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.Account, error)
	// CompletePasswordReset stores the new hash, nulls the reset token and
	// expiry, zeroes the failure counter, and clears any lock, all within one
	// transaction. The new hash is appended to the password history.
	CompletePasswordReset(ctx context.Context, id string, passwordHash, passwordAlgo string, changedAt time.Time) error

	UpdateRole(ctx context.Context, id string, role domain.Role) error
	ListPasswordHistory(ctx context.Context, id string, limit int) ([]domain.PasswordHistoryEntry, error)
}

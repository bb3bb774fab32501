package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/core/port"
	"github.com/learnonline/admin-iam/internal/infra/config"
	"github.com/learnonline/admin-iam/internal/infra/security"
	"github.com/learnonline/admin-iam/internal/repository"
)

const defaultRecoveryCodeCount = 8

var (
	// ErrTwoFactorAlreadyEnabled indicates the account already completed enrollment.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTwoFactorNotPending indicates activation was attempted without a stored secret.
	ErrTwoFactorNotPending = errors.New("two-factor setup not started")
	// ErrActivationCodeInvalid indicates the confirmation code did not match the pending secret.
	ErrActivationCodeInvalid = errors.New("invalid activation code")
)

// SetupResult carries the enrollment artifacts. The secret and raw recovery
// codes are shown exactly once; only hashes are stored.
type SetupResult struct {
	Secret        string
	URL           string
	RecoveryCodes []string
}

// TwoFactorService handles TOTP enrollment and activation.
type TwoFactorService struct {
	accounts      port.AccountRepository
	totp          *security.TOTPVerifier
	auditor       *SecurityAuditor
	logger        *zap.Logger
	recoveryCount int
	now           func() time.Time
}

// NewTwoFactorService constructs a TwoFactorService.
func NewTwoFactorService(cfg *config.AppConfig, accounts port.AccountRepository, totp *security.TOTPVerifier, auditor *SecurityAuditor, log *zap.Logger) *TwoFactorService {
	if log == nil {
		log = zap.NewNop()
	}

	recoveryCount := defaultRecoveryCodeCount
	if cfg != nil && cfg.TwoFactor.RecoveryCodes > 0 {
		recoveryCount = cfg.TwoFactor.RecoveryCodes
	}

	return &TwoFactorService{
		accounts:      accounts,
		totp:          totp,
		auditor:       auditor,
		logger:        log,
		recoveryCount: recoveryCount,
		now:           time.Now,
	}
}

// Setup generates a pending TOTP secret and a fresh recovery-code set for
// the account. The account stays unenrolled until Activate confirms a code.
func (s *TwoFactorService) Setup(ctx context.Context, accountID string) (*SetupResult, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if account.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	enrollment, err := s.totp.GenerateSecret(account.Email)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, s.recoveryCount)
	hashes := make([]string, 0, s.recoveryCount)
	for i := 0; i < s.recoveryCount; i++ {
		code, err := security.GenerateRecoveryCode()
		if err != nil {
			return nil, fmt.Errorf("generate recovery code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, security.HashToken(security.NormalizeRecoveryCode(code)))
	}

	if err := s.accounts.SetTwoFactorSecret(ctx, account.ID, enrollment.Secret, hashes); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("store two factor secret: %w", err)
	}

	return &SetupResult{
		Secret:        enrollment.Secret,
		URL:           enrollment.URL,
		RecoveryCodes: codes,
	}, nil
}

// Activate confirms the pending secret with a live TOTP code and flips the
// enrollment flag.
func (s *TwoFactorService) Activate(ctx context.Context, accountID, code string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	if account.TwoFactorEnabled {
		return ErrTwoFactorAlreadyEnabled
	}
	if account.TwoFactorSecret == nil || *account.TwoFactorSecret == "" {
		return ErrTwoFactorNotPending
	}

	if !s.totp.Verify(code, *account.TwoFactorSecret) {
		return ErrActivationCodeInvalid
	}

	if err := s.accounts.EnableTwoFactor(ctx, account.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("enable two factor: %w", err)
	}

	s.auditor.Record(ctx, domain.EventTwoFactorEnabled, &account.ID, nil, nil, nil)

	return nil
}

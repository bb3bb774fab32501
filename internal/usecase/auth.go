package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/core/port"
	"github.com/learnonline/admin-iam/internal/infra/config"
	"github.com/learnonline/admin-iam/internal/infra/logger"
	"github.com/learnonline/admin-iam/internal/infra/security"
	"github.com/learnonline/admin-iam/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided email or password are incorrect.
	// Unknown accounts and wrong passwords are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrChallengeInvalid indicates the two-factor challenge token is malformed,
	// expired, or was not issued for a pending second factor.
	ErrChallengeInvalid = errors.New("invalid or expired challenge")
	// ErrTwoFactorInvalid indicates neither the TOTP code nor a recovery code matched.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
)

// AccountLockedError reports that the account is inside an active lockout
// window. RetryAfter carries the remaining duration for the response message.
type AccountLockedError struct {
	RetryAfter time.Duration
}

// Error implements error.
func (e *AccountLockedError) Error() string {
	minutes := int(math.Ceil(e.RetryAfter.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("account temporarily locked; try again in %d minutes", minutes)
}

// LoginInput carries the credential payload and request context.
type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// VerifyTwoFactorInput finalizes a login that paused at the second factor.
type VerifyTwoFactorInput struct {
	ChallengeToken string
	Code           string
	IP             string
	UserAgent      string
}

// ChallengeAccount is the minimal account view returned while a login is
// paused at the second factor.
type ChallengeAccount struct {
	ID    string
	Email string
	Name  string
}

// LoginResult describes the outcome of a successful credential check. Either
// AccessToken is set, or Requires2FA is true and ChallengeToken carries the
// short-lived continuation.
type LoginResult struct {
	Requires2FA    bool
	ChallengeToken string
	AccessToken    string
	ExpiresAt      time.Time
	Account        domain.Account
	Challenge      *ChallengeAccount
}

// AuthService coordinates the login state machine: credential verification,
// lockout accounting, the two-factor challenge hop, and token issuance.
type AuthService struct {
	cfg      *config.AppConfig
	accounts port.AccountRepository
	events   port.EventPublisher
	auditor  *SecurityAuditor
	tokens   *security.JWTManager
	totp     *security.TOTPVerifier
	lockout  LockoutPolicy
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	cfg *config.AppConfig,
	accounts port.AccountRepository,
	events port.EventPublisher,
	auditor *SecurityAuditor,
	tokens *security.JWTManager,
	totp *security.TOTPVerifier,
	log *zap.Logger,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}

	policy := NewLockoutPolicy(0, 0)
	if cfg != nil {
		policy = NewLockoutPolicy(cfg.Lockout.MaxAttempts, cfg.Lockout.LockDuration)
	}

	return &AuthService{
		cfg:      cfg,
		accounts: accounts,
		events:   events,
		auditor:  auditor,
		tokens:   tokens,
		totp:     totp,
		lockout:  policy,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock overrides the clock, primarily for tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login validates credentials and either issues an access token or pauses at
// the second factor with a challenge token.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if input.Password == "" {
		return nil, fmt.Errorf("password is required")
	}

	now := s.now().UTC()
	ip := stringPtrOrNil(input.IP)
	ua := stringPtrOrNil(input.UserAgent)

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.auditor.Record(ctx, domain.EventFailedLogin, nil, ip, ua, map[string]any{
				"attempted_email": email,
				"reason":          "unknown_account",
			})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if remaining := s.lockout.Remaining(account, now); remaining > 0 {
		s.auditor.Record(ctx, domain.EventFailedLogin, &account.ID, ip, ua, map[string]any{
			"reason": "locked",
		})
		return nil, &AccountLockedError{RetryAfter: remaining}
	}

	ok, err := security.VerifyPassword(input.Password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, s.handleFailedPassword(ctx, account, now, ip, ua)
	}

	if account.TwoFactorEnabled {
		return s.issueChallenge(account)
	}

	return s.finishLogin(ctx, account, now, ip, ua)
}

// handleFailedPassword increments the failure counter through the atomic
// repository statement and records the audit trail. The returned error is
// always ErrInvalidCredentials; lockout surfaces on the next attempt.
func (s *AuthService) handleFailedPassword(ctx context.Context, account *domain.Account, now time.Time, ip, ua *string) error {
	attempts, lockedUntil, err := s.accounts.RecordLoginFailure(ctx, account.ID, now, s.lockout.MaxAttempts, s.lockout.LockUntil(now))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("record login failure failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}

	s.auditor.Record(ctx, domain.EventFailedLogin, &account.ID, ip, ua, map[string]any{
		"failed_attempts": attempts,
	})

	// A lock expiring does not reset the counter, so the repository applies
	// a fresh lock on every failure past the threshold. Any lock ahead of
	// now was set by this attempt (an active lock is rejected before the
	// password is checked), so each re-lock emits its own event.
	if err == nil && s.lockout.ShouldLock(attempts) && lockedUntil != nil && lockedUntil.After(now) {
		s.auditor.Record(ctx, domain.EventLockoutTriggered, &account.ID, ip, ua, map[string]any{
			"failed_attempts": attempts,
			"locked_until":    lockedUntil.UTC(),
		})
		s.publishAccountLocked(ctx, account, attempts, *lockedUntil, now)

		s.logger.Info("account locked after repeated failures",
			zap.String("account_id", account.ID),
			zap.String("email", logger.MaskEmail(account.Email)),
			zap.Time("locked_until", lockedUntil.UTC()),
		)
	}

	return ErrInvalidCredentials
}

func (s *AuthService) issueChallenge(account *domain.Account) (*LoginResult, error) {
	ttl := s.cfg.JWT.ChallengeTokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	challenge, err := s.tokens.SignChallengeToken(account.ID, ttl)
	if err != nil {
		return nil, fmt.Errorf("sign challenge token: %w", err)
	}

	return &LoginResult{
		Requires2FA:    true,
		ChallengeToken: challenge,
		Challenge: &ChallengeAccount{
			ID:    account.ID,
			Email: account.Email,
			Name:  account.Name,
		},
	}, nil
}

func (s *AuthService) finishLogin(ctx context.Context, account *domain.Account, now time.Time, ip, ua *string) (*LoginResult, error) {
	if err := s.accounts.RecordLoginSuccess(ctx, account.ID, now, ip); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("record login success failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}

	ttl := s.cfg.JWT.AccessTokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	token, err := s.tokens.SignAccessToken(*account, account.IsDemo(), ttl)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.auditor.Record(ctx, domain.EventSuccessLogin, &account.ID, ip, ua, nil)

	return &LoginResult{
		AccessToken: token,
		ExpiresAt:   now.Add(ttl),
		Account:     account.Sanitized(),
	}, nil
}

// VerifyTwoFactor consumes a challenge token together with a TOTP or recovery
// code and completes the paused login.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, input VerifyTwoFactorInput) (*LoginResult, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	claims, err := s.tokens.ParseChallengeToken(input.ChallengeToken)
	if err != nil {
		return nil, ErrChallengeInvalid
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeInvalid
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now().UTC()
	ip := stringPtrOrNil(input.IP)
	ua := stringPtrOrNil(input.UserAgent)

	if remaining := s.lockout.Remaining(account, now); remaining > 0 {
		s.auditor.Record(ctx, domain.EventFailedLogin, &account.ID, ip, ua, map[string]any{
			"reason": "locked",
			"stage":  "2fa",
		})
		return nil, &AccountLockedError{RetryAfter: remaining}
	}

	if !account.TwoFactorEnabled || account.TwoFactorSecret == nil {
		return nil, ErrChallengeInvalid
	}

	if s.totp.Verify(code, *account.TwoFactorSecret) {
		return s.finishLogin(ctx, account, now, ip, ua)
	}

	// TOTP mismatch: the code may be a single-use recovery code. The
	// conditional UPDATE guarantees only one concurrent consumer wins.
	hash := security.HashToken(security.NormalizeRecoveryCode(code))
	if err := s.accounts.ConsumeRecoveryCode(ctx, account.ID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.auditor.Record(ctx, domain.EventFailedTwoFactor, &account.ID, ip, ua, nil)
			return nil, ErrTwoFactorInvalid
		}
		return nil, fmt.Errorf("consume recovery code: %w", err)
	}

	result, err := s.finishLogin(ctx, account, now, ip, ua)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ParseAccessToken validates a bearer token for the auth middleware.
func (s *AuthService) ParseAccessToken(token string) (*security.AccessTokenClaims, error) {
	return s.tokens.ParseAccessToken(token)
}

func (s *AuthService) publishAccountLocked(ctx context.Context, account *domain.Account, attempts int, lockedUntil, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.AccountLockedEvent{
		AccountID:      account.ID,
		FailedAttempts: attempts,
		LockedUntil:    lockedUntil.UTC(),
		LockedAt:       at.UTC(),
	}

	if err := s.events.PublishAccountLocked(ctx, event); err != nil {
		s.logger.Warn("publish account locked event failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
}

func stringPtrOrNil(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

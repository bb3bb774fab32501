package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/core/port"
	"github.com/learnonline/admin-iam/internal/infra/config"
	"github.com/learnonline/admin-iam/internal/infra/logger"
	"github.com/learnonline/admin-iam/internal/infra/security"
	"github.com/learnonline/admin-iam/internal/repository"
)

const (
	defaultResetTTL    = time.Hour
	resetTokenBytes    = 32
	passwordResetScope = "password_reset"

	// passwordHistoryDepth bounds how many past hashes a reset is checked
	// against.
	passwordHistoryDepth = 5
)

var (
	// ErrResetTokenInvalid indicates the reset token is unknown, already used,
	// or expired. The cases are deliberately indistinguishable.
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")

	// ErrPasswordReused indicates the replacement password matches the
	// current one or a recent historical one.
	ErrPasswordReused = errors.New("password was used recently")
)

// PasswordPolicyError aggregates every unmet password rule so the caller can
// present an itemized rejection.
type PasswordPolicyError struct {
	Violations []security.PasswordValidationError
}

// Error implements error.
func (e *PasswordPolicyError) Error() string {
	if len(e.Violations) == 0 {
		return "password does not meet policy"
	}
	messages := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		messages = append(messages, v.Message)
	}
	return strings.Join(messages, "; ")
}

// RateLimitExceededError reports a sliding-window limit hit.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

// Error implements error.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Scope)
}

// ForgotInput carries a password reset request.
type ForgotInput struct {
	Email     string
	IP        string
	UserAgent string
}

// ResetInput finalizes a password reset with the raw emailed token.
type ResetInput struct {
	Token       string
	NewPassword string
	IP          string
	UserAgent   string
}

// ForgotResult is intentionally identical whether or not the email matched an
// account, so the endpoint cannot be used to enumerate accounts.
type ForgotResult struct {
	RequestAccepted bool
}

// PasswordResetService coordinates the single-use reset token lifecycle.
type PasswordResetService struct {
	cfg        *config.AppConfig
	accounts   port.AccountRepository
	rateLimits port.RateLimitStore
	events     port.EventPublisher
	mailer     port.ResetMailer
	auditor    *SecurityAuditor
	validator  *security.PasswordValidator
	logger     *zap.Logger
	now        func() time.Time
	resetTTL   time.Duration
}

// NewPasswordResetService constructs a PasswordResetService.
func NewPasswordResetService(
	cfg *config.AppConfig,
	accounts port.AccountRepository,
	rateLimits port.RateLimitStore,
	events port.EventPublisher,
	mailer port.ResetMailer,
	auditor *SecurityAuditor,
	validator *security.PasswordValidator,
	log *zap.Logger,
) *PasswordResetService {
	if log == nil {
		log = zap.NewNop()
	}
	if validator == nil {
		minLength := 0
		minScore := 0
		if cfg != nil {
			minLength = cfg.Password.MinLength
			minScore = cfg.Password.MinStrengthScore
		}
		validator = security.DefaultPasswordValidator(minLength, minScore)
	}

	resetTTL := defaultResetTTL
	if cfg != nil && cfg.Password.ResetTTL > 0 {
		resetTTL = cfg.Password.ResetTTL
	}

	return &PasswordResetService{
		cfg:        cfg,
		accounts:   accounts,
		rateLimits: rateLimits,
		events:     events,
		mailer:     mailer,
		auditor:    auditor,
		validator:  validator,
		logger:     log,
		now:        time.Now,
		resetTTL:   resetTTL,
	}
}

// WithClock overrides the clock, primarily for tests.
func (s *PasswordResetService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Forgot issues a single-use reset token for the account behind the email.
// The response is the same whether or not the account exists.
func (s *PasswordResetService) Forgot(ctx context.Context, input ForgotInput) (*ForgotResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	now := s.now().UTC()
	accepted := &ForgotResult{RequestAccepted: true}

	if err := s.enforceRateLimit(ctx, email, now); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Same outcome as the happy path; only the audit trail differs.
			s.logger.Info("password reset requested for unknown email",
				zap.String("email", logger.MaskEmail(email)),
			)
			return accepted, nil
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	raw, err := security.GenerateSecureToken(resetTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}

	expiresAt := now.Add(s.resetTTL)
	if err := s.accounts.SetPasswordResetToken(ctx, account.ID, security.HashToken(raw), expiresAt); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}

	if s.mailer != nil {
		if err := s.mailer.SendPasswordReset(ctx, account.Email, account.Name, raw); err != nil {
			s.logger.Warn("send password reset mail failed",
				zap.String("account_id", account.ID),
				zap.String("email", logger.MaskEmail(account.Email)),
				zap.Error(err),
			)
		}
	}

	ip := stringPtrOrNil(input.IP)
	ua := stringPtrOrNil(input.UserAgent)

	s.auditor.Record(ctx, domain.EventPasswordResetRequested, &account.ID, ip, ua, map[string]any{
		"expires_at": expiresAt,
	})
	s.publishResetRequested(ctx, account, now, expiresAt, ip)

	return accepted, nil
}

// Reset validates the raw token and stores the replacement password. The
// token is single-use: completion nulls the stored hash inside the same
// transaction that writes the new password.
func (s *PasswordResetService) Reset(ctx context.Context, input ResetInput) error {
	token := strings.TrimSpace(input.Token)
	if token == "" {
		return ErrResetTokenInvalid
	}
	newPassword := input.NewPassword

	now := s.now().UTC()

	account, err := s.accounts.GetByResetToken(ctx, security.HashToken(token), now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("lookup reset token: %w", err)
	}

	if violations := s.validator.Validate(newPassword); len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}

	reused, err := s.passwordRecentlyUsed(ctx, account, newPassword)
	if err != nil {
		return err
	}
	if reused {
		return ErrPasswordReused
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	if err := s.accounts.CompletePasswordReset(ctx, account.ID, hash, security.PasswordAlgo, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("complete password reset: %w", err)
	}

	ip := stringPtrOrNil(input.IP)
	ua := stringPtrOrNil(input.UserAgent)

	s.auditor.Record(ctx, domain.EventPasswordChange, &account.ID, ip, ua, map[string]any{
		"source": passwordResetScope,
	})
	s.publishPasswordChanged(ctx, account, now)

	return nil
}

// passwordRecentlyUsed checks the candidate against the current hash and the
// most recent history entries. Hashes are salted, so each one is verified
// individually.
func (s *PasswordResetService) passwordRecentlyUsed(ctx context.Context, account *domain.Account, candidate string) (bool, error) {
	ok, err := security.VerifyPassword(candidate, account.PasswordHash)
	if err != nil {
		return false, fmt.Errorf("verify password against current hash: %w", err)
	}
	if ok {
		return true, nil
	}

	entries, err := s.accounts.ListPasswordHistory(ctx, account.ID, passwordHistoryDepth)
	if err != nil {
		return false, fmt.Errorf("list password history: %w", err)
	}
	for _, entry := range entries {
		ok, err := security.VerifyPassword(candidate, entry.PasswordHash)
		if err != nil {
			return false, fmt.Errorf("verify password against history: %w", err)
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

func (s *PasswordResetService) enforceRateLimit(ctx context.Context, email string, now time.Time) error {
	if s.rateLimits == nil || s.cfg == nil {
		return nil
	}

	limit := s.cfg.RateLimit.PasswordResetMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := s.cfg.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Hour
	}

	key := fmt.Sprintf("%s:%s", passwordResetScope, security.HashToken(email))

	if err := s.rateLimits.TrimWindow(ctx, key, window, now); err != nil {
		s.logger.Warn("password reset rate limit trim failed", zap.Error(err))
		return nil
	}

	count, err := s.rateLimits.CountAttempts(ctx, key, window, now)
	if err != nil {
		s.logger.Warn("password reset rate limit count failed", zap.Error(err))
		return nil
	}

	if count >= limit {
		retryAfter := time.Duration(0)
		if oldest, ok, err := s.rateLimits.OldestAttempt(ctx, key, window, now); err == nil && ok {
			if reset := oldest.Add(window); reset.After(now) {
				retryAfter = reset.Sub(now)
			}
		} else if err != nil {
			s.logger.Warn("password reset rate limit oldest lookup failed", zap.Error(err))
		}
		return &RateLimitExceededError{Scope: passwordResetScope, RetryAfter: retryAfter}
	}

	if err := s.rateLimits.RecordAttempt(ctx, key, now); err != nil {
		s.logger.Warn("password reset rate limit record failed", zap.Error(err))
	}

	return nil
}

func (s *PasswordResetService) publishResetRequested(ctx context.Context, account *domain.Account, at, expiresAt time.Time, ip *string) {
	if s.events == nil {
		return
	}

	event := domain.PasswordResetRequestedEvent{
		EventID:           uuid.NewString(),
		AccountID:         account.ID,
		RequestID:         uuid.NewString(),
		RequestedAt:       at,
		MaskedDestination: logger.MaskEmail(account.Email),
		ExpiresAt:         expiresAt,
		IPAddress:         ip,
	}

	if err := s.events.PublishPasswordResetRequested(ctx, event); err != nil {
		s.logger.Warn("publish password reset requested failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
}

func (s *PasswordResetService) publishPasswordChanged(ctx context.Context, account *domain.Account, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.PasswordChangedEvent{
		EventID:   uuid.NewString(),
		AccountID: account.ID,
		ChangedAt: at,
		ChangedBy: account.ID,
		Metadata:  map[string]any{"source": passwordResetScope},
	}

	if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
		s.logger.Warn("publish password changed failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
}

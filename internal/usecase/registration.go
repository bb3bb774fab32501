package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/core/port"
	"github.com/learnonline/admin-iam/internal/infra/security"
	"github.com/learnonline/admin-iam/internal/repository"
)

var (
	// ErrEmailTaken indicates the email already belongs to an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrEmailInvalid indicates the email address failed syntactic validation.
	ErrEmailInvalid = errors.New("invalid email address")
)

// RegisterInput carries a self-service registration payload.
type RegisterInput struct {
	Email     string
	Name      string
	Password  string
	IP        string
	UserAgent string
}

// RegistrationService creates new accounts with the default role.
type RegistrationService struct {
	accounts  port.AccountRepository
	events    port.EventPublisher
	auditor   *SecurityAuditor
	validator *security.PasswordValidator
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(accounts port.AccountRepository, events port.EventPublisher, auditor *SecurityAuditor, validator *security.PasswordValidator, log *zap.Logger) *RegistrationService {
	if log == nil {
		log = zap.NewNop()
	}
	if validator == nil {
		validator = security.DefaultPasswordValidator(0, 0)
	}
	return &RegistrationService{
		accounts:  accounts,
		events:    events,
		auditor:   auditor,
		validator: validator,
		logger:    log,
		now:       time.Now,
	}
}

// WithClock overrides the clock, primarily for tests.
func (s *RegistrationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Register validates the payload and persists a new account with the default
// role. Email uniqueness is enforced by the database unique index.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (*domain.Account, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, ErrEmailInvalid
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrEmailInvalid
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	if violations := s.validator.Validate(input.Password); len(violations) > 0 {
		return nil, &PasswordPolicyError{Violations: violations}
	}

	hash, err := security.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	account := domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		PasswordAlgo: security.PasswordAlgo,
		Role:         domain.RoleUser,
		CreatedAt:    now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	ip := stringPtrOrNil(input.IP)
	ua := stringPtrOrNil(input.UserAgent)
	s.auditor.Record(ctx, domain.EventAccountRegistered, &account.ID, ip, ua, nil)
	s.publishRegistered(ctx, account, now)

	sanitized := account.Sanitized()
	return &sanitized, nil
}

func (s *RegistrationService) publishRegistered(ctx context.Context, account domain.Account, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.AccountRegisteredEvent{
		EventID:      uuid.NewString(),
		AccountID:    account.ID,
		Email:        account.Email,
		Name:         account.Name,
		Role:         account.Role,
		RegisteredAt: at,
	}

	if err := s.events.PublishAccountRegistered(ctx, event); err != nil {
		s.logger.Warn("publish account registered failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
}

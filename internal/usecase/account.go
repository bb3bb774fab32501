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
	"github.com/learnonline/admin-iam/internal/repository"
)

var (
	// ErrAccountNotFound indicates the subject does not exist or is hidden
	// from the caller by the visibility guard.
	ErrAccountNotFound = errors.New("account not found")
	// ErrHierarchyViolation indicates the actor tried to modify a subject
	// more privileged than themselves.
	ErrHierarchyViolation = errors.New("subject outranks actor")
	// ErrElevationViolation indicates the actor tried to grant a role more
	// privileged than their own.
	ErrElevationViolation = errors.New("role grant exceeds actor privilege")
	// ErrDemoRestricted indicates a demo session hit a feature gate. This is
	// a product-tier gate, distinct from the privilege guards.
	ErrDemoRestricted = errors.New("operation unavailable in demo mode")
	// ErrUnknownRole indicates the requested role is not in the hierarchy.
	ErrUnknownRole = errors.New("unknown role")
)

// Actor is the authenticated caller of an account-management operation,
// extracted from the access token claims.
type Actor struct {
	ID   string
	Role domain.Role
	Demo bool
}

// AccountService handles account management behind the role guards.
type AccountService struct {
	accounts port.AccountRepository
	events   port.EventPublisher
	auditor  *SecurityAuditor
	logger   *zap.Logger
	now      func() time.Time
}

// NewAccountService constructs an AccountService.
func NewAccountService(accounts port.AccountRepository, events port.EventPublisher, auditor *SecurityAuditor, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{
		accounts: accounts,
		events:   events,
		auditor:  auditor,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock overrides the clock, primarily for tests.
func (s *AccountService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// UpdateRole assigns newRole to the subject after running the guards: the
// demo gate first so a demo session always sees the feature-gate error, then
// subject lookup, the hierarchy guard, and the elevation guard.
func (s *AccountService) UpdateRole(ctx context.Context, actor Actor, subjectID string, newRole domain.Role) (*domain.Account, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("subject id is required")
	}

	if actor.Demo {
		return nil, ErrDemoRestricted
	}

	subject, err := s.accounts.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup subject: %w", err)
	}

	actorLevel := domain.LevelOf(actor.Role)
	topLevel := domain.LevelOf(domain.TopRole())

	// The top role bypasses the hierarchy guard entirely.
	if actorLevel != topLevel && domain.LevelOf(subject.Role) < actorLevel {
		return nil, ErrHierarchyViolation
	}

	if !domain.IsKnownRole(newRole) {
		return nil, ErrUnknownRole
	}

	if domain.LevelOf(newRole) < actorLevel {
		return nil, ErrElevationViolation
	}
	if newRole == domain.TopRole() && actor.Role != domain.TopRole() {
		return nil, ErrElevationViolation
	}

	previous := subject.Role
	if err := s.accounts.UpdateRole(ctx, subject.ID, newRole); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("update role: %w", err)
	}
	subject.Role = newRole

	s.auditor.Record(ctx, domain.EventRoleChanged, &subject.ID, nil, nil, map[string]any{
		"previous_role": string(previous),
		"new_role":      string(newRole),
		"changed_by":    actor.ID,
	})
	s.publishRoleChanged(ctx, subject, previous, actor.ID)

	sanitized := subject.Sanitized()
	return &sanitized, nil
}

// Get returns one account. The visibility guard hides top-role accounts from
// callers who do not hold the top role themselves; a hidden account is
// indistinguishable from a missing one.
func (s *AccountService) Get(ctx context.Context, actor Actor, subjectID string) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, strings.TrimSpace(subjectID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if account.Role == domain.TopRole() && actor.Role != domain.TopRole() {
		return nil, ErrAccountNotFound
	}

	sanitized := account.Sanitized()
	return &sanitized, nil
}

// List returns accounts matching the filter, with the visibility guard
// applied at the query level.
func (s *AccountService) List(ctx context.Context, actor Actor, filter port.AccountFilter) ([]domain.Account, int, error) {
	if actor.Role != domain.TopRole() {
		filter.ExcludeRoles = append(filter.ExcludeRoles, domain.TopRole())
	}

	accounts, err := s.accounts.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}

	total, err := s.accounts.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	sanitized := make([]domain.Account, 0, len(accounts))
	for _, account := range accounts {
		sanitized = append(sanitized, account.Sanitized())
	}

	return sanitized, total, nil
}

func (s *AccountService) publishRoleChanged(ctx context.Context, subject *domain.Account, previous domain.Role, changedBy string) {
	if s.events == nil {
		return
	}

	event := domain.RoleChangedEvent{
		EventID:      uuid.NewString(),
		AccountID:    subject.ID,
		PreviousRole: previous,
		NewRole:      subject.Role,
		ChangedBy:    changedBy,
		ChangedAt:    s.now().UTC(),
	}

	if err := s.events.PublishRoleChanged(ctx, event); err != nil {
		s.logger.Warn("publish role changed failed",
			zap.String("account_id", subject.ID),
			zap.Error(err),
		)
	}
}

package usecase

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/infra/security"
)

func newRegistrationServiceForTest(repo *stubAccountRepo, events *recordingEventRepo, publisher *recordingPublisher) *RegistrationService {
	auditor := NewSecurityAuditor(events, zap.NewNop())
	validator := security.DefaultPasswordValidator(12, 3)
	return NewRegistrationService(repo, publisher, auditor, validator, zap.NewNop())
}

func TestRegisterCreatesAccount(t *testing.T) {
	repo := newStubAccountRepo()
	events := &recordingEventRepo{}
	publisher := &recordingPublisher{}
	svc := newRegistrationServiceForTest(repo, events, publisher)

	account, err := svc.Register(context.Background(), RegisterInput{
		Email:    "New.Admin@LearnOnline.cc",
		Name:     "New Admin",
		Password: "Brand-new-Secret-42!",
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if account.Email != "new.admin@learnonline.cc" {
		t.Fatalf("expected lowercased email, got %s", account.Email)
	}
	if account.Role != domain.RoleUser {
		t.Fatalf("expected default role user, got %s", account.Role)
	}
	if account.PasswordHash != "" {
		t.Fatal("returned account must be sanitized")
	}

	stored := repo.accounts[account.ID]
	if stored == nil {
		t.Fatal("expected account to be persisted")
	}
	if stored.PasswordHash == "Brand-new-Secret-42!" || stored.PasswordHash == "" {
		t.Fatal("expected password to be stored hashed")
	}
	ok, err := security.VerifyPassword("Brand-new-Secret-42!", stored.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("stored hash does not verify: ok=%v err=%v", ok, err)
	}

	if events.countKind(domain.EventAccountRegistered) != 1 {
		t.Fatalf("expected ACCOUNT_REGISTERED event, got kinds %v", events.kinds())
	}
	if len(publisher.registered) != 1 {
		t.Fatalf("expected one registration publication, got %d", len(publisher.registered))
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := newStubAccountRepo(testAccount(t, "correct horse battery"))
	svc := newRegistrationServiceForTest(repo, &recordingEventRepo{}, &recordingPublisher{})

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "admin@learnonline.cc",
		Name:     "Imposter",
		Password: "Brand-new-Secret-42!",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterInvalidEmail(t *testing.T) {
	svc := newRegistrationServiceForTest(newStubAccountRepo(), &recordingEventRepo{}, &recordingPublisher{})

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "not-an-email",
		Name:     "Somebody",
		Password: "Brand-new-Secret-42!",
	})
	if !errors.Is(err, ErrEmailInvalid) {
		t.Fatalf("expected ErrEmailInvalid, got %v", err)
	}
}

func TestRegisterWeakPassword(t *testing.T) {
	svc := newRegistrationServiceForTest(newStubAccountRepo(), &recordingEventRepo{}, &recordingPublisher{})

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "new.admin@learnonline.cc",
		Name:     "New Admin",
		Password: "weak",
	})
	var policyErr *PasswordPolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected PasswordPolicyError, got %v", err)
	}
	if len(policyErr.Violations) == 0 {
		t.Fatal("expected itemized violations")
	}
}

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/core/port"
)

func newAccountServiceForTest(repo *stubAccountRepo, events *recordingEventRepo, publisher *recordingPublisher) *AccountService {
	auditor := NewSecurityAuditor(events, zap.NewNop())
	return NewAccountService(repo, publisher, auditor, zap.NewNop())
}

func accountWithRole(id string, role domain.Role) domain.Account {
	return domain.Account{
		ID:        id,
		Email:     id + "@learnonline.cc",
		Name:      id,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
}

func TestUpdateRoleGuards(t *testing.T) {
	tests := []struct {
		name    string
		actor   Actor
		subject domain.Account
		newRole domain.Role
		wantErr error
	}{
		{
			name:    "admin demotes editor to author",
			actor:   Actor{ID: "actor", Role: domain.RoleAdmin},
			subject: accountWithRole("subject", domain.RoleEditor),
			newRole: domain.RoleAuthor,
		},
		{
			name:    "admin promotes user to admin",
			actor:   Actor{ID: "actor", Role: domain.RoleAdmin},
			subject: accountWithRole("subject", domain.RoleUser),
			newRole: domain.RoleAdmin,
		},
		{
			name:    "admin cannot modify superadmin",
			actor:   Actor{ID: "actor", Role: domain.RoleAdmin},
			subject: accountWithRole("subject", domain.RoleSuperAdmin),
			newRole: domain.RoleViewer,
			wantErr: ErrHierarchyViolation,
		},
		{
			name:    "editor cannot modify admin",
			actor:   Actor{ID: "actor", Role: domain.RoleEditor},
			subject: accountWithRole("subject", domain.RoleAdmin),
			newRole: domain.RoleViewer,
			wantErr: ErrHierarchyViolation,
		},
		{
			name:    "admin cannot grant superadmin",
			actor:   Actor{ID: "actor", Role: domain.RoleAdmin},
			subject: accountWithRole("subject", domain.RoleUser),
			newRole: domain.RoleSuperAdmin,
			wantErr: ErrElevationViolation,
		},
		{
			name:    "editor cannot grant admin",
			actor:   Actor{ID: "actor", Role: domain.RoleEditor},
			subject: accountWithRole("subject", domain.RoleUser),
			newRole: domain.RoleAdmin,
			wantErr: ErrElevationViolation,
		},
		{
			name:    "superadmin bypasses hierarchy",
			actor:   Actor{ID: "actor", Role: domain.RoleSuperAdmin},
			subject: accountWithRole("subject", domain.RoleSuperAdmin),
			newRole: domain.RoleAdmin,
		},
		{
			name:    "superadmin grants superadmin",
			actor:   Actor{ID: "actor", Role: domain.RoleSuperAdmin},
			subject: accountWithRole("subject", domain.RoleUser),
			newRole: domain.RoleSuperAdmin,
		},
		{
			name:    "demo gate wins over hierarchy",
			actor:   Actor{ID: "actor", Role: domain.RoleSuperAdmin, Demo: true},
			subject: accountWithRole("subject", domain.RoleUser),
			newRole: domain.RoleViewer,
			wantErr: ErrDemoRestricted,
		},
		{
			name:    "unknown role rejected",
			actor:   Actor{ID: "actor", Role: domain.RoleSuperAdmin},
			subject: accountWithRole("subject", domain.RoleUser),
			newRole: domain.Role("owner"),
			wantErr: ErrUnknownRole,
		},
		{
			name:    "unknown actor role has no privilege",
			actor:   Actor{ID: "actor", Role: domain.Role("mystery")},
			subject: accountWithRole("subject", domain.RoleViewer),
			newRole: domain.RoleViewer,
			wantErr: ErrHierarchyViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubAccountRepo(tt.subject)
			events := &recordingEventRepo{}
			publisher := &recordingPublisher{}
			svc := newAccountServiceForTest(repo, events, publisher)

			updated, err := svc.UpdateRole(context.Background(), tt.actor, tt.subject.ID, tt.newRole)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if repo.accounts[tt.subject.ID].Role != tt.subject.Role {
					t.Fatal("rejected update must not change the stored role")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if updated.Role != tt.newRole {
				t.Fatalf("expected role %s, got %s", tt.newRole, updated.Role)
			}
			if repo.accounts[tt.subject.ID].Role != tt.newRole {
				t.Fatal("expected stored role to change")
			}
			if events.countKind(domain.EventRoleChanged) != 1 {
				t.Fatalf("expected ROLE_CHANGED event, got kinds %v", events.kinds())
			}
			if len(publisher.roleChanged) != 1 {
				t.Fatalf("expected one role change publication, got %d", len(publisher.roleChanged))
			}
			if publisher.roleChanged[0].ChangedBy != tt.actor.ID {
				t.Fatalf("expected changed_by %s, got %s", tt.actor.ID, publisher.roleChanged[0].ChangedBy)
			}
		})
	}
}

func TestUpdateRoleUnknownSubject(t *testing.T) {
	svc := newAccountServiceForTest(newStubAccountRepo(), &recordingEventRepo{}, &recordingPublisher{})

	_, err := svc.UpdateRole(context.Background(), Actor{ID: "actor", Role: domain.RoleAdmin}, "missing", domain.RoleViewer)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGetHidesTopRoleFromLowerActors(t *testing.T) {
	repo := newStubAccountRepo(accountWithRole("root-1", domain.RoleSuperAdmin))
	svc := newAccountServiceForTest(repo, &recordingEventRepo{}, &recordingPublisher{})

	_, err := svc.Get(context.Background(), Actor{ID: "actor", Role: domain.RoleAdmin}, "root-1")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("hidden account must look missing, got %v", err)
	}

	account, err := svc.Get(context.Background(), Actor{ID: "actor", Role: domain.RoleSuperAdmin}, "root-1")
	if err != nil {
		t.Fatalf("top-role actor should see the account, got %v", err)
	}
	if account.ID != "root-1" {
		t.Fatalf("unexpected account: %+v", account)
	}
}

func TestListExcludesTopRoleForLowerActors(t *testing.T) {
	repo := newStubAccountRepo(
		accountWithRole("root-1", domain.RoleSuperAdmin),
		accountWithRole("admin-1", domain.RoleAdmin),
		accountWithRole("editor-1", domain.RoleEditor),
	)
	svc := newAccountServiceForTest(repo, &recordingEventRepo{}, &recordingPublisher{})

	accounts, total, err := svc.List(context.Background(), Actor{ID: "actor", Role: domain.RoleAdmin}, port.AccountFilter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 2 || len(accounts) != 2 {
		t.Fatalf("expected 2 visible accounts, got %d (total %d)", len(accounts), total)
	}
	for _, account := range accounts {
		if account.Role == domain.RoleSuperAdmin {
			t.Fatal("superadmin account leaked to a lower actor")
		}
	}

	accounts, total, err = svc.List(context.Background(), Actor{ID: "actor", Role: domain.RoleSuperAdmin}, port.AccountFilter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if total != 3 || len(accounts) != 3 {
		t.Fatalf("expected 3 accounts for top actor, got %d (total %d)", len(accounts), total)
	}
}

package domain

import "testing"

func TestLevelOfOrdering(t *testing.T) {
	tests := []struct {
		role  Role
		level int
	}{
		{RoleSuperAdmin, 0},
		{RoleAdmin, 1},
		{RoleEditor, 2},
		{RoleAuthor, 3},
		{RoleInstructor, 4},
		{RoleStudent, 5},
		{RoleUser, 6},
		{RoleViewer, 7},
	}

	for _, tt := range tests {
		if got := LevelOf(tt.role); got != tt.level {
			t.Errorf("LevelOf(%s) = %d, want %d", tt.role, got, tt.level)
		}
	}
}

func TestLevelOfUnknownRoleIsLeastPrivileged(t *testing.T) {
	unknown := LevelOf(Role("owner"))
	if unknown != len(roleHierarchy) {
		t.Fatalf("unknown role level = %d, want %d", unknown, len(roleHierarchy))
	}
	if unknown <= LevelOf(RoleViewer) {
		t.Fatal("unknown role must rank below every known role")
	}
	if IsKnownRole(Role("owner")) {
		t.Fatal("owner must not be a known role")
	}
}

func TestTopRole(t *testing.T) {
	if TopRole() != RoleSuperAdmin {
		t.Fatalf("TopRole() = %s, want superadmin", TopRole())
	}
}

func TestIsHigherOrEqual(t *testing.T) {
	if !IsHigherOrEqual(RoleAdmin, RoleEditor) {
		t.Fatal("admin outranks editor")
	}
	if !IsHigherOrEqual(RoleAdmin, RoleAdmin) {
		t.Fatal("equal roles compare as higher-or-equal")
	}
	if IsHigherOrEqual(RoleViewer, RoleUser) {
		t.Fatal("viewer does not outrank user")
	}
	if IsHigherOrEqual(Role("owner"), RoleViewer) {
		t.Fatal("unknown role must never outrank a known role")
	}
}

func TestRoleHierarchyReturnsCopy(t *testing.T) {
	hierarchy := RoleHierarchy()
	hierarchy[0] = Role("tampered")
	if TopRole() != RoleSuperAdmin {
		t.Fatal("mutating the returned slice must not affect the hierarchy")
	}
}

func TestAccountSanitized(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	tokenHash := "deadbeef"
	account := Account{
		ID:                     "acc-1",
		Email:                  "admin@learnonline.cc",
		PasswordHash:           "argon2id$v=19$...",
		TwoFactorSecret:        &secret,
		RecoveryCodeHashes:     []string{"aaa", "bbb"},
		PasswordResetTokenHash: &tokenHash,
	}

	clean := account.Sanitized()
	if clean.PasswordHash != "" || clean.TwoFactorSecret != nil ||
		clean.RecoveryCodeHashes != nil || clean.PasswordResetTokenHash != nil {
		t.Fatalf("sanitized account leaks credential material: %+v", clean)
	}
	if account.PasswordHash == "" {
		t.Fatal("Sanitized must not mutate the receiver")
	}
}

package domain

// Role identifies a privilege tier on the platform.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleEditor     Role = "editor"
	RoleAuthor     Role = "author"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
	RoleUser       Role = "user"
	RoleViewer     Role = "viewer"
)

// roleHierarchy orders roles from most to least privileged. Privilege
// comparisons must go through LevelOf so that list position, not the role
// tag itself, decides precedence. The order is fixed at compile time.
var roleHierarchy = []Role{
	RoleSuperAdmin,
	RoleAdmin,
	RoleEditor,
	RoleAuthor,
	RoleInstructor,
	RoleStudent,
	RoleUser,
	RoleViewer,
}

// RoleHierarchy returns the ordered privilege list, most privileged first.
func RoleHierarchy() []Role {
	out := make([]Role, len(roleHierarchy))
	copy(out, roleHierarchy)
	return out
}

// TopRole returns the single most privileged role.
func TopRole() Role {
	return roleHierarchy[0]
}

// LevelOf returns the hierarchy index of the role; lower means more
// privileged. Unknown roles map to len(hierarchy), the least privileged
// possible level, so a bad role value can never gain access.
func LevelOf(role Role) int {
	for i, r := range roleHierarchy {
		if r == role {
			return i
		}
	}
	return len(roleHierarchy)
}

// IsKnownRole reports whether the role appears in the hierarchy.
func IsKnownRole(role Role) bool {
	return LevelOf(role) < len(roleHierarchy)
}

// IsHigherOrEqual reports whether role a carries at least the privilege of b.
func IsHigherOrEqual(a, b Role) bool {
	return LevelOf(a) <= LevelOf(b)
}

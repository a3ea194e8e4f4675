package rbac

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var roleAliases = map[string]Role{
	"superadmin": RoleSuperAdmin,
}

var roleRank = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// NormalizeRole maps raw role input ("Super Admin", "SUPER_ADMIN",
// "super-admin") to its canonical token. Unknown roles keep their
// case-folded, underscore-separated form and rank as unprivileged.
func NormalizeRole(raw string) Role {
	folded := cases.Fold().String(strings.TrimSpace(raw))
	parts := strings.FieldsFunc(folded, func(r rune) bool {
		return unicode.IsSpace(r) || r == '_' || r == '-'
	})
	token := strings.Join(parts, "_")
	if alias, ok := roleAliases[token]; ok {
		return alias
	}
	return Role(token)
}

// Rank returns the position of role in the hierarchy; unknown roles rank 0.
func Rank(role Role) int {
	return roleRank[NormalizeRole(string(role))]
}

// IsKnown reports whether role is one of the fixed roles.
func (r Role) IsKnown() bool {
	_, ok := roleRank[NormalizeRole(string(r))]
	return ok
}

// HasMinimumRole reports whether role is at least min in the hierarchy.
// An unknown min is never satisfied by an unknown role.
func HasMinimumRole(role, min Role) bool {
	have := Rank(role)
	return have > 0 && have >= Rank(min)
}

// HasAnyRole reports whether role equals one of roles after normalization.
func HasAnyRole(role Role, roles []Role) bool {
	role = NormalizeRole(string(role))
	for _, r := range roles {
		if NormalizeRole(string(r)) == role {
			return true
		}
	}
	return false
}

// IsAdmin reports admin-or-above; super_admin counts as admin.
func IsAdmin(role Role) bool {
	return HasMinimumRole(role, RoleAdmin)
}

// ParseRoles normalizes a list of raw role strings.
func ParseRoles(raw []string) []Role {
	roles := make([]Role, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r == "" {
			continue
		}
		roles = append(roles, NormalizeRole(r))
	}
	return roles
}

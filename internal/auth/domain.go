package auth

import (
	"github.com/odyssey-commerce/console/internal/rbac"
)

// User represents the signed-in console user.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      rbac.Role `json:"role"`
}

// normalized returns a copy with the role in canonical form.
func (u User) normalized() User {
	u.Role = rbac.NormalizeRole(string(u.Role))
	return u
}

// Tokens are opaque credentials relayed to the API.
type Tokens struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
}

// State enumerates the session lifecycle.
type State int

const (
	StateEmpty State = iota
	StateAuthenticating
	StatePendingPermissions
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAuthenticating:
		return "authenticating"
	case StatePendingPermissions:
		return "pending_permissions"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is an immutable snapshot of the authentication state. The manager
// replaces the whole snapshot on every change, so a reader never observes a
// partially updated session.
type Session struct {
	State             State
	User              *User
	Tokens            Tokens
	IsAuthenticated   bool
	IsLoading         bool
	Err               error
	Permissions       []rbac.Permission
	PermissionsLoaded bool
	// Generation increments on every event that establishes or clears a user.
	Generation uint64
}

// Role returns the user's role, or "" when signed out.
func (s Session) Role() rbac.Role {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}

// IsAdmin reports admin-or-above.
func (s Session) IsAdmin() bool {
	return s.IsAuthenticated && rbac.IsAdmin(s.Role())
}

// IsAuthorized reports whether the user's role is one of roles.
func (s Session) IsAuthorized(roles []rbac.Role) bool {
	return s.IsAuthenticated && rbac.HasAnyRole(s.Role(), roles)
}

// HasPermission checks a raw slug against the loaded permissions.
func (s Session) HasPermission(slug string) bool {
	required, err := rbac.ParseSlug(slug)
	if err != nil {
		return false
	}
	return rbac.HasPermission(s.Permissions, required)
}

// HasAnyPermission checks raw slugs with OR semantics.
func (s Session) HasAnyPermission(slugs []string) bool {
	return rbac.HasAnyPermission(s.Permissions, rbac.ParseSlugs(slugs))
}

// HasAllPermissions checks raw slugs with AND semantics.
func (s Session) HasAllPermissions(slugs []string) bool {
	return rbac.HasAllPermissions(s.Permissions, rbac.ParseSlugs(slugs))
}

// HasResourcePermission checks action on resource, honouring manage grants.
func (s Session) HasResourcePermission(resource, action string) bool {
	return rbac.HasResourcePermission(s.Permissions, resource, action)
}

// emptySession is the signed-out snapshot for generation gen.
func emptySession(gen uint64) *Session {
	return &Session{State: StateEmpty, Generation: gen}
}

// Package guard decides whether a console page may render for the current
// session, and drives the redirects and notifications that follow.
package guard

import (
	"fmt"

	"github.com/odyssey-commerce/console/internal/auth"
	"github.com/odyssey-commerce/console/internal/rbac"
)

// Outcome is the result of evaluating a requirement against a session.
type Outcome int

const (
	Loading Outcome = iota
	Unauthenticated
	Forbidden
	Render
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Render:
		return "render"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	for _, candidate := range []Outcome{Loading, Unauthenticated, Forbidden, Render} {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}
	return fmt.Errorf("guard: unknown outcome %q", text)
}

// Requirement is what a page demands of the session. Permissions take
// precedence over Roles; Roles is the older role-list form.
type Requirement struct {
	Roles       []rbac.Role
	Permissions []string
	RequireAll  bool
}

// PermissionBased reports whether the requirement names permissions.
func (r Requirement) PermissionBased() bool {
	return len(r.Permissions) > 0
}

// Decide is the pure decision rule. It never returns Render for a
// permission-based requirement while permissions are still loading.
func Decide(s auth.Session, req Requirement) Outcome {
	switch {
	case s.IsLoading:
		return Loading
	case req.PermissionBased() && s.IsAuthenticated && !s.PermissionsLoaded:
		return Loading
	case !s.IsAuthenticated:
		return Unauthenticated
	case req.PermissionBased():
		granted := s.HasAnyPermission(req.Permissions)
		if req.RequireAll {
			granted = s.HasAllPermissions(req.Permissions)
		}
		if !granted {
			return Forbidden
		}
	case len(req.Roles) > 0:
		if !s.IsAuthorized(req.Roles) {
			return Forbidden
		}
	}
	return Render
}

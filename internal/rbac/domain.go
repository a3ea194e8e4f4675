package rbac

import (
	"errors"
	"strings"
)

// Role is the coarse, hierarchical access level of a user.
type Role string

// Known roles in ascending order of privilege.
const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ActionManage is the action that grants every action on its resource.
const ActionManage = "manage"

// ActionWildcard is the action of a pattern matching every action on a resource.
const ActionWildcard = "*"

// ErrMalformedSlug is returned when a permission slug is not "<resource>.<action>".
var ErrMalformedSlug = errors.New("rbac: malformed permission slug")

// Permission represents an atomic capability fetched for the current user.
type Permission struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Key returns the structured slug of the permission.
func (p Permission) Key() (Slug, bool) {
	if p.Resource == "" || p.Action == "" {
		return Slug{}, false
	}
	return Slug{Resource: p.Resource, Action: p.Action}, true
}

// Slug is a parsed "<resource>.<action>" permission identifier.
type Slug struct {
	Resource string
	Action   string
}

// ParseSlug splits raw at its last dot. Both halves must be non-empty.
func ParseSlug(raw string) (Slug, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	idx := strings.LastIndexByte(raw, '.')
	if idx <= 0 || idx == len(raw)-1 {
		return Slug{}, ErrMalformedSlug
	}
	return Slug{Resource: raw[:idx], Action: raw[idx+1:]}, nil
}

// MustParseSlug is ParseSlug for compile-time constants.
func MustParseSlug(raw string) Slug {
	s, err := ParseSlug(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Slug) String() string {
	return s.Resource + "." + s.Action
}

// IsWildcard reports whether s is a "<resource>.*" pattern.
func (s Slug) IsWildcard() bool {
	return s.Action == ActionWildcard
}

// Manage returns the resource-wide grant for the resource of s.
func (s Slug) Manage() Slug {
	return Slug{Resource: s.Resource, Action: ActionManage}
}

// NormalizePermission enforces slug == resource + "." + action. The slug wins
// when both are present and disagree. A permission that cannot be made
// consistent is returned with empty Resource and Action so it never matches.
func NormalizePermission(p Permission) Permission {
	if slug, err := ParseSlug(p.Slug); err == nil {
		p.Resource, p.Action = slug.Resource, slug.Action
		p.Slug = slug.String()
		return p
	}
	resource := strings.TrimSpace(strings.ToLower(p.Resource))
	action := strings.TrimSpace(strings.ToLower(p.Action))
	if p.Slug == "" && resource != "" && action != "" {
		if slug, err := ParseSlug(resource + "." + action); err == nil {
			p.Resource, p.Action = slug.Resource, slug.Action
			p.Slug = slug.String()
			return p
		}
	}
	p.Resource, p.Action = "", ""
	return p
}

// NormalizePermissions normalizes a fetched permission list into a new slice.
func NormalizePermissions(perms []Permission) []Permission {
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		out = append(out, NormalizePermission(p))
	}
	return out
}

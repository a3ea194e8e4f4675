package rbac

import "strings"

// MatchesPermission reports whether slug is granted by pattern: exact
// equality, or a "<prefix>.*" pattern whose prefix covers slug.
func MatchesPermission(slug, pattern Slug) bool {
	if slug == pattern {
		return true
	}
	if !pattern.IsWildcard() || pattern.Resource == "" {
		return false
	}
	return strings.HasPrefix(slug.String(), pattern.Resource+".")
}

// Matches is MatchesPermission over raw strings; malformed input never matches.
func Matches(slug, pattern string) bool {
	s, err := ParseSlug(slug)
	if err != nil {
		return false
	}
	p, err := ParseSlug(pattern)
	if err != nil {
		return false
	}
	return MatchesPermission(s, p)
}

// HasPermission reports whether perms grant required, directly, through a
// wildcard pattern, or through a "<resource>.manage" grant.
func HasPermission(perms []Permission, required Slug) bool {
	if required.Resource == "" || required.Action == "" {
		return false
	}
	manage := required.Manage()
	for _, p := range perms {
		granted, ok := p.Key()
		if !ok {
			continue
		}
		if granted == required || granted == manage || MatchesPermission(required, granted) {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether at least one of required is granted.
func HasAnyPermission(perms []Permission, required []Slug) bool {
	for _, r := range required {
		if HasPermission(perms, r) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every required slug is granted. An empty
// requirement is always satisfied.
func HasAllPermissions(perms []Permission, required []Slug) bool {
	for _, r := range required {
		if !HasPermission(perms, r) {
			return false
		}
	}
	return true
}

// HasResourcePermission reports whether perms allow action on resource.
func HasResourcePermission(perms []Permission, resource, action string) bool {
	required, err := ParseSlug(resource + "." + action)
	if err != nil {
		return false
	}
	return HasPermission(perms, required) || HasPermission(perms, required.Manage())
}

// ParseSlugs parses raw slugs, deduplicating them. Malformed entries are
// kept as unsatisfiable requirements so a typo never widens access.
func ParseSlugs(raw []string) []Slug {
	seen := make(map[Slug]struct{}, len(raw))
	out := make([]Slug, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		s, err := ParseSlug(r)
		if err != nil {
			s = Slug{Resource: strings.TrimSpace(r)}
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

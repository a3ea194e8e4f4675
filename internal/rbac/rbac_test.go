package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func perms(slugs ...string) []Permission {
	out := make([]Permission, 0, len(slugs))
	for i, s := range slugs {
		out = append(out, NormalizePermission(Permission{ID: int64(i + 1), Slug: s}))
	}
	return out
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]Role{
		"Super Admin":   RoleSuperAdmin,
		"SUPER_ADMIN":   RoleSuperAdmin,
		"super-admin":   RoleSuperAdmin,
		"  superadmin ": RoleSuperAdmin,
		"ADMIN":         RoleAdmin,
		"admin":         RoleAdmin,
		"User":          RoleUser,
		"Store  Editor": Role("store_editor"),
		"":              Role(""),
	}
	for raw, want := range cases {
		got := NormalizeRole(raw)
		assert.Equal(t, want, got, "normalize %q", raw)
		assert.Equal(t, got, NormalizeRole(string(got)), "idempotent for %q", raw)
	}
}

func TestRankAndMinimumRole(t *testing.T) {
	assert.Equal(t, 0, Rank("editor"))
	assert.Less(t, Rank(RoleUser), Rank(RoleAdmin))
	assert.Less(t, Rank(RoleAdmin), Rank(RoleSuperAdmin))

	assert.True(t, HasMinimumRole(RoleAdmin, RoleUser))
	assert.False(t, HasMinimumRole(RoleAdmin, RoleSuperAdmin))
	assert.True(t, HasMinimumRole(RoleSuperAdmin, RoleSuperAdmin))
	assert.True(t, HasMinimumRole("Super Admin", "admin"))
	assert.False(t, HasMinimumRole("editor", RoleUser))
	assert.False(t, HasMinimumRole("editor", "viewer"))
}

func TestIsAdminIncludesSuperAdmin(t *testing.T) {
	assert.True(t, IsAdmin(RoleAdmin))
	assert.True(t, IsAdmin(RoleSuperAdmin))
	assert.True(t, IsAdmin("ADMIN"))
	assert.False(t, IsAdmin(RoleUser))
	assert.False(t, IsAdmin("editor"))
}

func TestHasAnyRole(t *testing.T) {
	allowed := ParseRoles([]string{"Admin", " ", "SUPER ADMIN"})
	require.Len(t, allowed, 2)
	assert.True(t, HasAnyRole("super_admin", allowed))
	assert.True(t, HasAnyRole("admin", allowed))
	assert.False(t, HasAnyRole("user", allowed))
	assert.False(t, HasAnyRole("admin", nil))
}

func TestParseSlug(t *testing.T) {
	s, err := ParseSlug("Products.Read")
	require.NoError(t, err)
	assert.Equal(t, Slug{Resource: "products", Action: "read"}, s)
	assert.Equal(t, "products.read", s.String())

	s, err = ParseSlug("admin.users.read")
	require.NoError(t, err)
	assert.Equal(t, "admin.users", s.Resource)

	for _, bad := range []string{"", "products", ".read", "products.", "."} {
		_, err := ParseSlug(bad)
		assert.ErrorIs(t, err, ErrMalformedSlug, bad)
	}
}

func TestNormalizePermission(t *testing.T) {
	p := NormalizePermission(Permission{Resource: "Orders", Action: "Capture"})
	assert.Equal(t, "orders.capture", p.Slug)

	p = NormalizePermission(Permission{Slug: "orders.refund", Resource: "carts", Action: "read"})
	assert.Equal(t, "orders", p.Resource)
	assert.Equal(t, "refund", p.Action)

	p = NormalizePermission(Permission{Slug: "broken"})
	_, ok := p.Key()
	assert.False(t, ok)
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("products.read", "products.read"))
	assert.True(t, Matches("products.read", "products.*"))
	assert.False(t, Matches("products.read", "orders.*"))
	assert.False(t, Matches("productsx.read", "products.*"))
	assert.True(t, Matches("admin.users.read", "admin.*"))
	assert.False(t, Matches("products", "products.*"))
	assert.False(t, Matches("products.read", "products"))
}

func TestHasPermission(t *testing.T) {
	read := MustParseSlug("products.read")

	assert.True(t, HasPermission(perms("products.manage"), read))
	assert.True(t, HasPermission(perms("products.read"), read))
	assert.True(t, HasPermission(perms("products.*"), read))
	assert.False(t, HasPermission(nil, read))
	assert.False(t, HasPermission(perms("orders.manage"), read))
	assert.False(t, HasPermission(perms("broken"), read))
	assert.False(t, HasPermission(perms("products.manage"), Slug{Resource: "products"}))
}

func TestHasAnyAndAllPermissions(t *testing.T) {
	granted := perms("products.read", "orders.manage")
	required := []Slug{MustParseSlug("products.read"), MustParseSlug("orders.capture")}

	assert.True(t, HasAllPermissions(granted, required))
	assert.True(t, HasAnyPermission(granted, []Slug{MustParseSlug("carts.read"), MustParseSlug("products.read")}))
	assert.False(t, HasAllPermissions(granted, append(required, MustParseSlug("carts.read"))))
	assert.False(t, HasAnyPermission(granted, nil))

	assert.True(t, HasAllPermissions(nil, nil))
	assert.True(t, HasAllPermissions(granted, []Slug{}))
	assert.False(t, HasAnyPermission(nil, required))
}

func TestHasResourcePermission(t *testing.T) {
	assert.True(t, HasResourcePermission(perms("carts.manage"), "carts", "delete"))
	assert.True(t, HasResourcePermission(perms("carts.delete"), "carts", "delete"))
	assert.False(t, HasResourcePermission(perms("carts.read"), "carts", "delete"))
	assert.False(t, HasResourcePermission(nil, "carts", "read"))
	assert.False(t, HasResourcePermission(perms("carts.manage"), "", "read"))
}

func TestParseSlugsKeepsMalformedUnsatisfiable(t *testing.T) {
	slugs := ParseSlugs([]string{"products.read", "PRODUCTS.READ", "", "typo"})
	require.Len(t, slugs, 2)
	assert.False(t, HasAllPermissions(perms("typo.manage", "products.manage"), slugs))
}

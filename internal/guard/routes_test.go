package guard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-commerce/console/internal/rbac"
	"github.com/odyssey-commerce/console/internal/shared"
)

func TestPermissionsAcceptStringOrList(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte("permissions: orders.read\nrequireAll: true"), &cfg))
	assert.Equal(t, Permissions{"orders.read"}, cfg.Permissions)
	assert.True(t, cfg.RequireAll)

	cfg = Config{}
	require.NoError(t, yaml.Unmarshal([]byte("permissions: [orders.read, ' carts.read ', '']"), &cfg))
	assert.Equal(t, []string{"orders.read", "carts.read"}, cfg.Requirement().Permissions)

	cfg = Config{}
	require.NoError(t, yaml.Unmarshal([]byte("permissions: ''"), &cfg))
	assert.False(t, cfg.Requirement().PermissionBased())

	assert.Error(t, yaml.Unmarshal([]byte("permissions: {orders: read}"), &cfg))

	cfg = Config{}
	require.NoError(t, json.Unmarshal([]byte(`{"permissions":"orders.read","roles":["Admin"],"redirectTo":"/x"}`), &cfg))
	req := cfg.Requirement()
	assert.Equal(t, []string{"orders.read"}, req.Permissions)
	assert.Equal(t, []rbac.Role{rbac.RoleAdmin}, req.Roles)
	assert.Equal(t, "/x", cfg.RedirectTo)

	cfg = Config{}
	require.NoError(t, json.Unmarshal([]byte(`{"permissions":["a.read","b.read"]}`), &cfg))
	assert.Len(t, cfg.Permissions, 2)

	cfg = Config{}
	require.NoError(t, json.Unmarshal([]byte(`{"permissions":null}`), &cfg))
	assert.Nil(t, cfg.Permissions)

	assert.Error(t, json.Unmarshal([]byte(`{"permissions":42}`), &cfg))
}

func TestDefaultRouteTable(t *testing.T) {
	table, err := LoadRoutes("")
	require.NoError(t, err)
	require.NotEmpty(t, table.Routes())

	r, ok := table.Lookup("/products/")
	require.True(t, ok)
	assert.Equal(t, "Products", r.Title)
	assert.Equal(t, Permissions{"products.read"}, r.Guard.Permissions)

	r, ok = table.Lookup("/roles")
	require.True(t, ok)
	assert.True(t, r.Guard.RequireAll)

	_, ok = table.Lookup("/nowhere")
	assert.False(t, ok)

	resources := map[string]bool{}
	for _, scope := range shared.ConsoleScopes() {
		resources[rbac.MustParseSlug(scope).Resource] = true
	}
	for _, route := range table.Routes() {
		for _, slug := range route.Guard.Permissions {
			assert.True(t, resources[rbac.MustParseSlug(slug).Resource], "%s uses unknown resource in %s", route.Path, slug)
		}
	}
}

func TestParseRoutesRejectsInvalidTables(t *testing.T) {
	cases := map[string]string{
		"malformed slug": "routes:\n  - path: /a\n    guard: {permissions: orders}\n",
		"unknown role":   "routes:\n  - path: /a\n    guard: {roles: [owner]}\n",
		"relative path":  "routes:\n  - path: a\n",
		"duplicate":      "routes:\n  - path: /a\n  - path: /a/\n",
		"not yaml":       "routes: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRoutes([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRoutesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	doc := strings.Join([]string{
		"routes:",
		"  - path: /reports",
		"    title: Reports",
		"    guard:",
		"      permissions: reports.*",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	table, err := LoadRoutes(path)
	require.NoError(t, err)
	r, ok := table.Lookup("/reports")
	require.True(t, ok)
	assert.Equal(t, Permissions{"reports.*"}, r.Guard.Permissions)

	_, err = LoadRoutes(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

package guard

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-commerce/console/internal/rbac"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Route is a guarded console page.
type Route struct {
	Path  string `yaml:"path" json:"path"`
	Title string `yaml:"title" json:"title"`
	Guard Config `yaml:"guard" json:"guard"`
}

// Table maps page paths to their guard configuration.
type Table struct {
	routes []Route
	byPath map[string]Route
}

// LoadRoutes reads the route table from file, or the built-in table when
// file is empty.
func LoadRoutes(file string) (*Table, error) {
	if file == "" {
		return ParseRoutes(defaultRoutes)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("guard: read routes: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates a YAML route table.
func ParseRoutes(data []byte) (*Table, error) {
	var doc struct {
		Routes []Route `yaml:"routes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("guard: parse routes: %w", err)
	}
	t := &Table{byPath: make(map[string]Route, len(doc.Routes))}
	var errs []error
	for i, r := range doc.Routes {
		r.Path = normalizePath(r.Path)
		if err := validateRoute(r); err != nil {
			errs = append(errs, fmt.Errorf("route %d: %w", i, err))
			continue
		}
		if _, dup := t.byPath[r.Path]; dup {
			errs = append(errs, fmt.Errorf("route %d: duplicate path %s", i, r.Path))
			continue
		}
		t.byPath[r.Path] = r
		t.routes = append(t.routes, r)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("guard: invalid routes: %w", errors.Join(errs...))
	}
	return t, nil
}

func validateRoute(r Route) error {
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path %q must start with /", r.Path)
	}
	for _, slug := range r.Guard.Permissions.clean() {
		if _, err := rbac.ParseSlug(slug); err != nil {
			return fmt.Errorf("%s: %w", r.Path, err)
		}
	}
	for _, role := range r.Guard.Roles {
		if !rbac.Role(role).IsKnown() {
			return fmt.Errorf("%s: unknown role %q", r.Path, role)
		}
	}
	return nil
}

// Lookup returns the route registered for path.
func (t *Table) Lookup(path string) (Route, bool) {
	r, ok := t.byPath[normalizePath(path)]
	return r, ok
}

// Routes lists the table in declaration order.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

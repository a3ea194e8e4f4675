package guard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-commerce/console/internal/rbac"
)

// Config is the guard configuration attached to a page.
type Config struct {
	Roles          []string    `yaml:"roles" json:"roles,omitempty"`
	Permissions    Permissions `yaml:"permissions" json:"permissions,omitempty"`
	RequireAll     bool        `yaml:"requireAll" json:"requireAll,omitempty"`
	RedirectTo     string      `yaml:"redirectTo" json:"redirectTo,omitempty"`
	LoadingMessage string      `yaml:"loadingMessage" json:"loadingMessage,omitempty"`
}

// Requirement converts the configuration into a decision input.
func (c Config) Requirement() Requirement {
	return Requirement{
		Roles:       rbac.ParseRoles(c.Roles),
		Permissions: c.Permissions.clean(),
		RequireAll:  c.RequireAll,
	}
}

// Permissions accepts either a single slug or a list of slugs.
type Permissions []string

func (p Permissions) clean() []string {
	out := make([]string, 0, len(p))
	for _, slug := range p {
		if slug = strings.TrimSpace(slug); slug != "" {
			out = append(out, slug)
		}
	}
	return out
}

func (p *Permissions) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*p = fromSingle(single)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	default:
		return fmt.Errorf("guard: permissions must be a string or a list (line %d)", node.Line)
	}
}

func (p *Permissions) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*p = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*p = fromSingle(single)
		return nil
	default:
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("guard: permissions must be a string or a list: %w", err)
		}
		*p = list
		return nil
	}
}

func fromSingle(s string) Permissions {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return Permissions{s}
}

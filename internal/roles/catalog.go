// Package roles maps predicate argument positions to semantic roles, such as
// "the called signature" or "the program-point label". The synthesizer uses
// the map to substitute template terms into component predicates by
// position instead of unifying them.
package roles

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Role names the meaning of one argument position.
type Role string

const (
	CallSignature Role = "call_signature"
	CallName      Role = "call_name"
	Label         Role = "label"
	Variable      Role = "variable"
	InMethod      Role = "in_method"
	Argument      Role = "argument"
	ExceptionType Role = "exception_type"
)

// KnownRoles is the closed role vocabulary.
var KnownRoles = []Role{CallSignature, CallName, Label, Variable, InMethod, Argument, ExceptionType}

func isKnown(r Role) bool {
	for _, k := range KnownRoles {
		if k == r {
			return true
		}
	}
	return false
}

// Catalog is the static description the Mapper is built from.
type Catalog struct {
	Predicates []PredicateEntry `yaml:"predicates"`
	Components []ComponentEntry `yaml:"components"`
}

// PredicateEntry lists the role of each argument position of a predicate.
// An empty role marks a position without a role.
type PredicateEntry struct {
	Name  string `yaml:"name"`
	Roles []Role `yaml:"roles"`
}

// ComponentEntry splits a component predicate's positions into the group
// filled from the first element of a pair and the group filled from the
// second.
type ComponentEntry struct {
	Name  string `yaml:"name"`
	Side1 []int  `yaml:"side1"`
	Side2 []int  `yaml:"side2"`
	// RequiresFullContext marks relations that are only sound when every
	// template literal is present in every rule of the candidate.
	RequiresFullContext bool `yaml:"requires_full_context"`
}

//go:embed default_roles.yaml
var defaultCatalogYAML []byte

// DefaultCatalog returns the built-in catalog matching the bundled
// component library.
func DefaultCatalog() Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded role catalog is invalid: %v", err))
	}
	return c
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse role catalog: %w", err)
	}
	return c, nil
}

// LoadCatalog reads a catalog file. An empty path yields DefaultCatalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read role catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

package synth

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"usagesynth/internal/datalog"
	"usagesynth/internal/roles"
)

// DefaultLibraryFile is the file name the bundled library is written under.
const DefaultLibraryFile = "components.dl"

//go:embed components.dl
var defaultLibraryText string

// DefaultLibraryText returns the bundled component library source.
func DefaultLibraryText() string { return defaultLibraryText }

// MaterializeDefaultLibrary writes the bundled library into dir and returns
// its path. An existing identical file is left alone.
func MaterializeDefaultLibrary(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create library dir: %w", err)
	}
	path := filepath.Join(dir, DefaultLibraryFile)
	if data, err := os.ReadFile(path); err == nil && string(data) == defaultLibraryText {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(defaultLibraryText), 0o644); err != nil {
		return "", fmt.Errorf("failed to write component library: %w", err)
	}
	return path, nil
}

// ComponentLiteral is a component relation as it appears in the library,
// paired with its role layout.
type ComponentLiteral struct {
	Component roles.Component
	Literal   datalog.Literal
}

// Library is a parsed component library.
type Library struct {
	// Path is rendered into every candidate as its #include.
	Path       string
	Program    datalog.Program
	Components []ComponentLiteral
}

// LoadLibrary parses the library at path.
func LoadLibrary(path string, mapper *roles.Mapper) (Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Library{}, fmt.Errorf("failed to read component library %s: %w", path, err)
	}
	prog, err := datalog.Parse(string(data))
	if err != nil {
		return Library{}, fmt.Errorf("component library %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Library{}, err
	}
	return NewLibrary(prog, abs, mapper)
}

// NewLibrary discovers the component literals of prog: for each catalog
// component, the head of the first rule defining it. Components the library
// never defines are dropped from the catalog in catalog order.
func NewLibrary(prog datalog.Program, includePath string, mapper *roles.Mapper) (Library, error) {
	lib := Library{Path: includePath, Program: prog}
	for _, comp := range mapper.Components() {
		rules := prog.RulesFor(comp.Name)
		if len(rules) == 0 {
			continue
		}
		head := rules[0].Head
		if head.Arity() != comp.Arity {
			return Library{}, fmt.Errorf("component %s has arity %d in the library but %d in the role catalog", comp.Name, head.Arity(), comp.Arity)
		}
		lib.Components = append(lib.Components, ComponentLiteral{Component: comp, Literal: head})
	}
	if len(lib.Components) == 0 {
		return Library{}, fmt.Errorf("component library defines none of the catalog components")
	}
	return lib, nil
}

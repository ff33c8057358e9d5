package datalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// IncludeResolver inlines #include references. Parsed fragments are cached
// by absolute path and modification time, since every candidate program
// includes the same component library.
type IncludeResolver struct {
	cache *lru.Cache[string, Program]
}

// NewIncludeResolver creates a resolver holding up to size parsed fragments.
func NewIncludeResolver(size int) (*IncludeResolver, error) {
	if size <= 0 {
		size = 32
	}
	c, err := lru.New[string, Program](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create include cache: %w", err)
	}
	return &IncludeResolver{cache: c}, nil
}

// Resolve returns p with every include replaced by the included program's
// contents. Relative include paths are resolved against baseDir. Included
// content precedes p's own, and a predicate declared identically in several
// fragments is kept once.
func (r *IncludeResolver) Resolve(p Program, baseDir string) (Program, error) {
	return r.resolve(p, baseDir, nil)
}

func (r *IncludeResolver) resolve(p Program, baseDir string, stack []string) (Program, error) {
	if len(p.Includes) == 0 {
		return p, nil
	}
	var out Program
	for _, inc := range p.Includes {
		path := inc
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		path = filepath.Clean(path)
		for _, s := range stack {
			if s == path {
				return Program{}, fmt.Errorf("include cycle: %s -> %s", strings.Join(stack, " -> "), path)
			}
		}
		frag, err := r.load(path)
		if err != nil {
			return Program{}, err
		}
		frag, err = r.resolve(frag, filepath.Dir(path), append(stack, path))
		if err != nil {
			return Program{}, err
		}
		if out, err = merge(out, frag); err != nil {
			return Program{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	own := p.WithIncludes(nil)
	merged, err := merge(out, own)
	if err != nil {
		return Program{}, err
	}
	return merged, nil
}

func (r *IncludeResolver) load(path string) (Program, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Program{}, fmt.Errorf("failed to stat include %s: %w", path, err)
	}
	key := fmt.Sprintf("%s@%d", path, info.ModTime().UnixNano())
	if p, ok := r.cache.Get(key); ok {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Program{}, fmt.Errorf("failed to read include %s: %w", path, err)
	}
	p, err := Parse(string(data))
	if err != nil {
		return Program{}, fmt.Errorf("%s: %w", path, err)
	}
	r.cache.Add(key, p)
	return p, nil
}

// merge concatenates b after a. The result never aliases either input.
func merge(a, b Program) (Program, error) {
	var out Program
	out.Directives = append(append([]Directive(nil), a.Directives...), b.Directives...)
	out.Includes = append(append([]string(nil), a.Includes...), b.Includes...)
	out.Decls = append([]Declaration(nil), a.Decls...)
	for _, d := range b.Decls {
		if prev, ok := a.Decl(d.Name); ok {
			if prev.String() != d.String() {
				return Program{}, fmt.Errorf("conflicting declarations for %s: %q vs %q", d.Name, prev.String(), d.String())
			}
			continue
		}
		out.Decls = append(out.Decls, d)
	}
	out.Inputs = appendUnique(a.Inputs, b.Inputs)
	out.Outputs = appendUnique(a.Outputs, b.Outputs)
	out.Rules = append(append([]Rule(nil), a.Rules...), b.Rules...)
	return out, nil
}

func appendUnique(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, s := range b {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

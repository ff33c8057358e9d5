package roles

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// ConflictingRoleMappingError reports a (predicate, position) pair that two
// catalog entries assign different roles to.
type ConflictingRoleMappingError struct {
	Predicate string
	Position  int
	Roles     []Role
}

func (e *ConflictingRoleMappingError) Error() string {
	return fmt.Sprintf("conflicting role mapping for %s[%d]: %s vs %s", e.Predicate, e.Position, e.Roles[0], e.Roles[1])
}

// Side identifies which element of an adjacent pair a component position
// is filled from.
type Side int

const (
	SideNone Side = iota
	SideFirst
	SideSecond
)

// Component is a validated component predicate.
type Component struct {
	Name                string
	Arity               int
	Side1               []int
	Side2               []int
	RequiresFullContext bool
}

// SideOf reports which group pos belongs to.
func (c Component) SideOf(pos int) Side {
	for _, p := range c.Side1 {
		if p == pos {
			return SideFirst
		}
	}
	for _, p := range c.Side2 {
		if p == pos {
			return SideSecond
		}
	}
	return SideNone
}

// Mapper answers role queries in both directions. It is read-only after
// construction and safe for concurrent use.
type Mapper struct {
	roles      map[string][]Role
	positions  map[string]map[Role][]int
	components map[string]Component
	order      []string
}

// NewMapper validates c and builds the bidirectional map. It fails with a
// *ConflictingRoleMappingError when two entries disagree on a position.
func NewMapper(c Catalog) (*Mapper, error) {
	m := &Mapper{
		roles:      make(map[string][]Role),
		positions:  make(map[string]map[Role][]int),
		components: make(map[string]Component),
	}

	for _, e := range c.Predicates {
		if e.Name == "" {
			return nil, fmt.Errorf("role catalog: predicate entry without a name")
		}
		existing := m.roles[e.Name]
		for pos, r := range e.Roles {
			if r != "" && !isKnown(r) {
				return nil, fmt.Errorf("role catalog: %s[%d]: unknown role %q", e.Name, pos, r)
			}
			if pos >= len(existing) {
				existing = append(existing, r)
				continue
			}
			switch {
			case existing[pos] == "":
				existing[pos] = r
			case r != "" && existing[pos] != r:
				return nil, &ConflictingRoleMappingError{Predicate: e.Name, Position: pos, Roles: []Role{existing[pos], r}}
			}
		}
		m.roles[e.Name] = existing
	}

	for pred, rs := range m.roles {
		byRole := make(map[Role][]int)
		for pos, r := range rs {
			if r != "" {
				byRole[r] = append(byRole[r], pos)
			}
		}
		m.positions[pred] = byRole
	}

	for _, e := range c.Components {
		comp, err := m.validateComponent(e)
		if err != nil {
			return nil, err
		}
		if _, dup := m.components[e.Name]; dup {
			return nil, fmt.Errorf("role catalog: component %s listed twice", e.Name)
		}
		m.components[e.Name] = comp
		m.order = append(m.order, e.Name)
	}
	return m, nil
}

func (m *Mapper) validateComponent(e ComponentEntry) (Component, error) {
	rs, ok := m.roles[e.Name]
	if !ok {
		return Component{}, fmt.Errorf("role catalog: component %s has no predicate entry", e.Name)
	}
	seen := make(map[int]bool)
	for _, group := range [][]int{e.Side1, e.Side2} {
		for _, pos := range group {
			if pos < 0 || pos >= len(rs) {
				return Component{}, fmt.Errorf("role catalog: component %s: position %d out of range", e.Name, pos)
			}
			if rs[pos] == "" {
				return Component{}, fmt.Errorf("role catalog: component %s: position %d has no role", e.Name, pos)
			}
			if seen[pos] {
				return Component{}, fmt.Errorf("role catalog: component %s: position %d is on both sides", e.Name, pos)
			}
			seen[pos] = true
		}
	}
	if len(e.Side1) == 0 || len(e.Side2) == 0 {
		return Component{}, fmt.Errorf("role catalog: component %s needs positions on both sides", e.Name)
	}
	return Component{
		Name:                e.Name,
		Arity:               len(rs),
		Side1:               append([]int(nil), e.Side1...),
		Side2:               append([]int(nil), e.Side2...),
		RequiresFullContext: e.RequiresFullContext,
	}, nil
}

// RoleOf returns the role of pred's argument at pos.
func (m *Mapper) RoleOf(pred string, pos int) (Role, bool) {
	rs := m.roles[pred]
	if pos < 0 || pos >= len(rs) || rs[pos] == "" {
		return "", false
	}
	return rs[pos], true
}

// PositionsOf returns the positions of pred carrying role, ascending.
func (m *Mapper) PositionsOf(pred string, role Role) []int {
	return m.positions[pred][role]
}

// HasPredicate reports whether pred has a catalog entry.
func (m *Mapper) HasPredicate(pred string) bool {
	_, ok := m.roles[pred]
	return ok
}

// Arity returns the number of positions described for pred.
func (m *Mapper) Arity(pred string) int { return len(m.roles[pred]) }

// Component looks up a component predicate.
func (m *Mapper) Component(name string) (Component, bool) {
	c, ok := m.components[name]
	return c, ok
}

// IsComponent reports whether pred is a component predicate.
func (m *Mapper) IsComponent(pred string) bool {
	_, ok := m.components[pred]
	return ok
}

// Components returns every component in catalog order.
func (m *Mapper) Components() []Component {
	out := make([]Component, len(m.order))
	for i, name := range m.order {
		out[i] = m.components[name]
	}
	return out
}

// Suggest returns catalog predicates within a small edit distance of name,
// closest first.
func (m *Mapper) Suggest(name string) []string {
	type cand struct {
		name string
		dist int
	}
	limit := len(name)/3 + 1
	var cands []cand
	for pred := range m.roles {
		d := levenshtein.Distance(name, pred, nil)
		if d <= limit && pred != name {
			cands = append(cands, cand{pred, d})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].name < cands[j].name
	})
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.name
	}
	return out
}

// UnknownPredicateError builds the error returned for a predicate missing
// from the catalog, with suggestions when any are close.
func (m *Mapper) UnknownPredicateError(pred string) error {
	if s := m.Suggest(pred); len(s) > 0 {
		return fmt.Errorf("predicate %s has no role mapping (did you mean %s?)", pred, strings.Join(s, ", "))
	}
	return fmt.Errorf("predicate %s has no role mapping", pred)
}

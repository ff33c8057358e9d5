package datalog

import (
	"fmt"
	"strings"
)

// Rule is head :- body. An empty body denotes a fact.
type Rule struct {
	Head Literal
	Body []Literal
}

// NewRule copies body so the rule does not alias the caller's slice.
func NewRule(head Literal, body ...Literal) Rule {
	if len(body) == 0 {
		return Rule{Head: head}
	}
	b := make([]Literal, len(body))
	copy(b, body)
	return Rule{Head: head, Body: b}
}

// IsFact reports whether the rule has no body.
func (r Rule) IsFact() bool { return len(r.Body) == 0 }

func (r Rule) String() string {
	if r.IsFact() {
		return r.Head.String() + "."
	}
	parts := make([]string, len(r.Body))
	for i, l := range r.Body {
		parts[i] = l.String()
	}
	return r.Head.String() + " :- " + strings.Join(parts, ", ") + "."
}

// Equal compares rules structurally, including body order.
func (r Rule) Equal(o Rule) bool {
	if !r.Head.Equal(o.Head) || len(r.Body) != len(o.Body) {
		return false
	}
	for i := range r.Body {
		if !r.Body[i].Equal(o.Body[i]) {
			return false
		}
	}
	return true
}

// UnsafeVariables lists head variables and negated-literal variables that
// no positive body atom binds. A variable equated to a bound variable or a
// constant counts as bound.
func (r Rule) UnsafeVariables() []Variable {
	bound := make(map[Variable]bool)
	for _, l := range r.Body {
		if l.Kind == KindAtom && l.Positive {
			for _, v := range l.Variables() {
				bound[v] = true
			}
		}
	}
	for changed := true; changed; {
		changed = false
		for _, l := range r.Body {
			if l.Kind != KindEq {
				continue
			}
			lv, lok := l.Args[0].(Variable)
			rv, rok := l.Args[1].(Variable)
			lb := !lok || bound[lv]
			rb := !rok || bound[rv]
			if lok && !lb && rb {
				bound[lv], changed = true, true
			}
			if rok && !rb && lb {
				bound[rv], changed = true, true
			}
		}
	}

	var out []Variable
	seen := make(map[Variable]bool)
	check := func(l Literal) {
		for _, v := range l.Variables() {
			if !bound[v] && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	check(r.Head)
	for _, l := range r.Body {
		if !(l.Kind == KindAtom && l.Positive) {
			check(l)
		}
	}
	return out
}

// Type is a declared parameter type.
type Type string

const (
	TypeSymbol Type = "symbol"
	TypeNumber Type = "number"
)

// Param is one typed parameter of a declaration.
type Param struct {
	Name string
	Type Type
}

// Declaration declares a predicate and its parameter types.
type Declaration struct {
	Name   string
	Params []Param
}

// Arity is the number of parameters.
func (d Declaration) Arity() int { return len(d.Params) }

// Types returns the parameter types in order.
func (d Declaration) Types() []Type {
	out := make([]Type, len(d.Params))
	for i, p := range d.Params {
		out[i] = p.Type
	}
	return out
}

func (d Declaration) String() string {
	parts := make([]string, len(d.Params))
	for i, p := range d.Params {
		parts[i] = p.Name + ":" + string(p.Type)
	}
	return fmt.Sprintf(".decl %s(%s)", d.Name, strings.Join(parts, ", "))
}

// Directive is a preprocessor line other than #include.
type Directive struct {
	Name  string
	Value string
}

func (d Directive) String() string {
	return "#" + d.Name + " " + String(d.Value).String()
}

// Program is an immutable Datalog program. Functions in this package never
// modify a Program's slices; derived programs are built with the With*
// methods, which share unchanged slices with the receiver.
type Program struct {
	Directives []Directive
	Includes   []string
	Decls      []Declaration
	Inputs     []string
	Outputs    []string
	Rules      []Rule
}

// WithRules returns a program with the receiver's header and rules.
func (p Program) WithRules(rules []Rule) Program {
	out := p
	out.Rules = rules
	return out
}

// WithIncludes returns a program with includes replaced.
func (p Program) WithIncludes(includes []string) Program {
	out := p
	out.Includes = includes
	return out
}

// Decl returns the declaration named name.
func (p Program) Decl(name string) (Declaration, bool) {
	for _, d := range p.Decls {
		if d.Name == name {
			return d, true
		}
	}
	return Declaration{}, false
}

// RulesFor returns the rules whose head predicate is pred, in order.
func (p Program) RulesFor(pred string) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		if r.Head.Pred == pred {
			out = append(out, r)
		}
	}
	return out
}

// IsInput reports whether pred carries an .input directive.
func (p Program) IsInput(pred string) bool { return contains(p.Inputs, pred) }

// IsOutput reports whether pred carries an .output directive.
func (p Program) IsOutput(pred string) bool { return contains(p.Outputs, pred) }

func (p Program) String() string { return Render(p) }

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

package mangle

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"usagesynth/internal/datalog"
)

// Translation is a program rendered as Mangle source.
type Translation struct {
	Source string
	// Arities of every predicate the program mentions.
	Arities map[string]int
	// Helpers are the projection predicates introduced for negated atoms
	// with anonymous arguments.
	Helpers []string
}

// Translate renders p as Mangle source. Variables get a V_ prefix since
// Mangle requires them to start upper case. A negated atom with anonymous
// arguments is not safe in Mangle, so it is rewritten into the negation
// of a projection:
//
//	!p(X, _)   becomes   !proj_p_0(X)   with   proj_p_0(X) :- p(X, _).
func Translate(p datalog.Program) (Translation, error) {
	tr := &translator{
		arities: make(map[string]int),
		helpers: make(map[string]string),
	}
	for _, d := range p.Decls {
		if err := tr.note(d.Name, d.Arity()); err != nil {
			return Translation{}, err
		}
	}

	var rules []string
	for _, r := range p.Rules {
		text, err := tr.rule(r)
		if err != nil {
			return Translation{}, err
		}
		rules = append(rules, text)
	}

	defined := make(map[string]bool, len(p.Decls))
	var sb strings.Builder
	for _, d := range p.Decls {
		defined[d.Name] = true
		sb.WriteString(declText(d.Name, d.Arity()))
	}
	// Relations used without a declaration still need one in Mangle.
	var undeclared []string
	for name := range tr.arities {
		if !defined[name] && !tr.isHelper(name) {
			undeclared = append(undeclared, name)
		}
	}
	sort.Strings(undeclared)
	for _, name := range undeclared {
		sb.WriteString(declText(name, tr.arities[name]))
	}
	for _, r := range rules {
		sb.WriteString(r)
		sb.WriteByte('\n')
	}
	for _, h := range tr.helperRules {
		sb.WriteString(h)
		sb.WriteByte('\n')
	}

	return Translation{Source: sb.String(), Arities: tr.arities, Helpers: tr.helperNames}, nil
}

type translator struct {
	arities     map[string]int
	helpers     map[string]string
	helperNames []string
	helperRules []string
}

func (tr *translator) note(pred string, arity int) error {
	if prev, ok := tr.arities[pred]; ok && prev != arity {
		return fmt.Errorf("arity mismatch for %s: %d and %d", pred, prev, arity)
	}
	tr.arities[pred] = arity
	return nil
}

func (tr *translator) isHelper(name string) bool {
	for _, h := range tr.helperNames {
		if h == name {
			return true
		}
	}
	return false
}

func (tr *translator) rule(r datalog.Rule) (string, error) {
	if err := tr.note(r.Head.Pred, r.Head.Arity()); err != nil {
		return "", err
	}
	head, err := atomText(r.Head.Pred, r.Head.Args)
	if err != nil {
		return "", err
	}
	if r.IsFact() {
		return head + ".", nil
	}
	// Mangle evaluates premises left to right, so positive atoms go first,
	// then equalities, then the literals that need bound variables.
	var positive, eqs, rest []string
	for _, l := range r.Body {
		text, err := tr.literal(l)
		if err != nil {
			return "", fmt.Errorf("rule %s: %w", r, err)
		}
		switch {
		case l.Kind == datalog.KindAtom && l.Positive:
			positive = append(positive, text)
		case l.Kind == datalog.KindEq:
			eqs = append(eqs, text)
		default:
			rest = append(rest, text)
		}
	}
	body := append(append(positive, eqs...), rest...)
	return head + " :- " + strings.Join(body, ", ") + ".", nil
}

func (tr *translator) literal(l datalog.Literal) (string, error) {
	switch l.Kind {
	case datalog.KindEq, datalog.KindNeq:
		op := " = "
		if l.Kind == datalog.KindNeq {
			op = " != "
		}
		left, err := termText(l.Args[0], false)
		if err != nil {
			return "", err
		}
		right, err := termText(l.Args[1], false)
		if err != nil {
			return "", err
		}
		return left + op + right, nil
	}

	if err := tr.note(l.Pred, l.Arity()); err != nil {
		return "", err
	}
	if l.Positive {
		return atomText(l.Pred, l.Args)
	}
	if !hasAnonymous(l.Args) {
		text, err := atomText(l.Pred, l.Args)
		return "!" + text, err
	}

	vars := l.Variables()
	projArgs := make([]datalog.Term, len(vars))
	for i, v := range vars {
		projArgs[i] = v
	}
	name, err := tr.projection(l)
	if err != nil {
		return "", err
	}
	text, err := atomText(name, projArgs)
	return "!" + text, err
}

// projection returns the helper predicate projecting l onto its named
// variables, defining it on first use.
func (tr *translator) projection(l datalog.Literal) (string, error) {
	pos := datalog.Atom(l.Pred, l.Args...)
	key := pos.String()
	if name, ok := tr.helpers[key]; ok {
		return name, nil
	}
	name := fmt.Sprintf("proj_%s_%d", l.Pred, len(tr.helperNames))
	vars := l.Variables()
	headArgs := make([]datalog.Term, len(vars))
	for i, v := range vars {
		headArgs[i] = v
	}
	head, err := atomText(name, headArgs)
	if err != nil {
		return "", err
	}
	body, err := atomText(pos.Pred, pos.Args)
	if err != nil {
		return "", err
	}
	tr.helpers[key] = name
	tr.helperNames = append(tr.helperNames, name)
	tr.helperRules = append(tr.helperRules, head+" :- "+body+".")
	tr.arities[name] = len(vars)
	return name, nil
}

func hasAnonymous(args []datalog.Term) bool {
	for _, a := range args {
		if v, ok := a.(datalog.Variable); ok && v.IsAnonymous() {
			return true
		}
	}
	return false
}

func declText(name string, arity int) string {
	args := make([]string, arity)
	for i := range args {
		args[i] = "X" + strconv.Itoa(i)
	}
	return "Decl " + name + "(" + strings.Join(args, ", ") + ").\n"
}

func atomText(pred string, args []datalog.Term) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		text, err := termText(a, true)
		if err != nil {
			return "", err
		}
		parts[i] = text
	}
	return pred + "(" + strings.Join(parts, ", ") + ")", nil
}

func termText(t datalog.Term, allowAnonymous bool) (string, error) {
	switch v := t.(type) {
	case datalog.Variable:
		if v.IsAnonymous() {
			if !allowAnonymous {
				return "", fmt.Errorf("anonymous variable in comparison")
			}
			return "_", nil
		}
		return "V_" + string(v), nil
	case datalog.String:
		return v.String(), nil
	case datalog.Number:
		return v.String(), nil
	}
	return "", fmt.Errorf("unsupported term %T", t)
}

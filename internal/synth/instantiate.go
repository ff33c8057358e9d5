package synth

import (
	"fmt"

	"usagesynth/internal/datalog"
	"usagesynth/internal/roles"
)

// Instantiation is one component literal bound to an adjacent element pair.
type Instantiation struct {
	Component roles.Component
	// Pair is the index of the pair's first element in the template.
	Pair int
	// Literal is the positive instantiated literal.
	Literal datalog.Literal
	// Negated is the complement of Literal with its fresh variables
	// replaced by the anonymous variable, so it stays safe in a rule body.
	Negated datalog.Literal
}

// Instantiate substitutes the terms of e1 and e2 into the component literal
// by role. A position on the first side takes e1's term of the same role, a
// position on the second side takes e2's. Unmatched positions get fresh
// variables local to this pair. The result is not applicable, and ok is
// false, only when no position matches on either side.
func (en *Enumerator) Instantiate(cl ComponentLiteral, e1, e2 datalog.Literal, pair int) (inst Instantiation, ok bool) {
	comp := cl.Component
	args := make([]datalog.Term, len(cl.Literal.Args))
	negArgs := make([]datalog.Term, len(cl.Literal.Args))
	var matched1, matched2 bool

	for pos, orig := range cl.Literal.Args {
		side := comp.SideOf(pos)
		if side != roles.SideNone {
			elem := e1
			if side == roles.SideSecond {
				elem = e2
			}
			if term, found := en.termForRole(comp.Name, pos, elem); found {
				args[pos], negArgs[pos] = term, term
				if side == roles.SideFirst {
					matched1 = true
				} else {
					matched2 = true
				}
				continue
			}
		}
		if datalog.IsConstant(orig) {
			args[pos], negArgs[pos] = orig, orig
			continue
		}
		args[pos] = freshVariable(orig, comp.Name, pair)
		negArgs[pos] = datalog.Anonymous
	}
	if !matched1 && !matched2 {
		return Instantiation{}, false
	}

	lit := datalog.Atom(comp.Name, args...)
	return Instantiation{
		Component: comp,
		Pair:      pair,
		Literal:   lit,
		Negated:   datalog.NegatedAtom(comp.Name, negArgs...),
	}, true
}

// termForRole finds the element term carrying the role of the component's
// argument at pos. When the element has several positions with that role
// the first one wins.
func (en *Enumerator) termForRole(compName string, pos int, elem datalog.Literal) (datalog.Term, bool) {
	role, ok := en.mapper.RoleOf(compName, pos)
	if !ok {
		return nil, false
	}
	positions := en.mapper.PositionsOf(elem.Pred, role)
	if len(positions) == 0 || positions[0] >= elem.Arity() {
		return nil, false
	}
	return elem.Args[positions[0]], true
}

func freshVariable(orig datalog.Term, comp string, pair int) datalog.Term {
	v, ok := orig.(datalog.Variable)
	if !ok || v.IsAnonymous() {
		return datalog.Anonymous
	}
	return datalog.Variable(fmt.Sprintf("%s_%s_%d", v, comp, pair))
}

// samePoint reports whether two elements denote the same program point:
// both expose label and in_method terms and those terms are equal.
func (en *Enumerator) samePoint(a, b datalog.Literal) bool {
	la, okA := en.roleTerm(a, roles.Label)
	lb, okB := en.roleTerm(b, roles.Label)
	if !okA || !okB || !concreteEqual(la, lb) {
		return false
	}
	ma, okA := en.roleTerm(a, roles.InMethod)
	mb, okB := en.roleTerm(b, roles.InMethod)
	return okA && okB && concreteEqual(ma, mb)
}

func (en *Enumerator) roleTerm(l datalog.Literal, role roles.Role) (datalog.Term, bool) {
	positions := en.mapper.PositionsOf(l.Pred, role)
	if len(positions) == 0 || positions[0] >= l.Arity() {
		return nil, false
	}
	return l.Args[positions[0]], true
}

func concreteEqual(a, b datalog.Term) bool {
	if v, ok := a.(datalog.Variable); ok && v.IsAnonymous() {
		return false
	}
	return datalog.TermsEqual(a, b)
}

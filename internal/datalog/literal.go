package datalog

import "strings"

// LiteralKind distinguishes relational atoms from (non-)unification.
type LiteralKind int

const (
	// KindAtom is pred(args...), possibly negated.
	KindAtom LiteralKind = iota
	// KindEq is a = b.
	KindEq
	// KindNeq is a != b.
	KindNeq
)

// Literal is a predicate application or a (non-)unification constraint.
// Values are immutable: constructors copy their argument slices and no
// method writes to Args.
type Literal struct {
	Kind     LiteralKind
	Pred     string
	Args     []Term
	Positive bool
}

// Atom builds a positive atom.
func Atom(pred string, args ...Term) Literal {
	return Literal{Kind: KindAtom, Pred: pred, Args: copyTerms(args), Positive: true}
}

// NegatedAtom builds !pred(args...).
func NegatedAtom(pred string, args ...Term) Literal {
	return Literal{Kind: KindAtom, Pred: pred, Args: copyTerms(args), Positive: false}
}

// Eq builds l = r.
func Eq(l, r Term) Literal {
	return Literal{Kind: KindEq, Args: []Term{l, r}, Positive: true}
}

// Neq builds l != r.
func Neq(l, r Term) Literal {
	return Literal{Kind: KindNeq, Args: []Term{l, r}, Positive: true}
}

// Arity is the number of arguments.
func (l Literal) Arity() int { return len(l.Args) }

// IsAtom reports whether l is a relational atom.
func (l Literal) IsAtom() bool { return l.Kind == KindAtom }

// Negate returns the complement of l. Atoms flip polarity; = and != swap.
func (l Literal) Negate() Literal {
	out := Literal{Kind: l.Kind, Pred: l.Pred, Args: l.Args, Positive: l.Positive}
	switch l.Kind {
	case KindAtom:
		out.Positive = !l.Positive
	case KindEq:
		out.Kind = KindNeq
	case KindNeq:
		out.Kind = KindEq
	}
	return out
}

// WithArgs returns a copy of l carrying args.
func (l Literal) WithArgs(args []Term) Literal {
	out := l
	out.Args = copyTerms(args)
	return out
}

// Equal compares two literals structurally.
func (l Literal) Equal(o Literal) bool {
	if l.Kind != o.Kind || l.Pred != o.Pred || l.Positive != o.Positive || len(l.Args) != len(o.Args) {
		return false
	}
	for i := range l.Args {
		if !TermsEqual(l.Args[i], o.Args[i]) {
			return false
		}
	}
	return true
}

// Variables returns the named (non-anonymous) variables of l in order of
// first occurrence.
func (l Literal) Variables() []Variable {
	var out []Variable
	seen := make(map[Variable]bool)
	for _, a := range l.Args {
		v, ok := a.(Variable)
		if !ok || v.IsAnonymous() || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (l Literal) String() string {
	switch l.Kind {
	case KindEq:
		return l.Args[0].String() + " = " + l.Args[1].String()
	case KindNeq:
		return l.Args[0].String() + " != " + l.Args[1].String()
	}
	var sb strings.Builder
	if !l.Positive {
		sb.WriteByte('!')
	}
	sb.WriteString(l.Pred)
	sb.WriteByte('(')
	for i, a := range l.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

func copyTerms(in []Term) []Term {
	if in == nil {
		return nil
	}
	out := make([]Term, len(in))
	copy(out, in)
	return out
}

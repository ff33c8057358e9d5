package synth

import (
	"usagesynth/internal/datalog"
)

const (
	// CorrectUsage is the relation a detector derives for correct uses.
	CorrectUsage = "correct_usage"
	// IncorrectUsage is the relation a detector derives for misuses.
	IncorrectUsage = "incorrect_usage"
)

var usageParams = []datalog.Param{
	{Name: "sig", Type: datalog.TypeSymbol},
	{Name: "label", Type: datalog.TypeNumber},
	{Name: "var", Type: datalog.TypeSymbol},
	{Name: "meth", Type: datalog.TypeSymbol},
}

// UsageDeclarations are the fixed declarations of every candidate.
func UsageDeclarations() []datalog.Declaration {
	return []datalog.Declaration{
		{Name: CorrectUsage, Params: usageParams},
		{Name: IncorrectUsage, Params: usageParams},
	}
}

// Candidate is one enumerated detector program.
type Candidate struct {
	// Index is the position in first-produced order after deduplication.
	Index    int
	Template string
	Program  datalog.Program
	// Chosen are the component instantiations in the correct_usage rule.
	Chosen []Instantiation
	key    string
}

// Key identifies the candidate's rule set.
func (c Candidate) Key() string {
	if c.key == "" {
		return datalog.CanonicalKey(c.Program)
	}
	return c.key
}

// Text renders the candidate.
func (c Candidate) Text() string { return datalog.Render(c.Program) }

// CountComponentLiterals counts the component literals in the body of the
// first correct_usage rule of p. It returns -1 when p has no such rule.
func CountComponentLiterals(p datalog.Program, isComponent func(pred string) bool) int {
	rules := p.RulesFor(CorrectUsage)
	if len(rules) == 0 {
		return -1
	}
	n := 0
	for _, l := range rules[0].Body {
		if l.IsAtom() && isComponent(l.Pred) {
			n++
		}
	}
	return n
}

// buildRules assembles the rule families for one chosen set:
//
//	correct_usage(T) :- target, chosen..., others...
//	incorrect_usage(T) :- target, !chosen_i, others...     (one per chosen)
//	incorrect_usage(T) :- target, !anon(other_j)           (one per other)
//
// The last family is omitted when a chosen component requires the full
// template context.
func buildRules(t Template, chosen []Instantiation) []datalog.Rule {
	target := t.TargetLiteral()
	others := t.Others()
	correctHead := datalog.Atom(CorrectUsage, target.Args...)
	incorrectHead := datalog.Atom(IncorrectUsage, target.Args...)

	rules := make([]datalog.Rule, 0, 1+len(chosen)+len(others))

	body := make([]datalog.Literal, 0, 1+len(chosen)+len(others))
	body = append(body, target)
	for _, c := range chosen {
		body = append(body, c.Literal)
	}
	body = append(body, others...)
	rules = append(rules, datalog.NewRule(correctHead, body...))

	fullContext := false
	for _, c := range chosen {
		b := make([]datalog.Literal, 0, 2+len(others))
		b = append(b, target, c.Negated)
		b = append(b, others...)
		rules = append(rules, datalog.NewRule(incorrectHead, b...))
		if c.Component.RequiresFullContext {
			fullContext = true
		}
	}

	if !fullContext {
		for _, o := range others {
			rules = append(rules, datalog.NewRule(incorrectHead, target, anonymize(o).Negate()))
		}
	}
	return rules
}

// anonymize replaces every variable of l with the anonymous variable and
// keeps constants.
func anonymize(l datalog.Literal) datalog.Literal {
	args := make([]datalog.Term, len(l.Args))
	for i, a := range l.Args {
		if datalog.IsConstant(a) {
			args[i] = a
		} else {
			args[i] = datalog.Anonymous
		}
	}
	return l.WithArgs(args)
}

package datalog

import (
	"sort"
	"strings"
)

// Render produces program text. Sections appear in a fixed order:
// directives, includes, declarations, inputs, outputs, rules. Within a
// section the program's own order is kept, so parse(Render(p)) equals p for
// any p produced by Parse.
func Render(p Program) string {
	var sb strings.Builder
	section := func(lines []string) {
		if len(lines) == 0 {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}

	var head []string
	for _, d := range p.Directives {
		head = append(head, d.String())
	}
	for _, inc := range p.Includes {
		head = append(head, "#include "+String(inc).String())
	}
	section(head)

	var decls []string
	for _, d := range p.Decls {
		decls = append(decls, d.String())
	}
	for _, in := range p.Inputs {
		decls = append(decls, ".input "+in)
	}
	for _, out := range p.Outputs {
		decls = append(decls, ".output "+out)
	}
	section(decls)

	rules := make([]string, len(p.Rules))
	for i, r := range p.Rules {
		rules[i] = r.String()
	}
	section(rules)
	return sb.String()
}

// CanonicalKey identifies a program up to rule order and duplicate rules.
// Two programs with the same header and the same rule set share a key.
func CanonicalKey(p Program) string {
	header := Render(p.WithRules(nil))
	seen := make(map[string]bool, len(p.Rules))
	rules := make([]string, 0, len(p.Rules))
	for _, r := range p.Rules {
		s := r.String()
		if !seen[s] {
			seen[s] = true
			rules = append(rules, s)
		}
	}
	sort.Strings(rules)
	return header + "\x00" + strings.Join(rules, "\n")
}

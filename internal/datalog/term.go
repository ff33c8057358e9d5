// Package datalog models the Soufflé-style Datalog dialect that detector
// programs are written in. It parses program text into immutable values and
// renders them back deterministically, so the text handed to an evaluation
// engine is always byte-identical for structurally equal programs.
package datalog

import (
	"strconv"
	"strings"
)

// Term is one argument of a literal: a String or Number constant, or a
// Variable scoped to the enclosing rule.
type Term interface {
	isTerm()
	String() string
}

// String is a symbol constant. Its String method returns the quoted form.
type String string

// Number is an integer constant.
type Number int64

// Variable is a rule-scoped variable name.
type Variable string

// Anonymous is the wildcard variable. Every occurrence is distinct.
const Anonymous Variable = "_"

func (String) isTerm()   {}
func (Number) isTerm()   {}
func (Variable) isTerm() {}

func (s String) String() string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for _, r := range string(s) {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func (n Number) String() string { return strconv.FormatInt(int64(n), 10) }

func (v Variable) String() string { return string(v) }

// IsAnonymous reports whether v is the wildcard.
func (v Variable) IsAnonymous() bool { return v == Anonymous }

// IsConstant reports whether t is a String or Number.
func IsConstant(t Term) bool {
	switch t.(type) {
	case String, Number:
		return true
	}
	return false
}

// TermsEqual compares terms by value for constants and by name for variables.
func TermsEqual(a, b Term) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

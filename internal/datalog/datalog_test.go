package datalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProgram = `
// usage detector
#include "components.dl"
#pragma "legacy"

.decl correct_usage(sig:symbol, label:number, var:symbol, meth:symbol)
.decl incorrect_usage(sig:symbol, label:number, var:symbol, meth:symbol)
.output correct_usage
.output incorrect_usage

correct_usage("java.io.DataOutputStream.writeLong", L, V, M) :-
    call("java.io.DataOutputStream.writeLong", L, V, M),
    must_call_followed_before_exit("java.io.DataOutputStream.writeLong", V, L, M, "java.io.DataOutputStream.flush", V).
incorrect_usage("java.io.DataOutputStream.writeLong", L, V, M) :-
    call("java.io.DataOutputStream.writeLong", L, V, M),
    !must_call_followed_before_exit("java.io.DataOutputStream.writeLong", V, L, M, "java.io.DataOutputStream.flush", V).
edge(1, -2).
p(X) :- q(X, Y), X != Y, Y = 3, !r(_, "a \"quoted\" \\ value").
`

func TestParseStructure(t *testing.T) {
	p, err := Parse(sampleProgram)
	require.NoError(t, err)

	assert.Equal(t, []string{"components.dl"}, p.Includes)
	assert.Equal(t, []Directive{{Name: "pragma", Value: "legacy"}}, p.Directives)
	require.Len(t, p.Decls, 2)
	assert.Equal(t, []Type{TypeSymbol, TypeNumber, TypeSymbol, TypeSymbol}, p.Decls[0].Types())
	assert.Equal(t, []string{"correct_usage", "incorrect_usage"}, p.Outputs)
	assert.Empty(t, p.Inputs)
	require.Len(t, p.Rules, 4)

	neg := p.Rules[1].Body[1]
	assert.False(t, neg.Positive)
	assert.Equal(t, "must_call_followed_before_exit", neg.Pred)

	fact := p.Rules[2]
	assert.True(t, fact.IsFact())
	assert.Equal(t, []Term{Number(1), Number(-2)}, fact.Head.Args)

	last := p.Rules[3]
	assert.Equal(t, KindNeq, last.Body[1].Kind)
	assert.Equal(t, KindEq, last.Body[2].Kind)
	assert.Equal(t, String(`a "quoted" \ value`), last.Body[3].Args[1])
	assert.Equal(t, Anonymous, last.Body[3].Args[0])
}

func TestRoundTrip(t *testing.T) {
	p, err := Parse(sampleProgram)
	require.NoError(t, err)

	text := Render(p)
	again, err := Parse(text)
	require.NoError(t, err)

	if diff := cmp.Diff(p, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, text, Render(again), "render must be deterministic")
}

func TestRoundTripConstructedProgram(t *testing.T) {
	call := Atom("call", String("A.open"), Variable("L"), Variable("V"), Variable("M"))
	p := Program{
		Decls:   []Declaration{{Name: "out", Params: []Param{{"x", TypeSymbol}, {"n", TypeNumber}}}},
		Inputs:  []string{"call"},
		Outputs: []string{"out"},
		Rules: []Rule{
			NewRule(Atom("out", Variable("V"), Variable("L")), call, call.Negate().WithArgs([]Term{String("B"), Anonymous, Variable("V"), Variable("M")})),
			NewRule(Atom("out", String("tab\there"), Number(0))),
		},
	}
	got, err := Parse(Render(p))
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderLayout(t *testing.T) {
	p := Program{
		Includes: []string{"lib.dl"},
		Decls:    []Declaration{{Name: "q", Params: []Param{{"a", TypeSymbol}}}},
		Outputs:  []string{"q"},
		Rules:    []Rule{NewRule(Atom("q", Variable("X")), Atom("p", Variable("X")), Neq(Variable("X"), String("z")))},
	}
	want := `#include "lib.dl"

.decl q(a:symbol)
.output q

q(X) :- p(X), X != "z".
`
	assert.Equal(t, want, Render(p))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
		col  int
	}{
		{"missing period", "p(X) :- q(X)", 1, 13},
		{"bad head", "!p(X) :- q(X).", 1, 1},
		{"unterminated string", "p(\"abc).", 1, 3},
		{"unknown type", ".decl p(x:float)", 1, 11},
		{"stray token", "p(X) :- q(X) r(X).", 1, 14},
		{"second line", "p(1).\nq(,).", 2, 3},
		{"float", "p(1.5).", 1, 3},
		{"unterminated comment", "/* never closed", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)
			var se *SyntaxError
			require.True(t, errors.As(err, &se), "want SyntaxError, got %T", err)
			assert.Equal(t, tt.line, se.Line)
			assert.Equal(t, tt.col, se.Column)
		})
	}
}

func TestParseAcceptsUndeclaredPredicates(t *testing.T) {
	p, err := Parse("out(X) :- mystery(X).")
	require.NoError(t, err)
	assert.Len(t, p.Rules, 1)
}

func TestParseLiteral(t *testing.T) {
	l, err := ParseLiteral(`call("a.B.c", L, V, M)`)
	require.NoError(t, err)
	assert.Equal(t, Atom("call", String("a.B.c"), Variable("L"), Variable("V"), Variable("M")), l)

	l, err = ParseLiteral(`X != 3`)
	require.NoError(t, err)
	assert.Equal(t, Neq(Variable("X"), Number(3)), l)

	_, err = ParseLiteral(`call(X) extra`)
	assert.Error(t, err)
}

func TestNegate(t *testing.T) {
	a := Atom("p", Variable("X"))
	assert.False(t, a.Negate().Positive)
	assert.True(t, a.Negate().Negate().Equal(a))
	assert.Equal(t, KindNeq, Eq(Variable("X"), Number(1)).Negate().Kind)
	assert.True(t, a.Positive, "negate must not modify the receiver")
}

func TestUnsafeVariables(t *testing.T) {
	tests := []struct {
		rule string
		want []Variable
	}{
		{"p(X) :- q(X).", nil},
		{"p(X, Y) :- q(X).", []Variable{"Y"}},
		{"p(X) :- q(X), !r(X, Z).", []Variable{"Z"}},
		{"p(X) :- q(X), !r(X, _).", nil},
		{"p(Y) :- q(X), Y = X.", nil},
		{"p(Y) :- Y = 3.", nil},
		{"p(Y) :- q(X), X != Y.", []Variable{"Y"}},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			r, err := ParseRule(tt.rule)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.UnsafeVariables())
		})
	}
}

func TestCanonicalKeyIgnoresRuleOrder(t *testing.T) {
	a, err := Parse("p(1).\nq(2).\n")
	require.NoError(t, err)
	b, err := Parse("q(2).\np(1).\np(1).\n")
	require.NoError(t, err)
	c, err := Parse("q(2).\n")
	require.NoError(t, err)

	assert.Equal(t, CanonicalKey(a), CanonicalKey(b))
	assert.NotEqual(t, CanonicalKey(a), CanonicalKey(c))
}

func TestIncludeResolver(t *testing.T) {
	dir := t.TempDir()
	lib := `.decl call(sig:symbol, label:number, var:symbol, meth:symbol)
.input call
.decl used(sig:symbol)
used(S) :- call(S, _, _, _).
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.dl"), []byte(lib), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "outer.dl"), []byte("#include \"../lib.dl\"\n.decl call(sig:symbol, label:number, var:symbol, meth:symbol)\n"), 0o644))

	main, err := Parse(`#include "nested/outer.dl"
.decl out(sig:symbol)
.output out
out(S) :- used(S).
`)
	require.NoError(t, err)

	r, err := NewIncludeResolver(4)
	require.NoError(t, err)
	got, err := r.Resolve(main, dir)
	require.NoError(t, err)

	assert.Empty(t, got.Includes)
	names := make([]string, len(got.Decls))
	for i, d := range got.Decls {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"call", "used", "out"}, names)
	assert.Equal(t, []string{"call"}, got.Inputs)
	require.Len(t, got.Rules, 2)
	assert.Equal(t, "used", got.Rules[0].Head.Pred)

	again, err := r.Resolve(main, dir)
	require.NoError(t, err)
	assert.Equal(t, Render(got), Render(again))
	assert.Len(t, main.Includes, 1, "resolve must not modify its input")
}

func TestIncludeResolverErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dl"), []byte(`#include "b.dl"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.dl"), []byte(`#include "a.dl"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.dl"), []byte(`.decl p(x:symbol)`), 0o644))

	r, err := NewIncludeResolver(0)
	require.NoError(t, err)

	_, err = r.Resolve(Program{Includes: []string{"a.dl"}}, dir)
	assert.ErrorContains(t, err, "include cycle")

	_, err = r.Resolve(Program{Includes: []string{"missing.dl"}}, dir)
	assert.Error(t, err)

	_, err = r.Resolve(Program{Includes: []string{"c.dl"}, Decls: []Declaration{{Name: "p", Params: []Param{{"x", TypeNumber}}}}}, dir)
	assert.ErrorContains(t, err, "conflicting declarations")
}

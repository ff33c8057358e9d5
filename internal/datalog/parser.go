package datalog

import (
	"strconv"
)

// Parse reads program text. Only structural grammar is checked: references
// to undeclared predicates are accepted.
func Parse(text string) (Program, error) {
	p := &parser{lx: newLexer(text)}
	if err := p.advance(); err != nil {
		return Program{}, err
	}
	var prog Program
	for p.tok.kind != tokEOF {
		switch p.tok.kind {
		case tokHash:
			if err := p.parseDirective(&prog); err != nil {
				return Program{}, err
			}
		case tokDotKeyword:
			if err := p.parseDotDirective(&prog); err != nil {
				return Program{}, err
			}
		default:
			r, err := p.parseRule()
			if err != nil {
				return Program{}, err
			}
			prog.Rules = append(prog.Rules, r)
		}
	}
	return prog, nil
}

// ParseRule parses a single rule such as "p(X) :- q(X).".
func ParseRule(text string) (Rule, error) {
	prog, err := Parse(text)
	if err != nil {
		return Rule{}, err
	}
	if len(prog.Rules) != 1 || len(prog.Decls)+len(prog.Inputs)+len(prog.Outputs)+len(prog.Includes)+len(prog.Directives) != 0 {
		return Rule{}, &SyntaxError{Line: 1, Column: 1, Message: "expected exactly one rule"}
	}
	return prog.Rules[0], nil
}

// ParseLiteral parses one literal without a trailing period.
func ParseLiteral(text string) (Literal, error) {
	p := &parser{lx: newLexer(text)}
	if err := p.advance(); err != nil {
		return Literal{}, err
	}
	l, err := p.parseLiteral()
	if err != nil {
		return Literal{}, err
	}
	if p.tok.kind != tokEOF {
		return Literal{}, p.unexpected("end of input")
	}
	return l, nil
}

type parser struct {
	lx  *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) unexpected(want string) error {
	got := p.tok.kind.String()
	if p.tok.text != "" && p.tok.kind != tokString {
		got += " " + strconv.Quote(p.tok.text)
	}
	return &SyntaxError{Line: p.tok.line, Column: p.tok.col, Message: "expected " + want + ", found " + got}
}

func (p *parser) expect(kind tokenKind) (token, error) {
	if p.tok.kind != kind {
		return token{}, p.unexpected(kind.String())
	}
	t := p.tok
	return t, p.advance()
}

func (p *parser) parseDirective(prog *Program) error {
	if err := p.advance(); err != nil {
		return err
	}
	name, err := p.expect(tokIdent)
	if err != nil {
		return err
	}
	val, err := p.expect(tokString)
	if err != nil {
		return err
	}
	if name.text == "include" {
		prog.Includes = append(prog.Includes, val.text)
		return nil
	}
	prog.Directives = append(prog.Directives, Directive{Name: name.text, Value: val.text})
	return nil
}

func (p *parser) parseDotDirective(prog *Program) error {
	kw := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}
	name, err := p.expect(tokIdent)
	if err != nil {
		return err
	}
	switch kw {
	case "input":
		prog.Inputs = append(prog.Inputs, name.text)
		return nil
	case "output":
		prog.Outputs = append(prog.Outputs, name.text)
		return nil
	}

	decl := Declaration{Name: name.text}
	if _, err := p.expect(tokLParen); err != nil {
		return err
	}
	for p.tok.kind != tokRParen {
		if len(decl.Params) > 0 {
			if _, err := p.expect(tokComma); err != nil {
				return err
			}
		}
		pname, err := p.expect(tokIdent)
		if err != nil {
			return err
		}
		if _, err := p.expect(tokColon); err != nil {
			return err
		}
		ptype, err := p.expect(tokIdent)
		if err != nil {
			return err
		}
		switch Type(ptype.text) {
		case TypeSymbol, TypeNumber:
		default:
			return &SyntaxError{Line: ptype.line, Column: ptype.col, Message: "unknown type " + strconv.Quote(ptype.text)}
		}
		decl.Params = append(decl.Params, Param{Name: pname.text, Type: Type(ptype.text)})
	}
	if err := p.advance(); err != nil {
		return err
	}
	prog.Decls = append(prog.Decls, decl)
	return nil
}

func (p *parser) parseRule() (Rule, error) {
	start := p.tok
	head, err := p.parseLiteral()
	if err != nil {
		return Rule{}, err
	}
	if head.Kind != KindAtom || !head.Positive {
		return Rule{}, &SyntaxError{Line: start.line, Column: start.col, Message: "rule head must be a positive atom"}
	}
	r := Rule{Head: head}
	if p.tok.kind == tokImplies {
		if err := p.advance(); err != nil {
			return Rule{}, err
		}
		for {
			l, err := p.parseLiteral()
			if err != nil {
				return Rule{}, err
			}
			r.Body = append(r.Body, l)
			if p.tok.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return Rule{}, err
			}
		}
	}
	if _, err := p.expect(tokDot); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (p *parser) parseLiteral() (Literal, error) {
	if p.tok.kind == tokBang {
		if err := p.advance(); err != nil {
			return Literal{}, err
		}
		if p.tok.kind != tokIdent {
			return Literal{}, p.unexpected("predicate name")
		}
		l, err := p.parseAtom()
		if err != nil {
			return Literal{}, err
		}
		l.Positive = false
		return l, nil
	}

	if p.tok.kind == tokIdent {
		save := *p.lx
		saveTok := p.tok
		if err := p.advance(); err != nil {
			return Literal{}, err
		}
		isAtom := p.tok.kind == tokLParen
		*p.lx = save
		p.tok = saveTok
		if isAtom {
			return p.parseAtom()
		}
	}

	left, err := p.parseArg()
	if err != nil {
		return Literal{}, err
	}
	kind := p.tok.kind
	if kind != tokEq && kind != tokNeq {
		return Literal{}, p.unexpected("'=' or '!='")
	}
	if err := p.advance(); err != nil {
		return Literal{}, err
	}
	right, err := p.parseArg()
	if err != nil {
		return Literal{}, err
	}
	if kind == tokEq {
		return Eq(left, right), nil
	}
	return Neq(left, right), nil
}

func (p *parser) parseAtom() (Literal, error) {
	name := p.tok.text
	if err := p.advance(); err != nil {
		return Literal{}, err
	}
	if _, err := p.expect(tokLParen); err != nil {
		return Literal{}, err
	}
	l := Literal{Kind: KindAtom, Pred: name, Positive: true}
	for p.tok.kind != tokRParen {
		if len(l.Args) > 0 {
			if _, err := p.expect(tokComma); err != nil {
				return Literal{}, err
			}
		}
		a, err := p.parseArg()
		if err != nil {
			return Literal{}, err
		}
		l.Args = append(l.Args, a)
	}
	return l, p.advance()
}

func (p *parser) parseArg() (Term, error) {
	t := p.tok
	switch t.kind {
	case tokIdent:
		return Variable(t.text), p.advance()
	case tokString:
		return String(t.text), p.advance()
	case tokNumber:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Line: t.line, Column: t.col, Message: err.Error()}
		}
		return Number(n), p.advance()
	}
	return nil, p.unexpected("variable or constant")
}

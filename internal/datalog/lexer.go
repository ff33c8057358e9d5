package datalog

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
	tokDot
	tokColon
	tokImplies
	tokBang
	tokEq
	tokNeq
	tokHash
	tokDotKeyword
)

var tokenNames = map[tokenKind]string{
	tokEOF:        "end of input",
	tokIdent:      "identifier",
	tokString:     "string",
	tokNumber:     "number",
	tokLParen:     "'('",
	tokRParen:     "')'",
	tokComma:      "','",
	tokDot:        "'.'",
	tokColon:      "':'",
	tokImplies:    "':-'",
	tokBang:       "'!'",
	tokEq:         "'='",
	tokNeq:        "'!='",
	tokHash:       "'#'",
	tokDotKeyword: "directive",
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

// SyntaxError reports malformed program text at a 1-based position.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Column, e.Message)
}

var dotKeywords = map[string]bool{"decl": true, "input": true, "output": true}

type lexer struct {
	src  []rune
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src), line: 1, col: 1}
}

func (lx *lexer) peekRune(off int) rune {
	if lx.pos+off >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+off]
}

func (lx *lexer) advance() rune {
	r := lx.src[lx.pos]
	lx.pos++
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return r
}

func (lx *lexer) errorf(line, col int, format string, args ...any) error {
	return &SyntaxError{Line: line, Column: col, Message: fmt.Sprintf(format, args...)}
}

func (lx *lexer) skipSpaceAndComments() error {
	for lx.pos < len(lx.src) {
		r := lx.peekRune(0)
		switch {
		case unicode.IsSpace(r):
			lx.advance()
		case r == '/' && lx.peekRune(1) == '/':
			for lx.pos < len(lx.src) && lx.peekRune(0) != '\n' {
				lx.advance()
			}
		case r == '/' && lx.peekRune(1) == '*':
			line, col := lx.line, lx.col
			lx.advance()
			lx.advance()
			for {
				if lx.pos >= len(lx.src) {
					return lx.errorf(line, col, "unterminated block comment")
				}
				if lx.peekRune(0) == '*' && lx.peekRune(1) == '/' {
					lx.advance()
					lx.advance()
					break
				}
				lx.advance()
			}
		default:
			return nil
		}
	}
	return nil
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool  { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

func (lx *lexer) next() (token, error) {
	if err := lx.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	line, col := lx.line, lx.col
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, line: line, col: col}, nil
	}
	tok := func(k tokenKind, text string) (token, error) {
		return token{kind: k, text: text, line: line, col: col}, nil
	}

	r := lx.peekRune(0)
	switch {
	case r == '(':
		lx.advance()
		return tok(tokLParen, "(")
	case r == ')':
		lx.advance()
		return tok(tokRParen, ")")
	case r == ',':
		lx.advance()
		return tok(tokComma, ",")
	case r == '#':
		lx.advance()
		return tok(tokHash, "#")
	case r == '=':
		lx.advance()
		return tok(tokEq, "=")
	case r == '!':
		lx.advance()
		if lx.peekRune(0) == '=' {
			lx.advance()
			return tok(tokNeq, "!=")
		}
		return tok(tokBang, "!")
	case r == ':':
		lx.advance()
		if lx.peekRune(0) == '-' {
			lx.advance()
			return tok(tokImplies, ":-")
		}
		return tok(tokColon, ":")
	case r == '.':
		if isIdentStart(lx.peekRune(1)) {
			word := lx.peekWord(1)
			if dotKeywords[word] {
				for range []rune("." + word) {
					lx.advance()
				}
				return tok(tokDotKeyword, word)
			}
		}
		lx.advance()
		return tok(tokDot, ".")
	case r == '"':
		return lx.lexString(line, col)
	case unicode.IsDigit(r) || (r == '-' && unicode.IsDigit(lx.peekRune(1))):
		return lx.lexNumber(line, col)
	case isIdentStart(r):
		var sb strings.Builder
		for lx.pos < len(lx.src) && isIdentPart(lx.peekRune(0)) {
			sb.WriteRune(lx.advance())
		}
		return tok(tokIdent, sb.String())
	}
	return token{}, lx.errorf(line, col, "unexpected character %q", r)
}

func (lx *lexer) peekWord(off int) string {
	var sb strings.Builder
	for i := off; lx.pos+i < len(lx.src) && isIdentPart(lx.src[lx.pos+i]); i++ {
		sb.WriteRune(lx.src[lx.pos+i])
	}
	return sb.String()
}

func (lx *lexer) lexString(line, col int) (token, error) {
	lx.advance()
	var sb strings.Builder
	for {
		if lx.pos >= len(lx.src) {
			return token{}, lx.errorf(line, col, "unterminated string")
		}
		r := lx.advance()
		switch r {
		case '"':
			return token{kind: tokString, text: sb.String(), line: line, col: col}, nil
		case '\n':
			return token{}, lx.errorf(line, col, "newline in string")
		case '\\':
			if lx.pos >= len(lx.src) {
				return token{}, lx.errorf(line, col, "unterminated string")
			}
			esc := lx.advance()
			switch esc {
			case '"', '\\':
				sb.WriteRune(esc)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				return token{}, lx.errorf(lx.line, lx.col-2, "unknown escape \\%c", esc)
			}
		default:
			sb.WriteRune(r)
		}
	}
}

func (lx *lexer) lexNumber(line, col int) (token, error) {
	var sb strings.Builder
	if lx.peekRune(0) == '-' {
		sb.WriteRune(lx.advance())
	}
	for lx.pos < len(lx.src) && unicode.IsDigit(lx.peekRune(0)) {
		sb.WriteRune(lx.advance())
	}
	if lx.peekRune(0) == '.' && unicode.IsDigit(lx.peekRune(1)) {
		return token{}, lx.errorf(line, col, "floating point numbers are not supported")
	}
	if _, err := strconv.ParseInt(sb.String(), 10, 64); err != nil {
		return token{}, lx.errorf(line, col, "number %s out of range", sb.String())
	}
	return token{kind: tokNumber, text: sb.String(), line: line, col: col}, nil
}

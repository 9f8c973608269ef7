// Package parser implements the textual front-end of the kernel generator: it
// parses the fixed MLIR-flavored grammar into the ir program representation.
//
// The pipeline treats this package as an opaque collaborator with a narrow
// contract: UTF-8 text in, *ir.Module or *Error out. The grammar covers the
// structured subset of the IR only; forms introduced by CFG lowering are
// printed but never parsed.
package parser

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokValue   // %name
	tokSymbol  // @name
	tokInt     // 123, -7
	tokFloat   // 1.5, -2e-3
	tokString  // "..."
	tokTypeLit // tensor<...> or memref<...>
	tokPunct   // single punctuation or "->"
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

// Error is the typed parse failure returned for malformed input text.
type Error struct {
	Line int
	Col  int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

type lexer struct {
	input string
	pos   int
	line  int
	col   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input, line: 1, col: 1}
}

func (lx *lexer) errorf(format string, args ...any) *Error {
	return &Error{Line: lx.line, Col: lx.col, Msg: fmt.Sprintf(format, args...)}
}

func (lx *lexer) peekByte() byte {
	if lx.pos >= len(lx.input) {
		return 0
	}
	return lx.input[lx.pos]
}

func (lx *lexer) advance() byte {
	c := lx.input[lx.pos]
	lx.pos++
	if c == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return c
}

func (lx *lexer) skipSpaceAndComments() {
	for lx.pos < len(lx.input) {
		c := lx.peekByte()
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			lx.advance()
			continue
		}
		// Line comments start with "//".
		if c == '/' && lx.pos+1 < len(lx.input) && lx.input[lx.pos+1] == '/' {
			for lx.pos < len(lx.input) && lx.peekByte() != '\n' {
				lx.advance()
			}
			continue
		}
		break
	}
}

func isIdentRune(c byte) bool {
	return c == '_' || c == '.' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

// next returns the next token. Type literals ("tensor<...>", "memref<...>",
// "complex<...>") are lexed as a single token so that dimension lists such as
// "4x8xf32" never reach the general tokenizer.
func (lx *lexer) next() (token, *Error) {
	lx.skipSpaceAndComments()
	tok := token{line: lx.line, col: lx.col}
	if lx.pos >= len(lx.input) {
		tok.kind = tokEOF
		return tok, nil
	}
	c := lx.peekByte()
	switch {
	case c == '%' || c == '@':
		kind := tokValue
		if c == '@' {
			kind = tokSymbol
		}
		lx.advance()
		start := lx.pos
		for lx.pos < len(lx.input) && isIdentRune(lx.peekByte()) {
			lx.advance()
		}
		if lx.pos == start {
			return tok, lx.errorf("expected name after %q", string(c))
		}
		tok.kind = kind
		tok.text = lx.input[start:lx.pos]
		return tok, nil
	case c == '"':
		lx.advance()
		var sb strings.Builder
		for {
			if lx.pos >= len(lx.input) {
				return tok, lx.errorf("unterminated string literal")
			}
			c := lx.advance()
			if c == '"' {
				break
			}
			if c == '\\' && lx.pos < len(lx.input) {
				c = lx.advance()
			}
			sb.WriteByte(c)
		}
		tok.kind = tokString
		tok.text = sb.String()
		return tok, nil
	case c == '-' || unicode.IsDigit(rune(c)):
		if c == '-' && lx.pos+1 < len(lx.input) && lx.input[lx.pos+1] == '>' {
			lx.advance()
			lx.advance()
			tok.kind = tokPunct
			tok.text = "->"
			return tok, nil
		}
		start := lx.pos
		lx.advance()
		isFloat := false
		for lx.pos < len(lx.input) {
			c := lx.peekByte()
			if unicode.IsDigit(rune(c)) {
				lx.advance()
				continue
			}
			if c == '.' || c == 'e' || c == 'E' {
				isFloat = true
				lx.advance()
				if (c == 'e' || c == 'E') && (lx.peekByte() == '-' || lx.peekByte() == '+') {
					lx.advance()
				}
				continue
			}
			break
		}
		if isFloat {
			tok.kind = tokFloat
		} else {
			tok.kind = tokInt
		}
		tok.text = lx.input[start:lx.pos]
		return tok, nil
	case isIdentRune(c):
		start := lx.pos
		for lx.pos < len(lx.input) && isIdentRune(lx.peekByte()) {
			lx.advance()
		}
		text := lx.input[start:lx.pos]
		if (text == "tensor" || text == "memref") && lx.peekByte() == '<' {
			depth := 0
			for lx.pos < len(lx.input) {
				c := lx.advance()
				if c == '<' {
					depth++
				} else if c == '>' {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			if depth != 0 {
				return tok, lx.errorf("unterminated type literal")
			}
			tok.kind = tokTypeLit
			tok.text = lx.input[start:lx.pos]
			return tok, nil
		}
		tok.kind = tokIdent
		tok.text = text
		return tok, nil
	default:
		lx.advance()
		tok.kind = tokPunct
		tok.text = string(c)
		return tok, nil
	}
}

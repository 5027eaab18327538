package predicate

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokEq
	tokNe
	tokLt
	tokGt
	tokLe
	tokGe
	tokAnd
	tokOr
	tokNot
	tokIn
)

var tokenNames = map[tokenKind]string{
	tokEOF:      "end of predicate",
	tokIdent:    "attribute name",
	tokNumber:   "number",
	tokString:   "string",
	tokLParen:   "'('",
	tokRParen:   "')'",
	tokLBracket: "'['",
	tokRBracket: "']'",
	tokComma:    "','",
	tokEq:       "'=='",
	tokNe:       "'!='",
	tokLt:       "'<'",
	tokGt:       "'>'",
	tokLe:       "'<='",
	tokGe:       "'>='",
	tokAnd:      "'and'",
	tokOr:       "'or'",
	tokNot:      "'not'",
	tokIn:       "'in'",
}

func (k tokenKind) String() string {
	return tokenNames[k]
}

var keywords = map[string]tokenKind{
	"and": tokAnd,
	"or":  tokOr,
	"not": tokNot,
	"in":  tokIn,
}

type token struct {
	kind tokenKind
	text string // identifier name, number text or unescaped string
	pos  int
}

// lex splits src into tokens, always ending with tokEOF
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0

	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			word := src[start:i]
			kind, ok := keywords[word]
			if !ok {
				kind = tokIdent
			}
			tokens = append(tokens, token{kind: kind, text: word, pos: start})

		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			i++
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i < len(src) && src[i] == '.' {
				i++
				if i >= len(src) || !isDigit(src[i]) {
					return nil, syntaxErr(src, i, "expected digit after decimal point")
				}
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			if i < len(src) && isIdentPart(src[i]) {
				return nil, syntaxErr(src, i, fmt.Sprintf("unexpected character %q in number", src[i]))
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})

		case c == '\'' || c == '"':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: text, pos: i})
			i = next

		default:
			kind, width := lexOperator(src, i)
			if width == 0 {
				return nil, syntaxErr(src, i, fmt.Sprintf("unexpected character %q", c))
			}
			tokens = append(tokens, token{kind: kind, pos: i})
			i += width
		}
	}

	return append(tokens, token{kind: tokEOF, pos: len(src)}), nil
}

// lexString reads a quoted literal starting at the opening quote.
// \\, \' and \" are escapes; any other backslash is kept as written.
func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder

	for i := start + 1; i < len(src); i++ {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(src) && (src[i+1] == '\\' || src[i+1] == '\'' || src[i+1] == '"'):
			b.WriteByte(src[i+1])
			i++
		default:
			b.WriteByte(c)
		}
	}

	return "", 0, syntaxErr(src, start, "unterminated string literal")
}

func lexOperator(src string, i int) (tokenKind, int) {
	two := ""
	if i+1 < len(src) {
		two = src[i : i+2]
	}
	switch two {
	case "==":
		return tokEq, 2
	case "!=":
		return tokNe, 2
	case "<=":
		return tokLe, 2
	case ">=":
		return tokGe, 2
	}

	switch src[i] {
	case '<':
		return tokLt, 1
	case '>':
		return tokGt, 1
	case '(':
		return tokLParen, 1
	case ')':
		return tokRParen, 1
	case '[':
		return tokLBracket, 1
	case ']':
		return tokRBracket, 1
	case ',':
		return tokComma, 1
	}
	return tokEOF, 0
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func syntaxErr(src string, pos int, msg string) *SyntaxError {
	return &SyntaxError{Predicate: src, Pos: pos, Msg: msg}
}

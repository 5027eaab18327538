package predicate

import (
	"fmt"
	"strconv"

	"dicom-router/internal/dicom"
)

// maxDepth bounds nesting of parentheses and "not" so hostile input cannot exhaust the stack
const maxDepth = 64

type parser struct {
	src    string
	tokens []token
	pos    int
	depth  int
}

func parse(src string) (node, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{src: src, tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, syntaxErr(src, 0, "empty predicate")
	}

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.unexpected(tok)
	}
	return root, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+offset]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, syntaxErr(p.src, tok.pos, fmt.Sprintf("expected %s, found %s", kind, describe(tok)))
	}
	return tok, nil
}

func (p *parser) unexpected(tok token) error {
	return syntaxErr(p.src, tok.pos, "unexpected "+describe(tok))
}

func (p *parser) enter(tok token) error {
	p.depth++
	if p.depth > maxDepth {
		return syntaxErr(p.src, tok.pos, "predicate nested too deeply")
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if tok.kind != tokNot {
		return p.parseCompare()
	}

	p.next()
	if err := p.enter(tok); err != nil {
		return nil, err
	}
	defer p.leave()

	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &notNode{operand: operand}, nil
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	negated := false
	switch tok.kind {
	case tokEq, tokNe, tokLt, tokGt, tokLe, tokGe, tokIn:
		p.next()
	case tokNot:
		if p.peekAt(1).kind != tokIn {
			return nil, p.unexpected(tok)
		}
		p.next()
		p.next()
		negated = true
		tok.kind = tokIn
	default:
		return left, nil
	}

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &compareNode{op: tok.kind, negated: negated, left: left, right: right}, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokIdent:
		return &identNode{name: tok.text}, nil

	case tokNumber, tokString:
		value, text, err := p.literal(tok)
		if err != nil {
			return nil, err
		}
		return &literalNode{value: value, text: text}, nil

	case tokLBracket:
		return p.parseList()

	case tokLParen:
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		defer p.leave()

		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil

	default:
		return nil, syntaxErr(p.src, tok.pos, "expected attribute, literal or '(', found "+describe(tok))
	}
}

// parseList reads the rest of a list literal after its opening bracket
func (p *parser) parseList() (node, error) {
	list := &listNode{}
	if p.peek().kind == tokRBracket {
		p.next()
		return list, nil
	}

	for {
		tok := p.next()
		if tok.kind != tokNumber && tok.kind != tokString {
			return nil, syntaxErr(p.src, tok.pos, "list items must be literals, found "+describe(tok))
		}
		value, text, err := p.literal(tok)
		if err != nil {
			return nil, err
		}
		list.items = append(list.items, value)
		list.texts = append(list.texts, text)

		sep := p.next()
		switch sep.kind {
		case tokComma:
			continue
		case tokRBracket:
			return list, nil
		default:
			return nil, syntaxErr(p.src, sep.pos, "expected ',' or ']', found "+describe(sep))
		}
	}
}

func (p *parser) literal(tok token) (dicom.Value, string, error) {
	if tok.kind == tokString {
		return dicom.String(tok.text), quote(tok.text), nil
	}
	n, err := strconv.ParseFloat(tok.text, 64)
	if err != nil {
		return dicom.Value{}, "", syntaxErr(p.src, tok.pos, fmt.Sprintf("invalid number %q", tok.text))
	}
	return dicom.Number(n), tok.text, nil
}

func describe(tok token) string {
	switch tok.kind {
	case tokIdent:
		return fmt.Sprintf("attribute %q", tok.text)
	case tokNumber:
		return fmt.Sprintf("number %s", tok.text)
	case tokString:
		return fmt.Sprintf("string %q", tok.text)
	default:
		return tok.kind.String()
	}
}

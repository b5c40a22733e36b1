package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse converts filter text into a term tree. It fails with a
// ParseError when parentheses are unbalanced, when a simple term lacks
// a comparator, or when an unsupported operator (~=, :=) is used.
func Parse(text string) (*Node, error) {
	p := &parser{text: text}
	node, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.text) {
		return nil, p.errorf("trailing input after filter")
	}
	return node, nil
}

type parser struct {
	text string
	pos  int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.text) && p.text[p.pos] == ' ' {
		p.pos++
	}
}

// parseTerm parses one parenthesized term, or a bare simple term when
// the input omits the outer parentheses.
func (p *parser) parseTerm() (*Node, error) {
	p.skipSpace()
	if p.pos >= len(p.text) {
		return nil, p.errorf("unexpected end of filter")
	}
	if p.text[p.pos] != '(' {
		end := strings.IndexByte(p.text[p.pos:], ')')
		if end >= 0 {
			return nil, p.errorf("unbalanced parentheses")
		}
		return p.parseSimple(len(p.text))
	}
	p.pos++ // consume '('
	p.skipSpace()
	if p.pos >= len(p.text) {
		return nil, p.errorf("unbalanced parentheses")
	}

	var node *Node
	var err error
	switch p.text[p.pos] {
	case '&':
		p.pos++
		node, err = p.parseCompound(OpAnd)
	case '|':
		p.pos++
		node, err = p.parseCompound(OpOr)
	case '!':
		p.pos++
		var child *Node
		child, err = p.parseTerm()
		if err == nil {
			node = Not(child)
		}
	default:
		end := strings.IndexByte(p.text[p.pos:], ')')
		if end < 0 {
			return nil, p.errorf("unbalanced parentheses")
		}
		node, err = p.parseSimple(p.pos + end)
	}
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if p.pos >= len(p.text) || p.text[p.pos] != ')' {
		return nil, p.errorf("unbalanced parentheses")
	}
	p.pos++ // consume ')'
	return node, nil
}

// parseCompound parses the sub-terms of an AND/OR node.
func (p *parser) parseCompound(op Op) (*Node, error) {
	node := &Node{Op: op}
	for {
		p.skipSpace()
		if p.pos >= len(p.text) {
			return nil, p.errorf("unbalanced parentheses")
		}
		if p.text[p.pos] == ')' {
			break
		}
		child, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	if len(node.Children) == 0 {
		return nil, p.errorf("empty compound term")
	}
	return node, nil
}

// parseSimple parses "attr OP value" up to (not including) end.
// Operator inference from value shape: bare * is presence, *v* is
// substring, *v ends-with, v* starts-with, anything else equality.
// attr>value and attr<value have no direct LDAP form and are
// represented as negated <= / >= respectively.
func (p *parser) parseSimple(end int) (*Node, error) {
	raw := p.text[p.pos:end]
	idx := strings.IndexAny(raw, "<>=")
	if idx < 0 {
		return nil, p.errorf("simple term missing '=': %q", raw)
	}
	if idx == 0 {
		return nil, p.errorf("simple term missing attribute: %q", raw)
	}

	attr := raw[:idx]
	var value string
	op := OpEquals
	negate := false

	switch raw[idx] {
	case '>':
		// LDAP has no strict inequality: a>v is !(a<=v).
		if idx+1 < len(raw) && raw[idx+1] == '=' {
			op, value = OpGe, raw[idx+2:]
		} else {
			op, negate, value = OpLe, true, raw[idx+1:]
		}
	case '<':
		if idx+1 < len(raw) && raw[idx+1] == '=' {
			op, value = OpLe, raw[idx+2:]
		} else {
			op, negate, value = OpGe, true, raw[idx+1:]
		}
	default: // '='
		if attr[len(attr)-1] == '~' || attr[len(attr)-1] == ':' {
			return nil, p.errorf("unsupported operator in term: %q", raw)
		}
		value = raw[idx+1:]
	}

	if op == OpEquals {
		switch {
		case value == "*":
			op, value = OpPresent, ""
		case len(value) > 1 && strings.HasPrefix(value, "*") && strings.HasSuffix(value, "*"):
			op, value = OpHas, value[1:len(value)-1]
		case strings.HasPrefix(value, "*"):
			op, value = OpEndsWith, value[1:]
		case strings.HasSuffix(value, "*"):
			op, value = OpStartsWith, value[:len(value)-1]
		}
	}

	p.pos = end
	node := Term(op, attr, unescapeValue(value))
	if negate {
		node = Not(node)
	}
	return node, nil
}

// unescapeValue reverses RFC 2254 hex escapes.
func unescapeValue(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+2 < len(v) {
			if n, err := strconv.ParseUint(v[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

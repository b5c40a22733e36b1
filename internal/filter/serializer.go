package filter

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// EscapePolicy controls how simple-term values are treated during
// serialization.
type EscapePolicy int

const (
	// EscapeValues treats values as raw user input and applies
	// RFC 2254 escaping of  * ( ) \  before embedding.
	EscapeValues EscapePolicy = iota

	// ValuesVerbatim passes values through untouched; the caller
	// asserts they are already escaped.
	ValuesVerbatim
)

// Serializer renders a term tree as LDAP filter text. IDNAttrs names
// the attributes whose values carry internationalized domain names and
// must be transcoded to ASCII-compatible encoding on the way out.
type Serializer struct {
	Policy   EscapePolicy
	IDNAttrs map[string]bool
}

// Serialize renders the tree rooted at n.
func Serialize(n *Node, policy EscapePolicy) (string, error) {
	s := &Serializer{Policy: policy}
	return s.Serialize(n)
}

// Serialize renders the tree rooted at n with this serializer's policy.
func (s *Serializer) Serialize(n *Node) (string, error) {
	if n == nil {
		return "", fmt.Errorf("cannot serialize nil filter term")
	}
	var b strings.Builder
	if err := s.writeNode(&b, n); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *Serializer) writeNode(b *strings.Builder, n *Node) error {
	if n.Op.IsCompound() {
		if len(n.Children) == 0 {
			return fmt.Errorf("compound term %q has no sub-terms", n.Op.String())
		}
		if n.Op == OpNot && len(n.Children) != 1 {
			return fmt.Errorf("negation must wrap exactly one sub-term")
		}
		b.WriteByte('(')
		b.WriteString(n.Op.String())
		for _, child := range n.Children {
			if err := s.writeNode(b, child); err != nil {
				return err
			}
		}
		b.WriteByte(')')
		return nil
	}

	if n.Attr == "" {
		return fmt.Errorf("simple term missing attribute name")
	}
	value := n.Value
	if s.IDNAttrs[n.Attr] {
		value = toACE(value)
	}
	if s.Policy == EscapeValues {
		value = EscapeValue(value)
	}

	b.WriteByte('(')
	b.WriteString(n.Attr)
	switch n.Op {
	case OpEquals:
		b.WriteByte('=')
		b.WriteString(value)
	case OpHas:
		b.WriteString("=*")
		b.WriteString(value)
		b.WriteByte('*')
	case OpStartsWith:
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('*')
	case OpEndsWith:
		b.WriteString("=*")
		b.WriteString(value)
	case OpPresent:
		b.WriteString("=*")
	case OpGe:
		b.WriteString(">=")
		b.WriteString(value)
	case OpLe:
		b.WriteString("<=")
		b.WriteString(value)
	default:
		return fmt.Errorf("unknown filter operator %d", int(n.Op))
	}
	b.WriteByte(')')
	return nil
}

// EscapeValue applies RFC 2254 escaping to a raw attribute value.
func EscapeValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		switch c := v[i]; c {
		case '*', '(', ')', '\\':
			fmt.Fprintf(&b, "\\%02x", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// toACE transcodes the domain-bearing portion of a filter value into
// ASCII-compatible encoding. For address-shaped values only the part
// after the rightmost @ is a domain name; otherwise the whole value is
// treated as one. Transcoding failures leave the value untouched: a
// filter that matches nothing is preferable to a serialization error
// for a lookup predicate.
func toACE(v string) string {
	if isASCII(v) {
		return v
	}
	at := strings.LastIndexByte(v, '@')
	if at >= 0 {
		return v[:at+1] + domainToACE(v[at+1:])
	}
	return domainToACE(v)
}

// domainToACE converts each label run between wildcards, leaving the
// wildcards themselves in place.
func domainToACE(d string) string {
	parts := strings.Split(d, "*")
	for i, part := range parts {
		if part == "" || isASCII(part) {
			continue
		}
		if ace, err := idna.Lookup.ToASCII(strings.Trim(part, ".")); err == nil {
			parts[i] = strings.Replace(part, strings.Trim(part, "."), ace, 1)
		}
	}
	return strings.Join(parts, "*")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// Package filter translates between the textual LDAP search-filter
// grammar and a structured term tree. Parsing and serialization form a
// format-preserving pair for the canonical form: any text produced by
// Serialize parses back to an equivalent tree and re-serializes to the
// same text.
package filter

import "fmt"

// Op identifies a term's operator. Compound operators wrap sub-terms;
// simple operators relate an attribute to a value.
type Op int

const (
	OpAnd Op = iota
	OpOr
	OpNot

	OpEquals     // attr=value
	OpHas        // attr=*value*
	OpStartsWith // attr=value*
	OpEndsWith   // attr=*value
	OpPresent    // attr=*
	OpGe         // attr>=value
	OpLe         // attr<=value
)

// String returns the operator's textual form. Compound operators map
// to their filter prefixes; simple operators to their comparators.
func (o Op) String() string {
	switch o {
	case OpAnd:
		return "&"
	case OpOr:
		return "|"
	case OpNot:
		return "!"
	case OpEquals:
		return "="
	case OpHas:
		return "has"
	case OpStartsWith:
		return "startswith"
	case OpEndsWith:
		return "endswith"
	case OpPresent:
		return "present"
	case OpGe:
		return ">="
	case OpLe:
		return "<="
	default:
		return "unknown"
	}
}

// IsCompound reports whether the operator wraps sub-terms.
func (o Op) IsCompound() bool {
	return o == OpAnd || o == OpOr || o == OpNot
}

// Node is one term of a filter tree. Compound nodes carry Children;
// simple nodes carry Attr and (except for presence) Value. Values are
// held unescaped; escaping is a serialization concern.
type Node struct {
	Op       Op
	Attr     string
	Value    string
	Children []*Node
}

// And wraps sub-terms in a conjunction.
func And(children ...*Node) *Node { return &Node{Op: OpAnd, Children: children} }

// Or wraps sub-terms in a disjunction.
func Or(children ...*Node) *Node { return &Node{Op: OpOr, Children: children} }

// Not negates a single sub-term.
func Not(child *Node) *Node { return &Node{Op: OpNot, Children: []*Node{child}} }

// Term builds a simple node.
func Term(op Op, attr, value string) *Node { return &Node{Op: op, Attr: attr, Value: value} }

// ParseError reports malformed filter text. It always indicates a
// caller or configuration bug and is never swallowed.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("filter parse error at offset %d: %s", e.Pos, e.Msg)
}

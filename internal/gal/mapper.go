// Package gal maps entries fetched from a directory-backed address
// list into the flat contact attribute layout used locally. Mapping is
// rule-driven: each rule names one or more source attributes and the
// local attribute slots their values land in.
package gal

import (
	"fmt"
	"regexp"
	"strings"

	objectsid "github.com/bwmarrin/go-objectsid"
	"github.com/rs/zerolog"
)

// Rule maps external attribute values onto local attribute slots.
// Parsed from "ext[,ext...]=local[,local...]".
type Rule struct {
	External []string
	Local    []string
}

// ValueSub rewrites values of one local attribute through a regular
// expression. Parsed from "localAttr: /pattern/ replacement".
type ValueSub struct {
	Local   string
	Pattern *regexp.Regexp
	Replace string
}

// Mapper transforms external entry attributes into local contact
// attributes according to a fixed rule list.
type Mapper struct {
	rules []Rule
	subs  map[string]*ValueSub

	// Attributes whose raw values are binary security identifiers and
	// must be decoded to their string form before mapping.
	sidAttrs map[string]bool

	log zerolog.Logger
}

var subRE = regexp.MustCompile(`^(\S+):\s*/((?:[^/\\]|\\.)*)/\s*(.*)$`)

// NewMapper parses attribute-map rules and value-substitution rules.
// A malformed rule is a configuration error and fails the whole parse;
// a malformed substitution regex is logged and skipped, since the
// rules it decorates remain usable without it.
func NewMapper(ruleSpecs, subSpecs []string, log zerolog.Logger) (*Mapper, error) {
	m := &Mapper{
		subs:     make(map[string]*ValueSub),
		sidAttrs: make(map[string]bool),
		log:      log,
	}
	for _, spec := range ruleSpecs {
		rule, err := parseRule(spec)
		if err != nil {
			return nil, err
		}
		m.rules = append(m.rules, rule)
	}
	for _, spec := range subSpecs {
		sub, err := parseValueSub(spec)
		if err != nil {
			log.Warn().Err(err).Str("rule", spec).Msg("ignoring malformed value map")
			continue
		}
		m.subs[strings.ToLower(sub.Local)] = sub
	}
	return m, nil
}

// MarkBinarySID registers attrs as binary SID attributes.
func (m *Mapper) MarkBinarySID(attrs ...string) {
	for _, a := range attrs {
		m.sidAttrs[strings.ToLower(a)] = true
	}
}

func parseRule(spec string) (Rule, error) {
	ext, local, ok := strings.Cut(spec, "=")
	if !ok {
		return Rule{}, fmt.Errorf("attribute map rule %q: missing '='", spec)
	}
	rule := Rule{
		External: splitAttrs(ext),
		Local:    splitAttrs(local),
	}
	if len(rule.External) == 0 || len(rule.Local) == 0 {
		return Rule{}, fmt.Errorf("attribute map rule %q: empty attribute list", spec)
	}
	return rule, nil
}

func splitAttrs(s string) []string {
	var attrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

func parseValueSub(spec string) (*ValueSub, error) {
	match := subRE.FindStringSubmatch(spec)
	if match == nil {
		return nil, fmt.Errorf("value map rule %q: want \"attr: /regex/ replacement\"", spec)
	}
	pattern, err := regexp.Compile(match[2])
	if err != nil {
		return nil, fmt.Errorf("value map rule %q: %w", spec, err)
	}
	return &ValueSub{Local: match[1], Pattern: pattern, Replace: match[3]}, nil
}

// Map applies every rule to the external attribute set and returns the
// resulting local attribute map. Values from a rule's external
// attributes are distributed positionally across its local slots; a
// slot is skipped when its value duplicates one already placed by an
// earlier slot of the same rule.
func (m *Mapper) Map(external map[string][]string, raw map[string][][]byte) map[string][]string {
	local := make(map[string][]string)
	for _, rule := range m.rules {
		values := m.collect(rule, external, raw)
		placed := make(map[string]bool, len(values))
		slot := 0
		for _, v := range values {
			if slot >= len(rule.Local) {
				break
			}
			v = m.substitute(rule.Local[slot], v)
			if placed[v] {
				continue
			}
			placed[v] = true
			local[rule.Local[slot]] = append(local[rule.Local[slot]], v)
			slot++
		}
	}
	return local
}

// collect gathers the rule's source values in declaration order,
// decoding binary SIDs where flagged.
func (m *Mapper) collect(rule Rule, external map[string][]string, raw map[string][][]byte) []string {
	var values []string
	for _, ext := range rule.External {
		if m.sidAttrs[strings.ToLower(ext)] {
			for _, b := range raw[ext] {
				if sid := decodeSID(b); sid != "" {
					values = append(values, sid)
				}
			}
			continue
		}
		values = append(values, external[ext]...)
	}
	return values
}

func (m *Mapper) substitute(localAttr, value string) string {
	sub, ok := m.subs[strings.ToLower(localAttr)]
	if !ok {
		return value
	}
	return sub.Pattern.ReplaceAllString(value, sub.Replace)
}

func decodeSID(b []byte) string {
	if len(b) < 8 {
		return ""
	}
	defer func() { recover() }() // malformed SID bytes are dropped, not fatal
	return objectsid.Decode(b).String()
}

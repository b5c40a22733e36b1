package gal

import (
	"context"

	"github.com/go-ldap/ldap/v3"
)

// GroupPredicate reports whether a fetched entry represents a group
// rather than an individual contact.
type GroupPredicate func(e *ldap.Entry) bool

// MemberFetcher resolves the member addresses of a group entry.
type MemberFetcher func(ctx context.Context, e *ldap.Entry) ([]string, error)

// Contact is one mapped address-list result.
type Contact struct {
	DN      string
	Attrs   map[string][]string
	IsGroup bool
	Members []string
}

// Source pairs a mapper with group handling for one address list
// backing directory.
type Source struct {
	Mapper  *Mapper
	IsGroup GroupPredicate

	// FetchMembers is set only for external directories; a local
	// directory already carries members on the entry itself.
	FetchMembers MemberFetcher
}

// ObjectClassPredicate returns a GroupPredicate matching entries that
// carry any of the given objectClass values.
func ObjectClassPredicate(classes ...string) GroupPredicate {
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	return func(e *ldap.Entry) bool {
		for _, oc := range e.GetAttributeValues("objectClass") {
			if set[oc] {
				return true
			}
		}
		return false
	}
}

// Transform maps one search result into a Contact. Member fetch
// failures for external groups are reported to the caller; the mapped
// contact is still returned so a listing degrades rather than drops
// entries.
func (s *Source) Transform(ctx context.Context, e *ldap.Entry) (*Contact, error) {
	external := make(map[string][]string, len(e.Attributes))
	raw := make(map[string][][]byte, len(e.Attributes))
	for _, a := range e.Attributes {
		external[a.Name] = a.Values
		raw[a.Name] = a.ByteValues
	}
	contact := &Contact{
		DN:    e.DN,
		Attrs: s.Mapper.Map(external, raw),
	}
	if s.IsGroup == nil || !s.IsGroup(e) {
		return contact, nil
	}
	contact.IsGroup = true
	if s.FetchMembers == nil {
		return contact, nil
	}
	members, err := s.FetchMembers(ctx, e)
	if err != nil {
		return contact, err
	}
	contact.Members = members
	return contact, nil
}

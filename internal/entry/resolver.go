package entry

import (
	"github.com/rs/zerolog"
)

// Resolver implements the layered attribute lookup: an entry's own
// snapshot first, then — only for attribute names declared inheritable
// for the entry's kind — the local value of the inheritance parent
// (account→COS, domain→config, server→config). The walk is a single
// hop; parent values are the parent's own local values, never resolved
// further.
type Resolver struct {
	// ParentOf returns the inheritance parent of an entry, or nil when
	// the entry kind has no parent scope.
	ParentOf func(e *Entry) (*Entry, error)

	// ConfigOf returns the global config entry for the explicit
	// account→config inheritance path, or nil when unavailable.
	ConfigOf func() (*Entry, error)

	// Inheritable reports whether the attribute name is declared
	// inheritable from the parent scope for the given child kind.
	Inheritable func(child Kind, attr string) bool

	// ConfigInheritable reports whether the attribute name is declared
	// inheritable by accounts directly from global config.
	ConfigInheritable func(attr string) bool

	Log zerolog.Logger
}

// Resolve returns the effective single value of attr on e, or "" when
// neither the entry nor its permitted parent scope carries one.
//
// An attribute not declared inheritable resolves to "" even when the
// parent has a value; the containment is intentional.
func (r *Resolver) Resolve(e *Entry, attr string) string {
	if v := e.Attr(attr); v != "" {
		return v
	}
	if p := r.inheritedFrom(e, attr); p != nil {
		return p.Attr(attr)
	}
	return ""
}

// ResolveMulti is the multi-valued variant of Resolve, returning nil
// on a complete miss.
func (r *Resolver) ResolveMulti(e *Entry, attr string) []string {
	if vs := e.MultiAttr(attr); len(vs) > 0 {
		return vs
	}
	if p := r.inheritedFrom(e, attr); p != nil {
		return p.MultiAttr(attr)
	}
	return nil
}

// inheritedFrom returns the parent entry whose local value applies for
// attr, or nil. Directory errors while fetching the parent are treated
// as absence: inheritance is best effort and never fails a getter.
func (r *Resolver) inheritedFrom(e *Entry, attr string) *Entry {
	if r.Inheritable != nil && r.Inheritable(e.Kind(), attr) && r.ParentOf != nil {
		parent, err := r.ParentOf(e)
		if err != nil {
			r.Log.Debug().Err(err).
				Str("kind", e.Kind().String()).
				Str("attr", attr).
				Msg("inheritance parent fetch failed, treating as absent")
			return nil
		}
		if parent != nil {
			return parent
		}
	}

	// Accounts may additionally inherit a declared class of attributes
	// directly from global config, bypassing the COS.
	if e.Kind() == KindAccount && r.ConfigInheritable != nil && r.ConfigInheritable(attr) && r.ConfigOf != nil {
		cfg, err := r.ConfigOf()
		if err != nil {
			r.Log.Debug().Err(err).Str("attr", attr).
				Msg("config fetch failed for config-inherited attribute")
			return nil
		}
		return cfg
	}
	return nil
}

// Package entry provides the in-memory model for directory-backed
// provisioning entities: a single concrete Entry type tagged with an
// entity Kind, a TTL+LRU cache indexed by id and name, and the layered
// attribute resolver implementing parent-scope inheritance.
package entry

import (
	"strconv"
	"sync"
	"time"
)

// Kind distinguishes the entity type an Entry represents.
type Kind int

const (
	KindAccount Kind = iota
	KindDomain
	KindCos
	KindServer
	KindConfig
	KindGroup
)

// String returns string representation of the entity kind.
func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindDomain:
		return "domain"
	case KindCos:
		return "cos"
	case KindServer:
		return "server"
	case KindConfig:
		return "config"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// GeneralizedTimeFormat is the fixed-width, zero-padded timestamp layout
// used for directory timestamp attributes. Lexicographic comparison of
// two values in this layout orders them chronologically.
const GeneralizedTimeFormat = "20060102150405Z"

// GeneralizedTimeMsFormat is the millisecond-precision variant used for
// failed-login timestamps, where sub-second ordering matters.
const GeneralizedTimeMsFormat = "20060102150405.000Z"

// FormatTime renders t in the directory generalized-time layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(GeneralizedTimeFormat)
}

// FormatTimeMs renders t in the millisecond generalized-time layout.
func FormatTimeMs(t time.Time) string {
	return t.UTC().Format(GeneralizedTimeMsFormat)
}

// ParseTime parses a generalized-time value in either supported layout.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(GeneralizedTimeMsFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(GeneralizedTimeFormat, s)
}

// LaterTimestamp returns the later of two generalized-time strings.
// The layouts are fixed-width and zero-padded, so plain string
// comparison is a valid chronological comparison.
func LaterTimestamp(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if a < b {
		return b
	}
	return a
}

// Entry is a cached wrapper around a directory entry: an attribute
// snapshot plus identity metadata. The snapshot is immutable once read;
// Reload replaces it wholesale under the entry lock, so concurrent
// getters never observe a half-updated snapshot.
type Entry struct {
	kind Kind
	id   string
	dn   string
	name string

	mu       sync.Mutex
	attrs    map[string][]string
	loadedAt time.Time
	gen      uint64
}

// New constructs an Entry from an attribute snapshot. The snapshot map
// is owned by the entry after the call.
func New(kind Kind, id, dn, name string, attrs map[string][]string) *Entry {
	if attrs == nil {
		attrs = make(map[string][]string)
	}
	return &Entry{
		kind:     kind,
		id:       id,
		dn:       dn,
		name:     name,
		attrs:    attrs,
		loadedAt: time.Now(),
		gen:      1,
	}
}

// Kind returns the entity kind.
func (e *Entry) Kind() Kind { return e.kind }

// ID returns the globally unique id attribute value.
func (e *Entry) ID() string { return e.id }

// DN returns the directory path of the entry.
func (e *Entry) DN() string { return e.dn }

// Name returns the primary name the entry is indexed under.
func (e *Entry) Name() string { return e.name }

// LoadedAt returns the time the current snapshot was read from the
// directory, used for staleness checks.
func (e *Entry) LoadedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadedAt
}

// Generation increments on every Reload. Derived data memoized against
// a snapshot records the generation it was computed from and recomputes
// when it no longer matches.
func (e *Entry) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// Reload atomically replaces the attribute snapshot and resets the load
// timestamp, invalidating any generation-tagged derived data.
func (e *Entry) Reload(attrs map[string][]string) {
	if attrs == nil {
		attrs = make(map[string][]string)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attrs = attrs
	e.loadedAt = time.Now()
	e.gen++
}

// Attr returns the first value of the named attribute, or "" if absent.
func (e *Entry) Attr(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vs := e.attrs[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// MultiAttr returns a copy of all values of the named attribute. The
// result is nil when the attribute is absent.
func (e *Entry) MultiAttr(name string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	vs := e.attrs[name]
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, len(vs))
	copy(out, vs)
	return out
}

// HasAttr reports whether the attribute has at least one value.
func (e *Entry) HasAttr(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.attrs[name]) > 0
}

// BoolAttr interprets the attribute as a directory boolean
// ("TRUE"/"FALSE"), falling back to def when absent or malformed.
func (e *Entry) BoolAttr(name string, def bool) bool {
	switch e.Attr(name) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	default:
		return def
	}
}

// IntAttr interprets the attribute as a base-10 integer, falling back
// to def when absent or malformed.
func (e *Entry) IntAttr(name string, def int) int {
	v := e.Attr(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// DurationAttr interprets the attribute as a time interval: a bare
// number of seconds, or a number suffixed with ms/s/m/h/d.
func (e *Entry) DurationAttr(name string, def time.Duration) time.Duration {
	v := e.Attr(name)
	if v == "" {
		return def
	}
	d, err := ParseInterval(v)
	if err != nil {
		return def
	}
	return d
}

// TimeAttr interprets the attribute as a generalized-time value,
// returning the zero time when absent or malformed.
func (e *Entry) TimeAttr(name string) time.Time {
	v := e.Attr(name)
	if v == "" {
		return time.Time{}
	}
	t, err := ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AttrSnapshot returns a shallow copy of the whole attribute snapshot.
func (e *Entry) AttrSnapshot() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]string, len(e.attrs))
	for k, v := range e.attrs {
		vs := make([]string, len(v))
		copy(vs, v)
		out[k] = vs
	}
	return out
}

// ParseInterval parses a directory time-interval value: "30" (seconds),
// "500ms", "90s", "10m", "2h" or "1d".
func ParseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, strconv.ErrSyntax
	}
	unit := time.Second
	num := v
	switch {
	case len(v) > 2 && v[len(v)-2:] == "ms":
		unit = time.Millisecond
		num = v[:len(v)-2]
	case v[len(v)-1] == 's':
		num = v[:len(v)-1]
	case v[len(v)-1] == 'm':
		unit = time.Minute
		num = v[:len(v)-1]
	case v[len(v)-1] == 'h':
		unit = time.Hour
		num = v[:len(v)-1]
	case v[len(v)-1] == 'd':
		unit = 24 * time.Hour
		num = v[:len(v)-1]
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

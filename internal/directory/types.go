// Package directory wraps go-ldap with the operations the provisioning
// layer consumes: attribute fetch, paged search, modify with optional
// assertion (test-and-modify), entry add/delete, and credential binds
// against external directories. Connection handling is pooled; every
// directory call is a single attempt with errors surfaced immediately —
// retry cadence belongs to the caller's scheduler, not this layer.
package directory

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Config holds connection settings for one directory endpoint.
type Config struct {
	// URLs lists ldap:// or ldaps:// endpoints, tried in order.
	URLs []string

	// BindDN and BindPassword are the admin credentials used for all
	// operations on this endpoint.
	BindDN       string
	BindPassword string

	// StartTLS upgrades plaintext connections before binding.
	StartTLS bool

	// TLSConfig overrides the TLS client configuration.
	TLSConfig *tls.Config

	// Timeout bounds dial and per-request network waits.
	Timeout time.Duration

	// MaxConnections bounds the pool size.
	MaxConnections int
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		MaxConnections: 10,
		TLSConfig:      &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// Scope selects the breadth of a search.
type Scope int

const (
	ScopeBase Scope = iota
	ScopeOneLevel
	ScopeSubtree
)

// SearchRequest describes one directory search.
type SearchRequest struct {
	BaseDN     string
	Scope      Scope
	Filter     string
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration
}

// SearchResult carries entries plus a partial-result indicator set when
// the server stopped at its size limit.
type SearchResult struct {
	Entries []*ldap.Entry
	Partial bool
}

// ModifyRequest describes attribute changes to one entry. DeleteAttrs
// removes the named attributes entirely; per-value removes go through
// DeleteValues.
type ModifyRequest struct {
	DN           string
	AddAttrs     map[string][]string
	ReplaceAttrs map[string][]string
	DeleteAttrs  []string
	DeleteValues map[string][]string
}

// AddRequest describes a new entry.
type AddRequest struct {
	DN         string
	Attributes map[string][]string
}

// Visitor receives entries during a paged search, in server order.
// Returning an error stops iteration and propagates.
type Visitor func(e *ldap.Entry) error

// Client is the directory-access capability consumed by the
// provisioning layer.
type Client interface {
	// GetAttributes fetches the named attributes of one entry.
	// A missing entry reports true from IsNotFound on the error.
	GetAttributes(ctx context.Context, dn string, attrs []string) (map[string][]string, error)

	// Search performs a bounded, single-page search.
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	// SearchPaged iterates entries using the paged-results control,
	// invoking visit per entry. When sizeLimit > 0 and the server
	// reports size-limit-exceeded, the entries already visited stand
	// and the returned error reports true from IsSizeLimitExceeded.
	SearchPaged(ctx context.Context, req *SearchRequest, visit Visitor) error

	// Add creates an entry.
	Add(ctx context.Context, req *AddRequest) error

	// Modify applies attribute changes to an entry.
	Modify(ctx context.Context, req *ModifyRequest) error

	// TestAndModify applies req only if assertion (an LDAP filter)
	// matches the target entry, as one atomic conditional write.
	// Returns false with a nil error when the assertion did not match.
	TestAndModify(ctx context.Context, assertion string, req *ModifyRequest) (bool, error)

	// Delete removes an entry.
	Delete(ctx context.Context, dn string) error

	// Close releases pooled connections.
	Close() error
}

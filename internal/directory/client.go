package directory

import (
	"context"
	"errors"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

const pageSize = 1000

// client implements Client over a connection pool.
type client struct {
	pool *pool
	log  zerolog.Logger
}

// Dial opens a pooled client against the configured endpoint. The
// first connection is established lazily on first use.
func Dial(cfg *Config, log zerolog.Logger) (Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p, err := newPool(cfg, log)
	if err != nil {
		return nil, err
	}
	return &client{pool: p, log: log}, nil
}

func (c *client) Close() error {
	return c.pool.close()
}

// withConn runs op on a pooled connection, recycling it on success and
// discarding it on failure.
func (c *client) withConn(ctx context.Context, op func(conn *ldap.Conn) error) error {
	conn, err := c.pool.get(ctx)
	if err != nil {
		return err
	}
	if err := op(conn); err != nil {
		c.pool.discard(conn)
		return err
	}
	c.pool.put(conn)
	return nil
}

func (c *client) GetAttributes(ctx context.Context, dn string, attrs []string) (map[string][]string, error) {
	req := &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeBase,
		Filter:     "(objectClass=*)",
		Attributes: attrs,
		SizeLimit:  1,
	}
	result, err := c.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, &Error{Operation: "get_attributes", Category: CategoryNotFound, DN: dn,
			Cause: errors.New("no such entry")}
	}
	return EntryAttributes(result.Entries[0]), nil
}

func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	var result *SearchResult
	err := c.withConn(ctx, func(conn *ldap.Conn) error {
		start := time.Now()
		ldapReq := ldap.NewSearchRequest(
			req.BaseDN,
			ldapScope(req.Scope),
			ldap.NeverDerefAliases,
			req.SizeLimit,
			int(req.TimeLimit.Seconds()),
			false,
			req.Filter,
			req.Attributes,
			nil,
		)
		res, err := conn.Search(ldapReq)
		if err != nil {
			// A size-limited search that overflows still returns the
			// entries collected before the limit was hit.
			if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && res != nil {
				result = &SearchResult{Entries: res.Entries, Partial: true}
				return nil
			}
			return WrapError("search", req.BaseDN, err)
		}
		c.log.Debug().
			Str("base", req.BaseDN).
			Str("filter", req.Filter).
			Int("entries", len(res.Entries)).
			Dur("took", time.Since(start)).
			Msg("directory search")
		result = &SearchResult{Entries: res.Entries}
		return nil
	})
	return result, err
}

func (c *client) SearchPaged(ctx context.Context, req *SearchRequest, visit Visitor) error {
	return c.withConn(ctx, func(conn *ldap.Conn) error {
		paging := ldap.NewControlPaging(pageSize)
		seen := 0
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			ldapReq := ldap.NewSearchRequest(
				req.BaseDN,
				ldapScope(req.Scope),
				ldap.NeverDerefAliases,
				0,
				int(req.TimeLimit.Seconds()),
				false,
				req.Filter,
				req.Attributes,
				[]ldap.Control{paging},
			)
			res, err := conn.Search(ldapReq)
			if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
				return WrapError("search_paged", req.BaseDN, err)
			}
			sizeLimited := err != nil

			for _, e := range res.Entries {
				if req.SizeLimit > 0 && seen >= req.SizeLimit {
					sizeLimited = true
					break
				}
				if verr := visit(e); verr != nil {
					return verr
				}
				seen++
			}
			if sizeLimited {
				return &Error{Operation: "search_paged", Category: CategorySizeLimit,
					DN: req.BaseDN, Cause: errors.New("size limit exceeded")}
			}

			ctrl := ldap.FindControl(res.Controls, ldap.ControlTypePaging)
			resp, ok := ctrl.(*ldap.ControlPaging)
			if !ok || len(resp.Cookie) == 0 {
				return nil
			}
			paging.SetCookie(resp.Cookie)
		}
	})
}

func (c *client) Add(ctx context.Context, req *AddRequest) error {
	return c.withConn(ctx, func(conn *ldap.Conn) error {
		ldapReq := ldap.NewAddRequest(req.DN, nil)
		for attr, values := range req.Attributes {
			ldapReq.Attribute(attr, values)
		}
		if err := conn.Add(ldapReq); err != nil {
			return WrapError("add", req.DN, err)
		}
		return nil
	})
}

func (c *client) Modify(ctx context.Context, req *ModifyRequest) error {
	return c.withConn(ctx, func(conn *ldap.Conn) error {
		if err := conn.Modify(buildModify(req, nil)); err != nil {
			return WrapError("modify", req.DN, err)
		}
		return nil
	})
}

func (c *client) TestAndModify(ctx context.Context, assertion string, req *ModifyRequest) (bool, error) {
	ctrl, err := newAssertionControl(assertion)
	if err != nil {
		return false, err
	}
	applied := false
	err = c.withConn(ctx, func(conn *ldap.Conn) error {
		err := conn.Modify(buildModify(req, []ldap.Control{ctrl}))
		if err != nil {
			if ldap.IsErrorWithCode(err, ldap.LDAPResultAssertionFailed) {
				return nil // assertion did not match: not an error
			}
			return WrapError("test_and_modify", req.DN, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

func (c *client) Delete(ctx context.Context, dn string) error {
	return c.withConn(ctx, func(conn *ldap.Conn) error {
		if err := conn.Del(ldap.NewDelRequest(dn, nil)); err != nil {
			return WrapError("delete", dn, err)
		}
		return nil
	})
}

func buildModify(req *ModifyRequest, controls []ldap.Control) *ldap.ModifyRequest {
	ldapReq := ldap.NewModifyRequest(req.DN, controls)
	for attr, values := range req.AddAttrs {
		ldapReq.Add(attr, values)
	}
	for attr, values := range req.ReplaceAttrs {
		ldapReq.Replace(attr, values)
	}
	for attr, values := range req.DeleteValues {
		ldapReq.Delete(attr, values)
	}
	for _, attr := range req.DeleteAttrs {
		ldapReq.Delete(attr, []string{})
	}
	return ldapReq
}

func ldapScope(s Scope) int {
	switch s {
	case ScopeBase:
		return ldap.ScopeBaseObject
	case ScopeOneLevel:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

// EntryAttributes flattens a search entry into an attribute map.
func EntryAttributes(e *ldap.Entry) map[string][]string {
	attrs := make(map[string][]string, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs[a.Name] = a.Values
	}
	return attrs
}

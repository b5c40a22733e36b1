package directory

import (
	"context"
	"crypto/tls"
	"errors"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// ExternalConfig describes a connection to a foreign directory, as
// carried on a domain entry rather than in the server configuration.
type ExternalConfig struct {
	URLs         []string
	StartTLS     bool
	BindDN       string
	BindPassword string
}

// Dialer opens clients against external directories. A package-level
// implementation dials real connections; tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, cfg *ExternalConfig) (Client, error)
}

type externalDialer struct {
	log zerolog.Logger
}

// NewDialer returns a Dialer backed by real connections.
func NewDialer(log zerolog.Logger) Dialer {
	return &externalDialer{log: log}
}

func (d *externalDialer) Dial(ctx context.Context, cfg *ExternalConfig) (Client, error) {
	c := DefaultConfig()
	c.URLs = cfg.URLs
	c.StartTLS = cfg.StartTLS
	c.BindDN = cfg.BindDN
	c.BindPassword = cfg.BindPassword
	c.TLSConfig = &tls.Config{}
	c.MaxConnections = 1
	return Dial(c, d.log)
}

// VerifyCredentials binds as dn with password against the directory
// described by cfg. It never reuses pooled connections: a bind changes
// the authorization state of a connection, so each check gets its own.
func VerifyCredentials(ctx context.Context, cfg *ExternalConfig, dn, password string) error {
	if password == "" {
		// An empty password would request an anonymous bind, which
		// most servers accept. Reject it before it reaches the wire.
		return &Error{Operation: "bind", Category: CategoryAuthentication, DN: dn,
			Cause: errors.New("empty password")}
	}
	conn, err := dialExternal(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Bind(dn, password); err != nil {
		return WrapError("bind", dn, err)
	}
	return nil
}

func dialExternal(ctx context.Context, cfg *ExternalConfig) (*ldap.Conn, error) {
	c := DefaultConfig()
	c.URLs = cfg.URLs
	c.StartTLS = cfg.StartTLS
	c.TLSConfig = &tls.Config{}
	var lastErr error
	for _, u := range cfg.URLs {
		conn, err := dialURL(ctx, u, c)
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = &Error{Operation: "dial", Category: CategoryConnection,
			Cause: errors.New("no directory URLs configured")}
	}
	return nil, lastErr
}

package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// pool keeps a bounded set of bound connections to one endpoint. Get
// hands out an idle connection or dials a new one; put returns it.
// Unhealthy connections are closed rather than recycled.
type pool struct {
	cfg *Config
	log zerolog.Logger

	mu     sync.Mutex
	idle   chan *ldap.Conn
	closed bool
}

func newPool(cfg *Config, log zerolog.Logger) (*pool, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.New("no directory URLs configured")
	}
	size := cfg.MaxConnections
	if size <= 0 {
		size = DefaultConfig().MaxConnections
	}
	return &pool{
		cfg:  cfg,
		log:  log,
		idle: make(chan *ldap.Conn, size),
	}, nil
}

func (p *pool) get(ctx context.Context) (*ldap.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("directory pool is closed")
	}
	p.mu.Unlock()

	select {
	case conn := <-p.idle:
		if conn != nil && !conn.IsClosing() {
			return conn, nil
		}
		if conn != nil {
			_ = conn.Close()
		}
	default:
	}
	return p.dial(ctx)
}

func (p *pool) put(conn *ldap.Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || conn.IsClosing() {
		_ = conn.Close()
		return
	}
	select {
	case p.idle <- conn:
	default:
		_ = conn.Close()
	}
}

// discard closes a connection that failed mid-operation instead of
// recycling it.
func (p *pool) discard(conn *ldap.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

func (p *pool) dial(ctx context.Context) (*ldap.Conn, error) {
	var lastErr error
	for _, rawURL := range p.cfg.URLs {
		conn, err := dialURL(ctx, rawURL, p.cfg)
		if err != nil {
			p.log.Debug().Err(err).Str("url", rawURL).Msg("directory dial failed")
			lastErr = err
			continue
		}
		if p.cfg.BindDN != "" {
			if err := conn.Bind(p.cfg.BindDN, p.cfg.BindPassword); err != nil {
				_ = conn.Close()
				lastErr = WrapError("bind", p.cfg.BindDN, err)
				continue
			}
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no directory URLs configured")
	}
	return nil, fmt.Errorf("all directory endpoints unreachable: %w", lastErr)
}

func (p *pool) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.idle)
	for conn := range p.idle {
		if conn != nil {
			_ = conn.Close()
		}
	}
	return nil
}

// dialURL opens one connection to an ldap:// or ldaps:// URL, applying
// the configured timeout and optional StartTLS upgrade.
func dialURL(ctx context.Context, rawURL string, cfg *Config) (*ldap.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid directory URL %q: %w", rawURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	tlsCfg := cfg.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if u.Scheme == "ldaps" {
		tlsCfg = tlsCfg.Clone()
		tlsCfg.ServerName = u.Hostname()
	}

	conn, err := ldap.DialURL(rawURL,
		ldap.DialWithDialer(&net.Dialer{Timeout: timeout}),
		ldap.DialWithTLSConfig(tlsCfg),
	)
	if err != nil {
		return nil, WrapError("dial", "", err)
	}
	conn.SetTimeout(timeout)

	if cfg.StartTLS && u.Scheme == "ldap" {
		stCfg := tlsCfg.Clone()
		stCfg.ServerName = u.Hostname()
		if err := conn.StartTLS(stCfg); err != nil {
			_ = conn.Close()
			return nil, WrapError("starttls", "", err)
		}
	}
	return conn, nil
}

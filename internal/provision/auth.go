package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/dirprov/internal/directory"
	"github.com/isometry/dirprov/internal/entry"
	"github.com/isometry/dirprov/internal/filter"
)

// CredentialVerifier checks a password by binding as dn against the
// directory described by cfg. Injectable for tests.
type CredentialVerifier func(ctx context.Context, cfg *directory.ExternalConfig, dn, password string) error

func (p *Provisioning) verifier() CredentialVerifier {
	if p.opts.Verify != nil {
		return p.opts.Verify
	}
	return directory.VerifyCredentials
}

// Authenticate verifies the account's credentials and login state.
// It returns nil on success, ErrMustChangePassword when the password
// is correct but flagged for forced change, ErrMaintenanceMode when
// the account status forbids login, and an *AuthFailure otherwise.
// Failed checks feed the lockout history.
func (p *Provisioning) Authenticate(ctx context.Context, account *entry.Entry, password string) error {
	if err := p.checkAccountStatus(ctx, account); err != nil {
		return err
	}

	if err := p.verifyPassword(ctx, account, password); err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return err
		}
		if rerr := p.RecordFailedLogin(ctx, account); rerr != nil {
			return rerr
		}
		return &AuthFailure{Account: account.Name(), Reason: "invalid credentials", Cause: err}
	}

	if account.HasAttr(AttrLockedTime) || account.HasAttr(AttrPasswordFailedLogins) ||
		account.HasAttr(AttrTwoFactorFailedLogins) {
		p.clearLockout(ctx, account)
	}
	p.updateLastLogon(ctx, account)

	if account.BoolAttr(AttrMustChangePass, false) {
		return ErrMustChangePassword
	}
	return nil
}

// checkAccountStatus gates login on the account status, re-arming an
// expired lockout as a side effect.
func (p *Provisioning) checkAccountStatus(ctx context.Context, account *entry.Entry) error {
	switch status := account.Attr(AttrAccountStatus); status {
	case StatusActive, "":
		return nil
	case StatusLockout:
		policy := p.lockoutPolicyFor(account)
		if lockoutExpired(policy, account, time.Now()) {
			p.clearLockout(ctx, account)
			return nil
		}
		return &AuthFailure{Account: account.Name(), Reason: "account locked out"}
	case StatusMaintenance, StatusPending:
		return ErrMaintenanceMode
	case StatusLocked:
		// Admin-locked, never expires on its own.
		return &AuthFailure{Account: account.Name(), Reason: "account locked"}
	case StatusClosed:
		return &AuthFailure{Account: account.Name(), Reason: "account closed"}
	default:
		return &AuthFailure{Account: account.Name(), Reason: "account status " + status}
	}
}

// verifyPassword dispatches on the owning domain's auth mechanism:
// external LDAP with optional fallback to local, or local bind.
func (p *Provisioning) verifyPassword(ctx context.Context, account *entry.Entry, password string) error {
	domain, err := p.domainOf(ctx, account)
	if err != nil {
		return err
	}

	mech := AuthMechLocal
	if domain != nil {
		if m := p.resolver.Resolve(domain, AttrAuthMech); m != "" {
			mech = m
		}
	}

	switch {
	case mech == AuthMechCustom || strings.HasPrefix(mech, AuthMechCustom+":"):
		name := strings.TrimPrefix(strings.TrimPrefix(mech, AuthMechCustom), ":")
		return p.customAuth(ctx, name, account, password)
	case mech == AuthMechLdap || mech == AuthMechAD:
		err := p.externalAuth(ctx, domain, account, password)
		if err == nil {
			return nil
		}
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return err
		}
		if domain.BoolAttr(AttrAuthFallbackToLocal, false) {
			p.log.Debug().Err(err).Str("account", account.Name()).
				Msg("external auth failed, falling back to local")
			return p.localAuth(ctx, account, password)
		}
		return err
	default:
		return p.localAuth(ctx, account, password)
	}
}

// CustomAuthHandler verifies credentials for domains whose auth
// mechanism names it ("custom:<name>").
type CustomAuthHandler func(ctx context.Context, account *entry.Entry, password string) error

// RegisterAuthHandler installs a named custom authentication handler.
// Handlers are registered at startup, before the service takes
// traffic.
func (p *Provisioning) RegisterAuthHandler(name string, h CustomAuthHandler) {
	p.authMu.Lock()
	p.authHandlers[name] = h
	p.authMu.Unlock()
}

func (p *Provisioning) customAuth(ctx context.Context, name string, account *entry.Entry, password string) error {
	p.authMu.RLock()
	h, ok := p.authHandlers[name]
	p.authMu.RUnlock()
	if !ok {
		return &ConfigError{Attr: AttrAuthMech,
			Msg: fmt.Sprintf("no custom auth handler registered under %q", name)}
	}
	return h(ctx, account, password)
}

// externalAuth verifies an account's credentials against the external
// directory, honouring an explicit external DN recorded on the
// account.
func (p *Provisioning) externalAuth(ctx context.Context, domain, account *entry.Entry, password string) error {
	return p.externalAuthName(ctx, domain, account.Name(), account.Attr(AttrAuthLdapExternalDn), password)
}

// externalAuthName resolves a login name's DN in the external
// directory and binds with the supplied password. Resolution order: an
// explicit external DN, then the domain's bind-DN template, then an
// admin-bound search.
func (p *Provisioning) externalAuthName(ctx context.Context, domain *entry.Entry, name, externalDN, password string) error {
	urls := p.resolver.ResolveMulti(domain, AttrAuthLdapURL)
	if len(urls) == 0 {
		return &ConfigError{Attr: AttrAuthLdapURL, Msg: "external auth enabled but no URL configured"}
	}
	cfg := &directory.ExternalConfig{
		URLs:     urls,
		StartTLS: domain.BoolAttr(AttrAuthLdapStartTLS, false),
	}
	verify := p.verifier()

	if externalDN != "" {
		return verify(ctx, cfg, externalDN, password)
	}

	if tmpl := p.resolver.Resolve(domain, AttrAuthLdapBindDn); tmpl != "" {
		return verify(ctx, cfg, expandBindDN(tmpl, name), password)
	}

	searchFilter := p.resolver.Resolve(domain, AttrAuthLdapSearchFilter)
	if searchFilter == "" {
		return &ConfigError{Attr: AttrAuthLdapSearchFilter,
			Msg: "external auth configured with neither bind DN template nor search filter"}
	}
	dn, err := p.searchExternalDN(ctx, domain, cfg, searchFilter, name)
	if err != nil {
		return err
	}
	return verify(ctx, cfg, dn, password)
}

// searchExternalDN locates the account in the external directory using
// the domain's admin search credentials.
func (p *Provisioning) searchExternalDN(ctx context.Context, domain *entry.Entry, cfg *directory.ExternalConfig, searchFilter, name string) (string, error) {
	searchCfg := &directory.ExternalConfig{
		URLs:         cfg.URLs,
		StartTLS:     cfg.StartTLS,
		BindDN:       p.resolver.Resolve(domain, AttrAuthLdapSearchBindDn),
		BindPassword: p.resolver.Resolve(domain, AttrAuthLdapSearchBindPass),
	}
	client, err := p.dialer.Dial(ctx, searchCfg)
	if err != nil {
		return "", err
	}
	defer client.Close()

	res, err := client.Search(ctx, &directory.SearchRequest{
		BaseDN:     p.resolver.Resolve(domain, AttrAuthLdapSearchBase),
		Scope:      directory.ScopeSubtree,
		Filter:     expandFilter(searchFilter, name),
		SizeLimit:  2,
		Attributes: []string{"dn"},
	})
	if err != nil {
		return "", err
	}
	switch len(res.Entries) {
	case 0:
		return "", &AuthFailure{Account: name, Reason: "not found in external directory"}
	case 1:
		return res.Entries[0].DN, nil
	default:
		return "", fmt.Errorf("%w: external search for %s", ErrTooManyResults, name)
	}
}

// localAuth binds as the account against the local directory.
func (p *Provisioning) localAuth(ctx context.Context, account *entry.Entry, password string) error {
	if p.opts.LocalAuth == nil {
		return &ConfigError{Msg: "local authentication endpoint not configured"}
	}
	return p.verifier()(ctx, p.opts.LocalAuth, account.DN(), password)
}

func (p *Provisioning) domainOf(ctx context.Context, account *entry.Entry) (*entry.Entry, error) {
	_, domainName, ok := strings.Cut(account.Name(), "@")
	if !ok {
		return nil, nil
	}
	return p.GetDomainByName(ctx, domainName)
}

// expandPlaceholders substitutes login-name parts into a bind DN or
// search filter template: %n is the full name, %u the local part, %d
// the domain, and %D the domain rendered as dc components. esc escapes
// each substituted value for the surrounding context so a crafted
// login name cannot widen a search or splice DN components.
func expandPlaceholders(tmpl, name string, esc func(string) string) string {
	local, domainPart, _ := strings.Cut(name, "@")
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '%' || i+1 >= len(tmpl) {
			b.WriteByte(tmpl[i])
			continue
		}
		i++
		switch tmpl[i] {
		case 'n':
			b.WriteString(esc(name))
		case 'u':
			b.WriteString(esc(local))
		case 'd':
			b.WriteString(esc(domainPart))
		case 'D':
			b.WriteString("dc=" + strings.ReplaceAll(domainPart, ".", ",dc="))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(tmpl[i])
		}
	}
	return b.String()
}

// expandBindDN expands a bind-DN template with RFC 4514 DN escaping.
func expandBindDN(tmpl, name string) string {
	return expandPlaceholders(tmpl, name, ldap.EscapeDN)
}

// expandFilter expands a search-filter template with RFC 2254 value
// escaping.
func expandFilter(tmpl, name string) string {
	return expandPlaceholders(tmpl, name, filter.EscapeValue)
}

// updateLastLogon stamps the last successful login, throttled by the
// configured frequency so hot accounts do not churn the directory.
func (p *Provisioning) updateLastLogon(ctx context.Context, account *entry.Entry) {
	freq := resolveDuration(p.resolver, account, AttrLastLogonFreq, 0)
	last := account.TimeAttr(AttrLastLogon)
	now := time.Now()
	if freq > 0 && !last.IsZero() && now.Sub(last) < freq {
		return
	}
	err := p.dir.Modify(ctx, &directory.ModifyRequest{
		DN:           account.DN(),
		ReplaceAttrs: map[string][]string{AttrLastLogon: {entry.FormatTime(now)}},
	})
	if err != nil {
		p.log.Warn().Err(err).Str("account", account.Name()).Msg("last-logon update failed")
	}
}

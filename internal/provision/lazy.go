package provision

import (
	"context"
	"strings"

	"github.com/isometry/dirprov/internal/directory"
	"github.com/isometry/dirprov/internal/entry"
)

// AutoProvisionLazy provisions an account inline during an
// authentication attempt. authedMech names the mechanism the caller
// has already authenticated the principal with; when empty, the
// principal is first authenticated here against the domain's external
// settings, and a failure abandons provisioning (returns nil, not an
// error). Provisioning also requires that the effective mechanism is
// in the domain's enabled set and that the lazy mode is enabled.
func (p *Provisioning) AutoProvisionLazy(ctx context.Context, domain *entry.Entry, loginName, password, authedMech string) (*entry.Entry, error) {
	if domain == nil {
		return nil, nil
	}

	mech := authedMech
	if mech == "" {
		if err := p.lazyExternalAuth(ctx, domain, loginName, password); err != nil {
			p.log.Debug().Err(err).Str("principal", loginName).
				Msg("external authentication failed, abandoning lazy provision")
			return nil, nil
		}
		mech = AuthMechLdap
	}

	if !authMechEnabled(domain, mech) || !modeEnabled(domain, AutoProvModeLazy) {
		return nil, nil
	}

	ext, err := p.fetchExternalByPrincipal(ctx, domain, loginName)
	if err != nil {
		return nil, err
	}
	external := make(map[string][]string, len(ext.Attributes))
	for _, a := range ext.Attributes {
		external[a.Name] = a.Values
	}
	address, err := p.mapExternalName(domain, external, loginName)
	if err != nil {
		return nil, err
	}
	attrs, err := p.mapExternalAttrs(domain, ext)
	if err != nil {
		return nil, err
	}
	return p.materializeAccount(ctx, domain, address, attrs)
}

// lazyExternalAuth authenticates the principal for the lazy trigger:
// against the dedicated auto-provision endpoint when the domain
// carries one with its own bind-DN template, else through the domain's
// external-auth settings. This is the one path binding with the end
// user's credentials rather than the admin's.
func (p *Provisioning) lazyExternalAuth(ctx context.Context, domain *entry.Entry, loginName, password string) error {
	urls := domain.MultiAttr(AttrAutoProvLdapURL)
	tmpl := domain.Attr(AttrAutoProvLdapBindDn)
	if len(urls) > 0 && tmpl != "" {
		cfg := &directory.ExternalConfig{
			URLs:     urls,
			StartTLS: domain.BoolAttr(AttrAutoProvLdapStartTLS, false),
		}
		return p.verifier()(ctx, cfg, expandBindDN(tmpl, loginName), password)
	}
	return p.externalAuthName(ctx, domain, loginName, "", password)
}

func authMechEnabled(domain *entry.Entry, mech string) bool {
	for _, m := range domain.MultiAttr(AttrAutoProvAuthMech) {
		if strings.EqualFold(m, mech) {
			return true
		}
	}
	return false
}

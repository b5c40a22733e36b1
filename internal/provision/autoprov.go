package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/dirprov/internal/directory"
	"github.com/isometry/dirprov/internal/entry"
	"github.com/isometry/dirprov/internal/filter"
	"github.com/isometry/dirprov/internal/gal"
)

// AccountListener observes accounts created by auto-provisioning.
// Listener failures are logged and never block provisioning.
type AccountListener func(ctx context.Context, domain, account *entry.Entry)

// RegisterAccountListener adds a listener for auto-provisioned
// accounts.
func (p *Provisioning) RegisterAccountListener(l AccountListener) {
	p.listenerMu.Lock()
	p.listeners = append(p.listeners, l)
	p.listenerMu.Unlock()
}

// domainDerived memoizes per-domain configuration parsed from
// attribute values: the auto-provision attribute-map rules, the
// account-name map, and the address-list source. Keyed by the domain's
// snapshot generation so a reload invalidates it.
type domainDerived struct {
	gen       uint64
	mapper    *gal.Mapper
	nameMap   string
	galSource *gal.Source
}

func (p *Provisioning) derivedFor(domain *entry.Entry) (*domainDerived, error) {
	gen := domain.Generation()
	p.derivedMu.Lock()
	defer p.derivedMu.Unlock()
	if d, ok := p.derived[domain.ID()]; ok && d.gen == gen {
		return d, nil
	}
	mapper, err := gal.NewMapper(domain.MultiAttr(AttrAutoProvAttrMap), nil, p.log)
	if err != nil {
		return nil, &ConfigError{Attr: AttrAutoProvAttrMap, Msg: err.Error()}
	}
	galSource, err := p.galSource(domain)
	if err != nil {
		return nil, err
	}
	d := &domainDerived{
		gen:       gen,
		mapper:    mapper,
		nameMap:   domain.Attr(AttrAutoProvAccountNameMap),
		galSource: galSource,
	}
	p.derived[domain.ID()] = d
	return d, nil
}

// modeEnabled reports whether the auto-provisioning mode is enabled on
// the domain.
func modeEnabled(domain *entry.Entry, mode string) bool {
	for _, m := range domain.MultiAttr(AttrAutoProvMode) {
		if strings.EqualFold(m, mode) {
			return true
		}
	}
	return false
}

// autoProvSource selects the external connection parameters for a
// domain: the dedicated auto-provision settings when present, else the
// domain's external-auth settings with its admin search credentials.
// Either way the admin credentials are used, never the end user's.
func (p *Provisioning) autoProvSource(domain *entry.Entry) (*directory.ExternalConfig, string, string, error) {
	if urls := domain.MultiAttr(AttrAutoProvLdapURL); len(urls) > 0 {
		cfg := &directory.ExternalConfig{
			URLs:         urls,
			StartTLS:     domain.BoolAttr(AttrAutoProvLdapStartTLS, false),
			BindDN:       domain.Attr(AttrAutoProvLdapAdminBindDn),
			BindPassword: domain.Attr(AttrAutoProvLdapAdminPass),
		}
		return cfg, domain.Attr(AttrAutoProvLdapSearchBase), domain.Attr(AttrAutoProvLdapSearchFilt), nil
	}
	urls := p.resolver.ResolveMulti(domain, AttrAuthLdapURL)
	if len(urls) == 0 {
		return nil, "", "", &ConfigError{Attr: AttrAutoProvLdapURL,
			Msg: "auto-provisioning enabled but no external directory configured"}
	}
	cfg := &directory.ExternalConfig{
		URLs:         urls,
		StartTLS:     domain.BoolAttr(AttrAuthLdapStartTLS, false),
		BindDN:       p.resolver.Resolve(domain, AttrAuthLdapSearchBindDn),
		BindPassword: p.resolver.Resolve(domain, AttrAuthLdapSearchBindPass),
	}
	return cfg, p.resolver.Resolve(domain, AttrAuthLdapSearchBase),
		p.resolver.Resolve(domain, AttrAuthLdapSearchFilter), nil
}

// mapExternalName derives the local address for an external entry: the
// value of the domain's configured name-map attribute, else the login
// name hint. A bare local part is qualified with the domain name.
func (p *Provisioning) mapExternalName(domain *entry.Entry, external map[string][]string, loginNameHint string) (string, error) {
	d, err := p.derivedFor(domain)
	if err != nil {
		return "", err
	}
	name := loginNameHint
	if d.nameMap != "" {
		if vs := external[d.nameMap]; len(vs) > 0 && vs[0] != "" {
			name = vs[0]
		}
	}
	if name == "" {
		return "", &ConfigError{Attr: AttrAutoProvAccountNameMap,
			Msg: "cannot derive local account name for external entry"}
	}
	if !strings.Contains(name, "@") {
		name = name + "@" + domain.Name()
	}
	return strings.ToLower(name), nil
}

// mapExternalAttrs runs the external entry through the domain's
// attribute-map rules.
func (p *Provisioning) mapExternalAttrs(domain *entry.Entry, e *ldap.Entry) (map[string][]string, error) {
	d, err := p.derivedFor(domain)
	if err != nil {
		return nil, err
	}
	external := make(map[string][]string, len(e.Attributes))
	raw := make(map[string][][]byte, len(e.Attributes))
	for _, a := range e.Attributes {
		external[a.Name] = a.Values
		raw[a.Name] = a.ByteValues
	}
	return d.mapper.Map(external, raw), nil
}

// fetchExternalByDN reads one entry from the external directory.
func (p *Provisioning) fetchExternalByDN(ctx context.Context, domain *entry.Entry, dn string) (*ldap.Entry, error) {
	cfg, _, _, err := p.autoProvSource(domain)
	if err != nil {
		return nil, err
	}
	client, err := p.dialer.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	res, err := client.Search(ctx, &directory.SearchRequest{
		BaseDN:    dn,
		Scope:     directory.ScopeBase,
		Filter:    "(objectClass=*)",
		SizeLimit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("%w: external entry %s", ErrNotFound, dn)
	}
	return res.Entries[0], nil
}

// fetchExternalByPrincipal locates the external entry for a login
// name via the domain's configured search filter.
func (p *Provisioning) fetchExternalByPrincipal(ctx context.Context, domain *entry.Entry, loginName string) (*ldap.Entry, error) {
	cfg, base, searchFilter, err := p.autoProvSource(domain)
	if err != nil {
		return nil, err
	}
	if searchFilter == "" {
		searchFilter = "(uid=%u)"
	}
	client, err := p.dialer.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	res, err := client.Search(ctx, &directory.SearchRequest{
		BaseDN:    base,
		Scope:     directory.ScopeSubtree,
		Filter:    expandFilter(searchFilter, loginName),
		SizeLimit: 2,
	})
	if err != nil {
		return nil, err
	}
	switch len(res.Entries) {
	case 0:
		return nil, fmt.Errorf("%w: principal %s", ErrNotFound, loginName)
	case 1:
		return res.Entries[0], nil
	default:
		return nil, fmt.Errorf("%w: principal %s matched multiple external entries", ErrTooManyResults, loginName)
	}
}

// materializeAccount creates the local account for a mapped external
// entry. The account is created without a password; the notification,
// when configured, is best effort.
func (p *Provisioning) materializeAccount(ctx context.Context, domain *entry.Entry, address string, attrs map[string][]string) (*entry.Entry, error) {
	account, err := p.CreateAccount(ctx, address, "", attrs)
	if err != nil {
		return nil, err
	}
	p.notifyNewAccount(ctx, domain, account)

	p.listenerMu.RLock()
	listeners := append([]AccountListener(nil), p.listeners...)
	p.listenerMu.RUnlock()
	for _, l := range listeners {
		l(ctx, domain, account)
	}
	return account, nil
}

func (p *Provisioning) notifyNewAccount(ctx context.Context, domain, account *entry.Entry) {
	if p.opts.Notifier == nil {
		return
	}
	from := domain.Attr(AttrAutoProvNotifyFrom)
	if from == "" {
		return
	}
	subject := domain.Attr(AttrAutoProvNotifySubject)
	if subject == "" {
		subject = "New account provisioned"
	}
	body := domain.Attr(AttrAutoProvNotifyBody)
	if err := p.opts.Notifier.NotifyNewAccount(ctx, from, account.Name(), subject, body); err != nil {
		p.log.Warn().Err(err).Str("account", account.Name()).
			Msg("new-account notification failed")
	}
}

// eagerSearchFilter builds the poll filter for entries created after
// the watermark. An empty watermark matches everything.
func eagerSearchFilter(configured, watermark string) string {
	base := configured
	if base == "" {
		base = "(objectClass=*)"
	}
	if watermark == "" {
		return base
	}
	return fmt.Sprintf("(&(createTimestamp>=%s)%s)", filter.EscapeValue(watermark), base)
}

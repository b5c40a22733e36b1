// Package provision implements the LDAP-backed provisioning layer:
// cached entity access with attribute inheritance, authentication with
// password lockout, auto-provisioning from external directories, and
// search over the local directory.
package provision

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/isometry/dirprov/internal/directory"
	"github.com/isometry/dirprov/internal/entry"
	"github.com/isometry/dirprov/internal/filter"
)

// Options configures a Provisioning service.
type Options struct {
	// BaseDN roots the local directory tree.
	BaseDN string

	// CacheSize and CacheTTL apply to each per-kind entry cache. A
	// size of zero disables caching for that service instance.
	CacheSize int
	CacheTTL  time.Duration

	// Notifier delivers new-account notifications. Optional; delivery
	// failures are logged, never propagated.
	Notifier Notifier

	// Dialer opens connections to external directories. Defaults to
	// real connections.
	Dialer directory.Dialer

	// LocalAuth describes the endpoint used for local credential
	// verification binds.
	LocalAuth *directory.ExternalConfig

	// Verify overrides the credential check. Defaults to a real bind.
	Verify CredentialVerifier
}

// Notifier delivers a notification about a newly provisioned account.
type Notifier interface {
	NotifyNewAccount(ctx context.Context, from, to, subject, body string) error
}

// ModifyHook observes attribute modifications. Pre hooks run before
// the directory write and may veto it by returning an error; post
// hooks run after a successful write.
type ModifyHook func(ctx context.Context, e *entry.Entry, mods *directory.ModifyRequest) error

// Provisioning is the provisioning service. All methods are safe for
// concurrent use.
type Provisioning struct {
	dir    directory.Client
	dialer directory.Dialer
	log    zerolog.Logger
	opts   Options

	accounts entry.Cache
	domains  entry.Cache
	cos      entry.Cache
	servers  entry.Cache

	configMu sync.Mutex
	config   *entry.Entry

	resolver *entry.Resolver

	hookMu    sync.RWMutex
	preHooks  []ModifyHook
	postHooks []ModifyHook

	listenerMu sync.RWMutex
	listeners  []AccountListener

	lockMu       sync.Mutex
	accountLocks map[string]*sync.Mutex

	authMu       sync.RWMutex
	authHandlers map[string]CustomAuthHandler

	derivedMu sync.Mutex
	derived   map[string]*domainDerived
}

// New builds a Provisioning service over the given directory client.
func New(dir directory.Client, opts Options, log zerolog.Logger) *Provisioning {
	p := &Provisioning{
		dir:          dir,
		dialer:       opts.Dialer,
		log:          log,
		opts:         opts,
		accounts:     entry.NewCache(opts.CacheSize, opts.CacheTTL),
		domains:      entry.NewCache(opts.CacheSize, opts.CacheTTL),
		cos:          entry.NewCache(opts.CacheSize, opts.CacheTTL),
		servers:      entry.NewCache(opts.CacheSize, opts.CacheTTL),
		accountLocks: make(map[string]*sync.Mutex),
		authHandlers: make(map[string]CustomAuthHandler),
		derived:      make(map[string]*domainDerived),
	}
	if p.dialer == nil {
		p.dialer = directory.NewDialer(log)
	}
	p.resolver = &entry.Resolver{
		ParentOf:          p.parentOf,
		ConfigOf:          p.cachedConfig,
		Inheritable:       p.inheritable,
		ConfigInheritable: p.configInheritable,
		Log:               log,
	}
	return p
}

// Resolver exposes the inheritance-aware attribute resolver.
func (p *Provisioning) Resolver() *entry.Resolver { return p.resolver }

// OnPreModify registers a hook invoked before attribute writes.
func (p *Provisioning) OnPreModify(h ModifyHook) {
	p.hookMu.Lock()
	p.preHooks = append(p.preHooks, h)
	p.hookMu.Unlock()
}

// OnPostModify registers a hook invoked after successful writes.
func (p *Provisioning) OnPostModify(h ModifyHook) {
	p.hookMu.Lock()
	p.postHooks = append(p.postHooks, h)
	p.hookMu.Unlock()
}

// --- DN layout ---

// DomainDN maps a domain name onto its directory path: each dot-label
// becomes a dc component under the base.
func (p *Provisioning) DomainDN(domainName string) string {
	labels := strings.Split(strings.ToLower(domainName), ".")
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, "dc="+l)
	}
	dn := strings.Join(parts, ",")
	if p.opts.BaseDN != "" {
		dn += "," + p.opts.BaseDN
	}
	return dn
}

// AccountDN maps an address onto its directory path.
func (p *Provisioning) AccountDN(address string) (string, error) {
	local, domainName, ok := strings.Cut(address, "@")
	if !ok || local == "" || domainName == "" {
		return "", fmt.Errorf("malformed address %q", address)
	}
	return fmt.Sprintf("uid=%s,ou=people,%s", local, p.DomainDN(domainName)), nil
}

func (p *Provisioning) configDN() string {
	if p.opts.BaseDN != "" {
		return "cn=config," + p.opts.BaseDN
	}
	return "cn=config"
}

func (p *Provisioning) serverBase() string {
	if p.opts.BaseDN != "" {
		return "cn=servers," + p.opts.BaseDN
	}
	return "cn=servers"
}

func (p *Provisioning) cosBase() string {
	if p.opts.BaseDN != "" {
		return "cn=cos," + p.opts.BaseDN
	}
	return "cn=cos"
}

// --- entity lookup ---

// GetAccountByID returns the account with the given unique id, or nil
// when no such account exists.
func (p *Provisioning) GetAccountByID(ctx context.Context, id string) (*entry.Entry, error) {
	return p.getByID(ctx, entry.KindAccount, p.accounts, id)
}

// GetAccountByName returns the account with the given address, or nil.
func (p *Provisioning) GetAccountByName(ctx context.Context, address string) (*entry.Entry, error) {
	address = strings.ToLower(address)
	if e, ok := p.accounts.GetByName(address); ok {
		return e, nil
	}
	e, err := p.findOne(ctx, entry.KindAccount, p.opts.BaseDN,
		fmt.Sprintf("(&(objectClass=%s)(mail=%s))", ClassAccount, filter.EscapeValue(address)))
	if err != nil || e == nil {
		return nil, err
	}
	p.accounts.Put(e)
	return e, nil
}

// GetDomainByID returns the domain with the given unique id, or nil.
func (p *Provisioning) GetDomainByID(ctx context.Context, id string) (*entry.Entry, error) {
	return p.getByID(ctx, entry.KindDomain, p.domains, id)
}

// GetDomainByName returns the named domain, or nil.
func (p *Provisioning) GetDomainByName(ctx context.Context, name string) (*entry.Entry, error) {
	name = strings.ToLower(name)
	if e, ok := p.domains.GetByName(name); ok {
		return e, nil
	}
	e, err := p.load(ctx, entry.KindDomain, p.DomainDN(name))
	if err != nil || e == nil {
		return nil, err
	}
	p.domains.Put(e)
	return e, nil
}

// GetCosByID returns the class of service with the given id, or nil.
func (p *Provisioning) GetCosByID(ctx context.Context, id string) (*entry.Entry, error) {
	return p.getByID(ctx, entry.KindCos, p.cos, id)
}

// GetCosByName returns the named class of service, or nil.
func (p *Provisioning) GetCosByName(ctx context.Context, name string) (*entry.Entry, error) {
	if e, ok := p.cos.GetByName(name); ok {
		return e, nil
	}
	e, err := p.load(ctx, entry.KindCos, fmt.Sprintf("cn=%s,%s", name, p.cosBase()))
	if err != nil || e == nil {
		return nil, err
	}
	p.cos.Put(e)
	return e, nil
}

// GetServerByID returns the server with the given id, or nil.
func (p *Provisioning) GetServerByID(ctx context.Context, id string) (*entry.Entry, error) {
	return p.getByID(ctx, entry.KindServer, p.servers, id)
}

// GetServerByName returns the named server, or nil.
func (p *Provisioning) GetServerByName(ctx context.Context, name string) (*entry.Entry, error) {
	if e, ok := p.servers.GetByName(name); ok {
		return e, nil
	}
	e, err := p.load(ctx, entry.KindServer, fmt.Sprintf("cn=%s,%s", name, p.serverBase()))
	if err != nil || e == nil {
		return nil, err
	}
	p.servers.Put(e)
	return e, nil
}

// GetConfig returns the global configuration entry.
func (p *Provisioning) GetConfig(ctx context.Context) (*entry.Entry, error) {
	p.configMu.Lock()
	defer p.configMu.Unlock()
	if p.config != nil {
		return p.config, nil
	}
	e, err := p.load(ctx, entry.KindConfig, p.configDN())
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &ConfigError{Msg: "global configuration entry missing at " + p.configDN()}
	}
	p.config = e
	return e, nil
}

func (p *Provisioning) getByID(ctx context.Context, kind entry.Kind, cache entry.Cache, id string) (*entry.Entry, error) {
	if e, ok := cache.GetByID(id); ok {
		return e, nil
	}
	class := markerClass(kind)
	e, err := p.findOne(ctx, kind, p.opts.BaseDN,
		fmt.Sprintf("(&(objectClass=%s)(%s=%s))", class, AttrID, filter.EscapeValue(id)))
	if err != nil || e == nil {
		return nil, err
	}
	cache.Put(e)
	return e, nil
}

// load fetches the entry at dn. Absence is nil, not an error.
func (p *Provisioning) load(ctx context.Context, kind entry.Kind, dn string) (*entry.Entry, error) {
	attrs, err := p.dir.GetAttributes(ctx, dn, nil)
	if err != nil {
		if directory.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return p.wrap(kind, dn, attrs), nil
}

func (p *Provisioning) findOne(ctx context.Context, kind entry.Kind, base, filterText string) (*entry.Entry, error) {
	res, err := p.dir.Search(ctx, &directory.SearchRequest{
		BaseDN:    base,
		Scope:     directory.ScopeSubtree,
		Filter:    filterText,
		SizeLimit: 2,
	})
	if err != nil {
		return nil, err
	}
	switch len(res.Entries) {
	case 0:
		return nil, nil
	case 1:
		le := res.Entries[0]
		return p.wrap(kind, le.DN, directory.EntryAttributes(le)), nil
	default:
		return nil, fmt.Errorf("%w: filter %s matched multiple entries", ErrTooManyResults, filterText)
	}
}

func (p *Provisioning) wrap(kind entry.Kind, dn string, attrs map[string][]string) *entry.Entry {
	name := entityName(kind, dn, attrs)
	id := ""
	if v := attrs[AttrID]; len(v) > 0 {
		id = v[0]
	}
	return entry.New(kind, id, dn, name, attrs)
}

func entityName(kind entry.Kind, dn string, attrs map[string][]string) string {
	var nameAttr string
	switch kind {
	case entry.KindAccount:
		nameAttr = AttrMail
	case entry.KindDomain:
		nameAttr = AttrDomainName
	default:
		nameAttr = AttrCN
	}
	if v := attrs[nameAttr]; len(v) > 0 {
		return strings.ToLower(v[0])
	}
	return dn
}

func markerClass(kind entry.Kind) string {
	switch kind {
	case entry.KindAccount:
		return ClassAccount
	case entry.KindDomain:
		return ClassDomain
	case entry.KindCos:
		return ClassCOS
	case entry.KindServer:
		return ClassServer
	case entry.KindGroup:
		return ClassGroup
	default:
		return ClassGlobalConfig
	}
}

// Refresh reloads an entry's attribute snapshot from the directory.
func (p *Provisioning) Refresh(ctx context.Context, e *entry.Entry) error {
	attrs, err := p.dir.GetAttributes(ctx, e.DN(), nil)
	if err != nil {
		return err
	}
	e.Reload(attrs)
	return nil
}

// --- inheritance wiring ---

// parentOf resolves the inheritance parent: account to its COS (via
// the account's COS id or the domain default), domain to global
// config, server to global config.
func (p *Provisioning) parentOf(e *entry.Entry) (*entry.Entry, error) {
	ctx := context.Background()
	switch e.Kind() {
	case entry.KindAccount:
		return p.cosOfAccount(ctx, e)
	case entry.KindDomain, entry.KindServer:
		return p.GetConfig(ctx)
	default:
		return nil, nil
	}
}

func (p *Provisioning) cachedConfig() (*entry.Entry, error) {
	return p.GetConfig(context.Background())
}

// cosOfAccount picks the account's explicit COS, falling back to the
// owning domain's default.
func (p *Provisioning) cosOfAccount(ctx context.Context, account *entry.Entry) (*entry.Entry, error) {
	if id := account.Attr(AttrCOSID); id != "" {
		return p.GetCosByID(ctx, id)
	}
	_, domainName, ok := strings.Cut(account.Name(), "@")
	if !ok {
		return nil, nil
	}
	domain, err := p.GetDomainByName(ctx, domainName)
	if err != nil || domain == nil {
		return nil, err
	}
	if id := domain.Attr(AttrDefaultCOSID); id != "" {
		return p.GetCosByID(ctx, id)
	}
	return p.GetCosByName(ctx, "default")
}

// inheritable consults the declared inheritable-name list for the
// child kind: accounts inherit from COS, domains and servers from
// global config, each via their own list.
func (p *Provisioning) inheritable(child entry.Kind, attr string) bool {
	var listAttr string
	switch child {
	case entry.KindAccount:
		listAttr = AttrCOSInheritedAttrs
	case entry.KindDomain:
		listAttr = AttrDomainInheritedAttrs
	case entry.KindServer:
		listAttr = AttrServerInheritedAttrs
	default:
		return false
	}
	return p.inInheritableList(listAttr, attr)
}

func (p *Provisioning) configInheritable(attr string) bool {
	return p.inInheritableList(AttrConfigInheritedAttrs, attr)
}

func (p *Provisioning) inInheritableList(listAttr, attr string) bool {
	config, err := p.GetConfig(context.Background())
	if err != nil || config == nil {
		return false
	}
	for _, name := range config.MultiAttr(listAttr) {
		if strings.EqualFold(name, attr) {
			return true
		}
	}
	return false
}

// --- create / modify / delete ---

// CreateAccount creates a local account at the given address. The
// password may be empty (auto-provisioned accounts are created without
// one). Returns the cached wrapper for the new account.
func (p *Provisioning) CreateAccount(ctx context.Context, address, password string, attrs map[string][]string) (*entry.Entry, error) {
	address = strings.ToLower(address)
	dn, err := p.AccountDN(address)
	if err != nil {
		return nil, err
	}
	local, domainName, _ := strings.Cut(address, "@")
	domain, err := p.GetDomainByName(ctx, domainName)
	if err != nil {
		return nil, err
	}
	if domain == nil {
		return nil, fmt.Errorf("%w: domain %s", ErrNotFound, domainName)
	}
	if existing, err := p.GetAccountByName(ctx, address); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("account %s already exists", address)
	}

	all := make(map[string][]string, len(attrs)+8)
	for k, v := range attrs {
		all[k] = v
	}
	all[AttrObjectClass] = append([]string{"inetOrgPerson", ClassAccount}, all[AttrObjectClass]...)
	all[AttrID] = []string{uuid.NewString()}
	all[AttrMail] = []string{address}
	all[AttrUID] = []string{local}
	all[AttrCreateTime] = []string{entry.FormatTime(time.Now())}
	if len(all[AttrAccountStatus]) == 0 {
		all[AttrAccountStatus] = []string{StatusActive}
	}
	if len(all[AttrCN]) == 0 {
		if disp := all[AttrDisplayName]; len(disp) > 0 {
			all[AttrCN] = []string{disp[0]}
		} else {
			all[AttrCN] = []string{local}
		}
	}
	if len(all[AttrSN]) == 0 {
		all[AttrSN] = []string{local}
	}
	if password != "" {
		all[AttrPasswordSet] = []string{password}
	}

	if err := p.dir.Add(ctx, &directory.AddRequest{DN: dn, Attributes: all}); err != nil {
		return nil, err
	}
	e := p.wrap(entry.KindAccount, dn, all)
	p.accounts.Put(e)
	p.log.Info().Str("account", address).Str("id", e.ID()).Msg("account created")
	return e, nil
}

// ModifyAttrs applies an attribute change list to an entry, runs the
// registered hooks, and refreshes both the snapshot and the cache.
func (p *Provisioning) ModifyAttrs(ctx context.Context, e *entry.Entry, mods *directory.ModifyRequest) error {
	mods.DN = e.DN()
	p.hookMu.RLock()
	pre := append([]ModifyHook(nil), p.preHooks...)
	post := append([]ModifyHook(nil), p.postHooks...)
	p.hookMu.RUnlock()

	for _, h := range pre {
		if err := h(ctx, e, mods); err != nil {
			return err
		}
	}
	if err := p.dir.Modify(ctx, mods); err != nil {
		return err
	}
	for _, h := range post {
		if err := h(ctx, e, mods); err != nil {
			p.log.Warn().Err(err).Str("dn", e.DN()).Msg("post-modify hook failed")
		}
	}
	if err := p.Refresh(ctx, e); err != nil {
		// Stale snapshots self-heal on the next cache expiry; dropping
		// the entry now keeps later reads honest.
		p.log.Warn().Err(err).Str("dn", e.DN()).Msg("refresh after modify failed")
		p.cacheFor(e.Kind()).Remove(e)
	}
	return nil
}

// DeleteAccount removes an account and evicts it from the cache.
func (p *Provisioning) DeleteAccount(ctx context.Context, id string) error {
	account, err := p.GetAccountByID(ctx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	if err := p.dir.Delete(ctx, account.DN()); err != nil {
		return err
	}
	p.accounts.Remove(account)
	p.log.Info().Str("account", account.Name()).Str("id", id).Msg("account deleted")
	return nil
}

func (p *Provisioning) cacheFor(kind entry.Kind) entry.Cache {
	switch kind {
	case entry.KindAccount:
		return p.accounts
	case entry.KindDomain:
		return p.domains
	case entry.KindCos:
		return p.cos
	case entry.KindServer:
		return p.servers
	default:
		return entry.NopCache{}
	}
}

// FlushCache drops all cached entries of the given kind.
func (p *Provisioning) FlushCache(kind entry.Kind) {
	if kind == entry.KindConfig {
		p.configMu.Lock()
		p.config = nil
		p.configMu.Unlock()
		return
	}
	p.cacheFor(kind).Clear()
}

// --- search ---

// SearchDirectory parses a caller-supplied filter, re-serializes it
// with value escaping, and runs a paged subtree search. The visitor is
// invoked once per matching entry.
func (p *Provisioning) SearchDirectory(ctx context.Context, query string, sizeLimit int, returnAttrs []string, visit directory.Visitor) error {
	node, err := filter.Parse(query)
	if err != nil {
		return err
	}
	s := &filter.Serializer{Policy: filter.EscapeValues, IDNAttrs: idnAttrs}
	text, err := s.Serialize(node)
	if err != nil {
		return err
	}
	err = p.dir.SearchPaged(ctx, &directory.SearchRequest{
		BaseDN:     p.opts.BaseDN,
		Scope:      directory.ScopeSubtree,
		Filter:     text,
		SizeLimit:  sizeLimit,
		Attributes: returnAttrs,
	}, visit)
	if directory.IsSizeLimitExceeded(err) {
		return fmt.Errorf("%w: %s", ErrTooManyResults, query)
	}
	return err
}

// idnAttrs flags attributes whose values carry internationalized
// domain names and need ASCII-compatible transcoding before hitting
// the wire.
var idnAttrs = map[string]bool{
	AttrMail:       true,
	AttrDomainName: true,
}

package provision

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/dirprov/internal/entry"
)

// PrincipalKind selects how a manual auto-provision request identifies
// the external entry.
type PrincipalKind int

const (
	// PrincipalDN identifies the entry by its external directory path.
	PrincipalDN PrincipalKind = iota
	// PrincipalName identifies the entry by login name, resolved
	// through the domain's configured search filter.
	PrincipalName
)

// AutoProvisionManual provisions one account on admin request. Unlike
// the lazy path, absence of the external entry and an already existing
// local account are both errors here.
func (p *Provisioning) AutoProvisionManual(ctx context.Context, domain *entry.Entry, kind PrincipalKind, principal string) (*entry.Entry, error) {
	if !modeEnabled(domain, AutoProvModeManual) {
		return nil, &ConfigError{Attr: AttrAutoProvMode,
			Msg: fmt.Sprintf("manual auto-provisioning not enabled on domain %s", domain.Name())}
	}

	var (
		ext *ldap.Entry
		err error
	)
	switch kind {
	case PrincipalDN:
		ext, err = p.fetchExternalByDN(ctx, domain, principal)
	case PrincipalName:
		ext, err = p.fetchExternalByPrincipal(ctx, domain, principal)
	default:
		return nil, fmt.Errorf("unknown principal kind %d", kind)
	}
	if err != nil {
		return nil, err
	}

	external := make(map[string][]string, len(ext.Attributes))
	for _, a := range ext.Attributes {
		external[a.Name] = a.Values
	}
	hint := ""
	if kind == PrincipalName {
		hint = principal
	}
	address, err := p.mapExternalName(domain, external, hint)
	if err != nil {
		return nil, err
	}
	attrs, err := p.mapExternalAttrs(domain, ext)
	if err != nil {
		return nil, err
	}
	return p.materializeAccount(ctx, domain, address, attrs)
}

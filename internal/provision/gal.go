package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/isometry/dirprov/internal/directory"
	"github.com/isometry/dirprov/internal/entry"
	"github.com/isometry/dirprov/internal/filter"
	"github.com/isometry/dirprov/internal/gal"
)

// galSource builds the domain's address-list source from its GAL
// attributes: attribute-map rules, value-substitution rules, and the
// objectClass values marking group entries.
func (p *Provisioning) galSource(domain *entry.Entry) (*gal.Source, error) {
	mapper, err := gal.NewMapper(domain.MultiAttr(AttrGalAttrMap),
		domain.MultiAttr(AttrGalValueMap), p.log)
	if err != nil {
		return nil, &ConfigError{Attr: AttrGalAttrMap, Msg: err.Error()}
	}
	mapper.MarkBinarySID("objectSid")

	groupClasses := domain.MultiAttr(AttrGalGroupObjectClass)
	if len(groupClasses) == 0 {
		groupClasses = []string{ClassGroup}
	}
	return &gal.Source{
		Mapper:  mapper,
		IsGroup: gal.ObjectClassPredicate(groupClasses...),
	}, nil
}

// SearchGal runs an address-list query against the local directory
// under the domain's internal search base and maps each hit through
// the domain's GAL rules. Hitting the size limit is not an error; the
// listing is simply truncated.
func (p *Provisioning) SearchGal(ctx context.Context, domain *entry.Entry, query string, limit int) ([]*gal.Contact, error) {
	d, err := p.derivedFor(domain)
	if err != nil {
		return nil, err
	}
	base := domain.Attr(AttrGalInternalSearchBase)
	if base == "" {
		base = domain.DN()
	}

	searchFilter := "(objectClass=*)"
	if q := filter.EscapeValue(strings.TrimSpace(query)); q != "" {
		searchFilter = fmt.Sprintf("(|(cn=*%s*)(sn=*%s*)(displayName=*%s*)(mail=*%s*))", q, q, q, q)
	}

	res, err := p.dir.Search(ctx, &directory.SearchRequest{
		BaseDN:    base,
		Scope:     directory.ScopeSubtree,
		Filter:    searchFilter,
		SizeLimit: limit,
	})
	if err != nil {
		return nil, err
	}

	contacts := make([]*gal.Contact, 0, len(res.Entries))
	for _, e := range res.Entries {
		contact, err := d.galSource.Transform(ctx, e)
		if err != nil {
			p.log.Warn().Err(err).Str("dn", e.DN).Msg("address-list group expansion failed")
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

package provision

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/isometry/dirprov/internal/directory"
	"github.com/isometry/dirprov/internal/entry"
)

const defaultEagerBatchSize = 20

// RunEagerBatch polls the domain's external directory for entries
// created since the persisted watermark and provisions an account for
// each, bounded by the configured batch size.
//
// Cross-process exclusion uses a conditional directory write: the lock
// attribute is set only if the assertion "currently unlocked" holds.
// When another process holds the lock the whole cycle is skipped; the
// next scheduled poll retries. The watermark is persisted exactly once
// on the way out, carrying the highest creation timestamp seen even
// when an error aborted the batch partway, so no entry is silently
// dropped (some may be reprocessed).
func (p *Provisioning) RunEagerBatch(ctx context.Context, domain *entry.Entry) error {
	if !modeEnabled(domain, AutoProvModeEager) {
		p.log.Debug().Str("domain", domain.Name()).Msg("eager auto-provisioning not enabled")
		return nil
	}

	token := uuid.NewString()
	acquired, err := p.acquireAutoProvLock(ctx, domain, token)
	if err != nil {
		return err
	}
	if !acquired {
		p.log.Debug().Str("domain", domain.Name()).
			Msg("auto-provision lock held elsewhere, skipping poll cycle")
		return nil
	}

	// The cached snapshot may predate a watermark another process wrote.
	// Re-read it under the lock so a stale poll cannot move it backwards.
	if err := p.Refresh(ctx, domain); err != nil {
		p.releaseAutoProvLock(ctx, domain, "", "")
		return err
	}

	watermark := domain.Attr(AttrAutoProvLastPolled)
	latest := watermark
	defer func() {
		p.releaseAutoProvLock(ctx, domain, watermark, latest)
	}()

	batchSize := domain.IntAttr(AttrAutoProvBatchSize, defaultEagerBatchSize)
	cfg, base, configured, err := p.autoProvSource(domain)
	if err != nil {
		return err
	}
	client, err := p.dialer.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Search(ctx, &directory.SearchRequest{
		BaseDN:    base,
		Scope:     directory.ScopeSubtree,
		Filter:    eagerSearchFilter(configured, watermark),
		SizeLimit: batchSize,
	})
	if err != nil {
		return err
	}

	p.log.Info().Str("domain", domain.Name()).
		Int("entries", len(res.Entries)).
		Str("watermark", watermark).
		Msg("eager auto-provision batch")

	for _, ext := range res.Entries {
		if ts := ext.GetAttributeValue("createTimestamp"); ts != "" {
			latest = entry.LaterTimestamp(latest, ts)
		}
		external := make(map[string][]string, len(ext.Attributes))
		for _, a := range ext.Attributes {
			external[a.Name] = a.Values
		}
		address, err := p.mapExternalName(domain, external, "")
		if err != nil {
			return err
		}
		existing, err := p.GetAccountByName(ctx, address)
		if err != nil {
			return err
		}
		if existing != nil {
			// Already provisioned, most likely by a lazy trigger or an
			// earlier overlapping poll window.
			continue
		}
		attrs, err := p.mapExternalAttrs(domain, ext)
		if err != nil {
			return err
		}
		if _, err := p.materializeAccount(ctx, domain, address, attrs); err != nil {
			return err
		}
	}
	return nil
}

// acquireAutoProvLock attempts the conditional lock write. Returns
// false without error when another process already holds the lock.
func (p *Provisioning) acquireAutoProvLock(ctx context.Context, domain *entry.Entry, token string) (bool, error) {
	assertion := fmt.Sprintf("(!(%s=*))", AttrAutoProvLock)
	return p.dir.TestAndModify(ctx, assertion, &directory.ModifyRequest{
		DN:           domain.DN(),
		ReplaceAttrs: map[string][]string{AttrAutoProvLock: {token}},
	})
}

// releaseAutoProvLock drops the lock and persists the watermark in a
// single write, then refreshes the domain snapshot.
func (p *Provisioning) releaseAutoProvLock(ctx context.Context, domain *entry.Entry, old, latest string) {
	mods := &directory.ModifyRequest{
		DN:          domain.DN(),
		DeleteAttrs: []string{AttrAutoProvLock},
	}
	if latest != "" && latest != old {
		mods.ReplaceAttrs = map[string][]string{AttrAutoProvLastPolled: {latest}}
	}
	if err := p.dir.Modify(ctx, mods); err != nil {
		p.log.Error().Err(err).Str("domain", domain.Name()).
			Msg("auto-provision lock release failed")
		return
	}
	if err := p.Refresh(ctx, domain); err != nil {
		p.log.Warn().Err(err).Str("domain", domain.Name()).
			Msg("domain refresh after poll cycle failed")
	}
}

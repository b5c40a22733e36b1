package provision

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/isometry/dirprov/internal/directory"
	"github.com/isometry/dirprov/internal/entry"
)

// Password lockout: each failed credential check appends a timestamp
// to a per-account failure list; crossing the configured threshold
// flips the account status to lockout until the lockout window
// expires. Policy attributes resolve through inheritance, so a COS can
// set the policy for all its accounts.

type lockoutPolicy struct {
	enabled         bool
	maxFailures     int
	duration        time.Duration
	failureLifetime time.Duration
	suppressSecond  bool
}

func (p *Provisioning) lockoutPolicyFor(account *entry.Entry) lockoutPolicy {
	r := p.resolver
	return lockoutPolicy{
		enabled:         r.Resolve(account, AttrLockoutEnabled) == "TRUE",
		maxFailures:     resolveInt(r, account, AttrLockoutMaxFailures, 0),
		duration:        resolveDuration(r, account, AttrLockoutDuration, 0),
		failureLifetime: resolveDuration(r, account, AttrLockoutFailureLifetime, 0),
		suppressSecond:  r.Resolve(account, AttrLockoutSuppressTwoFA) == "TRUE",
	}
}

// accountLock returns the per-account mutex serialising lockout
// read-modify-write cycles. Concurrent failed logins for one account
// would otherwise race on the failure list.
func (p *Provisioning) accountLock(id string) *sync.Mutex {
	p.lockMu.Lock()
	defer p.lockMu.Unlock()
	mu, ok := p.accountLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		p.accountLocks[id] = mu
	}
	return mu
}

// RecordFailedLogin registers a failed password check against the
// account's failure history and locks the account out when the
// threshold is crossed. List persistence failures are logged and
// swallowed; a failed lockout transition propagates.
func (p *Provisioning) RecordFailedLogin(ctx context.Context, account *entry.Entry) error {
	return p.recordFailure(ctx, account, AttrPasswordFailedLogins)
}

// RecordFailedSecondFactor registers a failed second-factor check.
// When suppression is enabled on the policy, second-factor failures do
// not count toward lockout.
func (p *Provisioning) RecordFailedSecondFactor(ctx context.Context, account *entry.Entry) error {
	policy := p.lockoutPolicyFor(account)
	if policy.suppressSecond {
		return nil
	}
	return p.recordFailure(ctx, account, AttrTwoFactorFailedLogins)
}

func (p *Provisioning) recordFailure(ctx context.Context, account *entry.Entry, listAttr string) error {
	policy := p.lockoutPolicyFor(account)
	if !policy.enabled || policy.maxFailures <= 0 {
		return nil
	}

	mu := p.accountLock(account.ID())
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	stamp := entry.FormatTimeMs(now)
	failures := account.MultiAttr(listAttr)
	sort.Strings(failures)

	// Expire failures older than the configured lifetime. The
	// timestamp format is fixed width, so lexicographic order is
	// chronological order.
	kept := failures
	if policy.failureLifetime > 0 {
		cutoff := entry.FormatTimeMs(now.Add(-policy.failureLifetime))
		i := sort.SearchStrings(failures, cutoff)
		kept = failures[i:]
	}
	pruned := len(kept) < len(failures)

	// Nothing aged out but the list is full: displace the oldest so the
	// window keeps sliding, unless it carries the same timestamp we are
	// about to add.
	if !pruned && len(kept) >= policy.maxFailures && len(kept) > 0 && kept[0] != stamp {
		kept = kept[1:]
	}
	kept = append(append([]string(nil), kept...), stamp)

	if err := p.dir.Modify(ctx, &directory.ModifyRequest{
		DN:           account.DN(),
		ReplaceAttrs: map[string][]string{listAttr: kept},
	}); err != nil {
		p.log.Warn().Err(err).Str("account", account.Name()).
			Msg("failed-login history update failed")
	}

	// Only transition; an account already at lockout keeps its original
	// locked time, so further failures cannot slide the expiry forward.
	if len(kept) >= policy.maxFailures && account.Attr(AttrAccountStatus) != StatusLockout {
		if err := p.lockAccount(ctx, account, now); err != nil {
			return err
		}
	}
	if err := p.Refresh(ctx, account); err != nil {
		p.log.Warn().Err(err).Str("account", account.Name()).Msg("refresh after lockout update failed")
	}
	return nil
}

func (p *Provisioning) lockAccount(ctx context.Context, account *entry.Entry, now time.Time) error {
	p.log.Info().Str("account", account.Name()).Msg("lockout threshold reached, locking account")
	return p.dir.Modify(ctx, &directory.ModifyRequest{
		DN: account.DN(),
		ReplaceAttrs: map[string][]string{
			AttrAccountStatus: {StatusLockout},
			AttrLockedTime:    {entry.FormatTimeMs(now)},
		},
	})
}

// lockoutExpired reports whether a locked-out account's window has
// elapsed. A zero duration locks the account until an admin clears it.
func lockoutExpired(policy lockoutPolicy, account *entry.Entry, now time.Time) bool {
	if policy.duration <= 0 {
		return false
	}
	lockedAt := account.TimeAttr(AttrLockedTime)
	if lockedAt.IsZero() {
		return true
	}
	return !now.Before(lockedAt.Add(policy.duration))
}

// clearLockout rearms the account after a successful login: active
// status, no locked time, empty failure history.
func (p *Provisioning) clearLockout(ctx context.Context, account *entry.Entry) {
	mu := p.accountLock(account.ID())
	mu.Lock()
	defer mu.Unlock()

	// Deleting an attribute the entry does not carry fails the whole
	// modify, so only the attributes actually present go in the request.
	mods := &directory.ModifyRequest{DN: account.DN()}
	for _, attr := range []string{AttrLockedTime, AttrPasswordFailedLogins, AttrTwoFactorFailedLogins} {
		if account.HasAttr(attr) {
			mods.DeleteAttrs = append(mods.DeleteAttrs, attr)
		}
	}
	if account.Attr(AttrAccountStatus) == StatusLockout {
		mods.ReplaceAttrs = map[string][]string{AttrAccountStatus: {StatusActive}}
	}
	if len(mods.DeleteAttrs) == 0 && mods.ReplaceAttrs == nil {
		return
	}
	if err := p.dir.Modify(ctx, mods); err != nil {
		p.log.Warn().Err(err).Str("account", account.Name()).Msg("lockout clear failed")
		return
	}
	if err := p.Refresh(ctx, account); err != nil {
		p.log.Warn().Err(err).Str("account", account.Name()).Msg("refresh after lockout clear failed")
	}
}

func resolveInt(r *entry.Resolver, e *entry.Entry, attr string, def int) int {
	v := r.Resolve(e, attr)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func resolveDuration(r *entry.Resolver, e *entry.Entry, attr string, def time.Duration) time.Duration {
	v := r.Resolve(e, attr)
	if v == "" {
		return def
	}
	d, err := entry.ParseInterval(v)
	if err != nil {
		return def
	}
	return d
}

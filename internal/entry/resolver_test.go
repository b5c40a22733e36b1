package entry

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testResolver(parent *Entry, parentErr error, inheritable map[string]bool) *Resolver {
	return &Resolver{
		ParentOf: func(*Entry) (*Entry, error) {
			return parent, parentErr
		},
		Inheritable: func(_ Kind, attr string) bool {
			return inheritable[attr]
		},
		Log: zerolog.Nop(),
	}
}

func TestResolver_LocalValueWins(t *testing.T) {
	cos := New(KindCos, "cos-1", "cn=default,cn=cos", "default",
		map[string][]string{"quota": {"1000"}})
	account := New(KindAccount, "acct-1", "uid=a", "a@example.com",
		map[string][]string{"quota": {"500"}})
	r := testResolver(cos, nil, map[string]bool{"quota": true})

	assert.Equal(t, "500", r.Resolve(account, "quota"))
}

func TestResolver_FallsThroughToParent(t *testing.T) {
	cos := New(KindCos, "cos-1", "cn=default,cn=cos", "default",
		map[string][]string{"quota": {"1000"}, "features": {"mail", "calendar"}})
	account := New(KindAccount, "acct-1", "uid=a", "a@example.com", nil)
	r := testResolver(cos, nil, map[string]bool{"quota": true, "features": true})

	assert.Equal(t, "1000", r.Resolve(account, "quota"))
	assert.Equal(t, []string{"mail", "calendar"}, r.ResolveMulti(account, "features"))
}

func TestResolver_NonInheritableStaysEmpty(t *testing.T) {
	// The parent has a value, but the attribute is not declared
	// inheritable: the resolved value must still be empty.
	cos := New(KindCos, "cos-1", "cn=default,cn=cos", "default",
		map[string][]string{"adminSecret": {"s3cret"}})
	account := New(KindAccount, "acct-1", "uid=a", "a@example.com", nil)
	r := testResolver(cos, nil, map[string]bool{})

	assert.Equal(t, "", r.Resolve(account, "adminSecret"))
	assert.Nil(t, r.ResolveMulti(account, "adminSecret"))
}

func TestResolver_SingleHopOnly(t *testing.T) {
	// The parent's own resolution is never consulted: only its local
	// snapshot. A value one level further up stays invisible.
	cos := New(KindCos, "cos-1", "cn=default,cn=cos", "default", nil)
	account := New(KindAccount, "acct-1", "uid=a", "a@example.com", nil)
	r := testResolver(cos, nil, map[string]bool{"quota": true})

	assert.Equal(t, "", r.Resolve(account, "quota"))
}

func TestResolver_ParentFetchErrorIsAbsence(t *testing.T) {
	account := New(KindAccount, "acct-1", "uid=a", "a@example.com", nil)
	r := testResolver(nil, errors.New("directory unavailable"), map[string]bool{"quota": true})

	assert.Equal(t, "", r.Resolve(account, "quota"))
}

func TestResolver_AccountConfigPath(t *testing.T) {
	config := New(KindConfig, "cfg", "cn=config", "config",
		map[string][]string{"globalFeature": {"enabled"}})
	account := New(KindAccount, "acct-1", "uid=a", "a@example.com", nil)
	r := &Resolver{
		ParentOf:    func(*Entry) (*Entry, error) { return nil, nil },
		ConfigOf:    func() (*Entry, error) { return config, nil },
		Inheritable: func(Kind, string) bool { return false },
		ConfigInheritable: func(attr string) bool {
			return attr == "globalFeature"
		},
		Log: zerolog.Nop(),
	}

	assert.Equal(t, "enabled", r.Resolve(account, "globalFeature"))
	assert.Equal(t, "", r.Resolve(account, "otherAttr"))
}

func TestResolver_ConfigPathOnlyForAccounts(t *testing.T) {
	config := New(KindConfig, "cfg", "cn=config", "config",
		map[string][]string{"globalFeature": {"enabled"}})
	domain := New(KindDomain, "dom-1", "dc=example,dc=com", "example.com", nil)
	r := &Resolver{
		Inheritable:       func(Kind, string) bool { return false },
		ConfigInheritable: func(string) bool { return true },
		ConfigOf:          func() (*Entry, error) { return config, nil },
		Log:               zerolog.Nop(),
	}

	assert.Equal(t, "", r.Resolve(domain, "globalFeature"))
}

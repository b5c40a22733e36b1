package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirprov/internal/directory"
	"github.com/isometry/dirprov/internal/entry"
)

// stubVerifier returns a CredentialVerifier accepting only the given
// password, recording the DNs it was asked to bind as.
func stubVerifier(accept string, boundDNs *[]string) CredentialVerifier {
	return func(ctx context.Context, cfg *directory.ExternalConfig, dn, password string) error {
		if boundDNs != nil {
			*boundDNs = append(*boundDNs, dn)
		}
		if password == accept {
			return nil
		}
		return &directory.Error{Operation: "bind", Category: directory.CategoryAuthentication, DN: dn}
	}
}

func authService(client directory.Client, verify CredentialVerifier) *Provisioning {
	return New(client, Options{
		BaseDN:    testBaseDN,
		CacheSize: 100,
		CacheTTL:  time.Minute,
		LocalAuth: &directory.ExternalConfig{URLs: []string{"ldap://localhost"}},
		Verify:    verify,
	}, zerolog.Nop())
}

func authAccount(extra map[string][]string) *entry.Entry {
	attrs := map[string][]string{
		AttrID:            {"acct-0001"},
		AttrMail:          {"jdoe@example.com"},
		AttrAccountStatus: {StatusActive},
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return entry.New(entry.KindAccount, "acct-0001",
		"uid=jdoe,ou=people,"+testBaseDN, "jdoe@example.com", attrs)
}

func stubDomain(client *MockClient, extra map[string][]string) {
	attrs := domainAttrs()
	for k, v := range extra {
		attrs[k] = v
	}
	client.On("GetAttributes", mock.Anything, "dc=example,dc=com,"+testBaseDN, []string(nil)).
		Return(attrs, nil)
}

func TestAuthenticate_LocalSuccess(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	var bound []string
	p := authService(client, stubVerifier("hunter2", &bound))
	account := authAccount(nil)

	stubDomain(client, nil)
	client.On("Modify", mock.Anything, mock.Anything).Return(nil) // last-logon stamp

	err := p.Authenticate(ctxb(), account, "hunter2")
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, account.DN(), bound[0])
}

func TestAuthenticate_WrongPasswordRecordsFailure(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	p := authService(client, stubVerifier("hunter2", nil))
	account := authAccount(map[string][]string{
		AttrLockoutEnabled:     {"TRUE"},
		AttrLockoutMaxFailures: {"5"},
	})

	stubDomain(client, nil)
	historyWritten := false
	client.On("Modify", mock.Anything, mock.MatchedBy(func(req *directory.ModifyRequest) bool {
		_, ok := req.ReplaceAttrs[AttrPasswordFailedLogins]
		historyWritten = historyWritten || ok
		return true
	})).Return(nil)
	client.On("GetAttributes", mock.Anything, account.DN(), []string(nil)).
		Return(account.AttrSnapshot(), nil)

	err := p.Authenticate(ctxb(), account, "wrong")
	require.Error(t, err)
	assert.True(t, IsAuthFailure(err))
	assert.True(t, historyWritten)
}

func TestAuthenticate_MaintenanceMode(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	p := authService(client, stubVerifier("hunter2", nil))
	account := authAccount(map[string][]string{AttrAccountStatus: {StatusMaintenance}})

	err := p.Authenticate(ctxb(), account, "hunter2")
	assert.ErrorIs(t, err, ErrMaintenanceMode)
}

func TestAuthenticate_LockedOut(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	p := authService(client, stubVerifier("hunter2", nil))
	account := authAccount(map[string][]string{
		AttrAccountStatus:   {StatusLockout},
		AttrLockoutDuration: {"1h"},
		AttrLockedTime:      {entry.FormatTimeMs(time.Now().Add(-5 * time.Minute))},
	})

	err := p.Authenticate(ctxb(), account, "hunter2")
	require.Error(t, err)
	assert.True(t, IsAuthFailure(err))
}

func TestAuthenticate_ExpiredLockoutRearms(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	p := authService(client, stubVerifier("hunter2", nil))
	account := authAccount(map[string][]string{
		AttrAccountStatus:        {StatusLockout},
		AttrLockoutDuration:      {"1h"},
		AttrLockedTime:           {entry.FormatTimeMs(time.Now().Add(-2 * time.Hour))},
		AttrPasswordFailedLogins: {entry.FormatTimeMs(time.Now().Add(-2 * time.Hour))},
	})

	stubDomain(client, nil)
	reactivated := false
	client.On("Modify", mock.Anything, mock.MatchedBy(func(req *directory.ModifyRequest) bool {
		if vs, ok := req.ReplaceAttrs[AttrAccountStatus]; ok && vs[0] == StatusActive {
			reactivated = true
		}
		return true
	})).Return(nil)
	client.On("GetAttributes", mock.Anything, account.DN(), []string(nil)).
		Return(authAccount(nil).AttrSnapshot(), nil)

	err := p.Authenticate(ctxb(), account, "hunter2")
	require.NoError(t, err)
	assert.True(t, reactivated)
}

func TestAuthenticate_MustChangePassword(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	p := authService(client, stubVerifier("hunter2", nil))
	account := authAccount(map[string][]string{AttrMustChangePass: {"TRUE"}})

	stubDomain(client, nil)
	client.On("Modify", mock.Anything, mock.Anything).Return(nil)

	err := p.Authenticate(ctxb(), account, "hunter2")
	assert.ErrorIs(t, err, ErrMustChangePassword)
}

func TestAuthenticate_ExternalBindDNTemplate(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	var bound []string
	p := authService(client, stubVerifier("hunter2", &bound))
	account := authAccount(nil)

	stubDomain(client, map[string][]string{
		AttrAuthMech:       {AuthMechLdap},
		AttrAuthLdapURL:    {"ldap://corp.example.net"},
		AttrAuthLdapBindDn: {"uid=%u,ou=staff,dc=corp"},
	})
	client.On("Modify", mock.Anything, mock.Anything).Return(nil)

	err := p.Authenticate(ctxb(), account, "hunter2")
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, "uid=jdoe,ou=staff,dc=corp", bound[0])
}

func TestAuthenticate_ExternalFallbackToLocal(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	calls := 0
	verify := func(ctx context.Context, cfg *directory.ExternalConfig, dn, password string) error {
		calls++
		if calls == 1 {
			// External directory rejects.
			return &directory.Error{Operation: "bind", Category: directory.CategoryAuthentication}
		}
		return nil
	}
	p := authService(client, verify)
	account := authAccount(nil)

	stubDomain(client, map[string][]string{
		AttrAuthMech:            {AuthMechLdap},
		AttrAuthLdapURL:         {"ldap://corp.example.net"},
		AttrAuthLdapBindDn:      {"uid=%u,dc=corp"},
		AttrAuthFallbackToLocal: {"TRUE"},
	})
	client.On("Modify", mock.Anything, mock.Anything).Return(nil)

	err := p.Authenticate(ctxb(), account, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestAuthenticate_ExternalMissingConfig(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	p := authService(client, stubVerifier("hunter2", nil))
	account := authAccount(map[string][]string{
		AttrLockoutEnabled: {"FALSE"},
	})

	stubDomain(client, map[string][]string{
		AttrAuthMech: {AuthMechLdap},
		// No URL: a configuration error, not an auth failure.
	})

	err := p.Authenticate(ctxb(), account, "hunter2")
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, IsAuthFailure(err))
	client.AssertNotCalled(t, "Modify", mock.Anything, mock.Anything)
}

func TestExpandFilter(t *testing.T) {
	cases := []struct {
		tmpl, want string
	}{
		{"(uid=%u)", "(uid=jdoe)"},
		{"(mail=%n)", "(mail=jdoe@example.com)"},
		{"(userPrincipalName=%u@%d)", "(userPrincipalName=jdoe@example.com)"},
		{"%D", "dc=example,dc=com"},
		{"100%%", "100%"},
		{"%x", "%x"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, expandFilter(c.tmpl, "jdoe@example.com"), c.tmpl)
	}

	// Filter metacharacters in the login name must not widen the search.
	assert.Equal(t, "(uid=j\\2adoe)", expandFilter("(uid=%u)", "j*doe@example.com"))
}

func TestExpandBindDN(t *testing.T) {
	assert.Equal(t, "uid=jdoe,ou=staff,dc=corp",
		expandBindDN("uid=%u,ou=staff,dc=corp", "jdoe@example.com"))

	// DN metacharacters must not splice extra components into the bind
	// DN; this is 4514 escaping, not filter escaping.
	assert.Equal(t, "uid=jdoe\\,ou=admins,ou=staff,dc=corp",
		expandBindDN("uid=%u,ou=staff,dc=corp", "jdoe,ou=admins@example.com"))
}

func TestUpdateLastLogon_Throttled(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	p := authService(client, stubVerifier("hunter2", nil))

	account := authAccount(map[string][]string{
		AttrLastLogon:     {entry.FormatTime(time.Now().Add(-time.Minute))},
		AttrLastLogonFreq: {"1h"},
	})
	p.updateLastLogon(ctxb(), account)
	client.AssertNotCalled(t, "Modify", mock.Anything, mock.Anything)

	stale := authAccount(map[string][]string{
		AttrLastLogon:     {entry.FormatTime(time.Now().Add(-2 * time.Hour))},
		AttrLastLogonFreq: {"1h"},
	})
	client.On("Modify", mock.Anything, mock.MatchedBy(func(req *directory.ModifyRequest) bool {
		_, ok := req.ReplaceAttrs[AttrLastLogon]
		return ok
	})).Return(nil)
	p.updateLastLogon(ctxb(), stale)
	client.AssertExpectations(t)
}

func TestUpdateLastLogon_SwallowsWriteFailure(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	p := authService(client, stubVerifier("hunter2", nil))
	account := authAccount(nil)

	client.On("Modify", mock.Anything, mock.Anything).Return(errors.New("directory down"))

	// Must not panic or propagate: last-logon is best-effort.
	p.updateLastLogon(ctxb(), account)
}

func TestAuthenticate_AdminLockedStatus(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	verified := false
	p := authService(client, func(ctx context.Context, cfg *directory.ExternalConfig, dn, password string) error {
		verified = true
		return nil
	})

	for _, status := range []string{StatusLocked, StatusClosed} {
		account := authAccount(map[string][]string{AttrAccountStatus: {status}})
		err := p.Authenticate(ctxb(), account, "hunter2")
		assert.True(t, IsAuthFailure(err), status)
	}
	// Neither status expires on its own, and neither reaches the
	// credential check.
	assert.False(t, verified)
}

func TestAuthenticate_CustomHandler(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	p := authService(client, stubVerifier("unused", nil))
	account := authAccount(map[string][]string{
		AttrLockoutEnabled: {"FALSE"},
	})
	stubDomain(client, map[string][]string{
		AttrAuthMech: {AuthMechCustom + ":pam"},
	})
	client.On("Modify", mock.Anything, mock.Anything).Return(nil) // last-logon stamp

	var sawAccount string
	p.RegisterAuthHandler("pam", func(ctx context.Context, a *entry.Entry, password string) error {
		sawAccount = a.Name()
		if password != "hunter2" {
			return &directory.Error{Operation: "bind", Category: directory.CategoryAuthentication}
		}
		return nil
	})

	require.NoError(t, p.Authenticate(ctxb(), account, "hunter2"))
	assert.Equal(t, "jdoe@example.com", sawAccount)

	err := p.Authenticate(ctxb(), account, "wrong")
	assert.True(t, IsAuthFailure(err))
}

func TestAuthenticate_CustomHandlerUnregistered(t *testing.T) {
	client := &MockClient{}
	stubConfig(client)
	p := authService(client, stubVerifier("unused", nil))
	account := authAccount(nil)
	stubDomain(client, map[string][]string{
		AttrAuthMech: {AuthMechCustom + ":missing"},
	})

	err := p.Authenticate(ctxb(), account, "hunter2")
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, AttrAuthMech, cerr.Attr)
}

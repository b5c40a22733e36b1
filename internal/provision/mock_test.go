package provision

import (
	"context"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"

	"github.com/isometry/dirprov/internal/directory"
)

// MockClient implements directory.Client for testing the provisioning
// service.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetAttributes(ctx context.Context, dn string, attrs []string) (map[string][]string, error) {
	args := m.Called(ctx, dn, attrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	result, ok := args.Get(0).(map[string][]string)
	if !ok {
		return nil, args.Error(1)
	}
	return result, args.Error(1)
}

func (m *MockClient) Search(ctx context.Context, req *directory.SearchRequest) (*directory.SearchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	result, ok := args.Get(0).(*directory.SearchResult)
	if !ok {
		return nil, args.Error(1)
	}
	return result, args.Error(1)
}

func (m *MockClient) SearchPaged(ctx context.Context, req *directory.SearchRequest, visit directory.Visitor) error {
	args := m.Called(ctx, req, visit)
	return args.Error(0)
}

func (m *MockClient) Add(ctx context.Context, req *directory.AddRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockClient) Modify(ctx context.Context, req *directory.ModifyRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockClient) TestAndModify(ctx context.Context, assertion string, req *directory.ModifyRequest) (bool, error) {
	args := m.Called(ctx, assertion, req)
	return args.Bool(0), args.Error(1)
}

func (m *MockClient) Delete(ctx context.Context, dn string) error {
	args := m.Called(ctx, dn)
	return args.Error(0)
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// mockDialer hands out a fixed client for every external dial.
type mockDialer struct {
	client directory.Client
	err    error
}

func (d *mockDialer) Dial(ctx context.Context, cfg *directory.ExternalConfig) (directory.Client, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.client, nil
}

// stubConfig satisfies the global-config fetch the attribute resolver
// performs whenever a lookup falls through to inheritance.
func stubConfig(client *MockClient) {
	client.On("GetAttributes", mock.Anything, "cn=config,dc=example,dc=com", []string(nil)).
		Return(map[string][]string{
			"provId":      {"config-0001"},
			"objectClass": {ClassGlobalConfig},
			"cn":          {"config"},
		}, nil).Maybe()
}

func emptySearchResult() *directory.SearchResult {
	return &directory.SearchResult{Entries: []*ldap.Entry{}}
}

func externalEntry(dn string, attrs map[string][]string) *ldap.Entry {
	e := &ldap.Entry{DN: dn}
	for name, values := range attrs {
		e.Attributes = append(e.Attributes, &ldap.EntryAttribute{Name: name, Values: values})
	}
	return e
}

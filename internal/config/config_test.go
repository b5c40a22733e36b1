package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dirprov.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MinimalFileGetsDefaults(t *testing.T) {
	path := writeConfig(t, `
[directory]
urls = ["ldap://localhost:389"]
base_dn = "dc=example,dc=com"
bind_dn = "cn=admin,dc=example,dc=com"
bind_password = "secret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Directory.Timeout.Duration)
	assert.Equal(t, 8, cfg.Directory.MaxConnections)
	assert.Equal(t, 10000, cfg.Cache.Size)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL.Duration)
	assert.Equal(t, 5*time.Minute, cfg.AutoProv.PollInterval.Duration)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Pretty)
}

func TestLoad_ExplicitValuesOverrideDefaults(t *testing.T) {
	path := writeConfig(t, `
[directory]
urls = ["ldaps://ds1.example.com", "ldaps://ds2.example.com"]
base_dn = "dc=example,dc=com"
bind_dn = "cn=admin,dc=example,dc=com"
timeout = "5s"
max_connections = 2

[cache]
size = 500
ttl = "1m"

[autoprov]
poll_interval = "30s"
domains = ["example.com", "example.net"]

[logging]
level = "debug"
pretty = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ldaps://ds1.example.com", "ldaps://ds2.example.com"}, cfg.Directory.URLs)
	assert.Equal(t, 5*time.Second, cfg.Directory.Timeout.Duration)
	assert.Equal(t, 2, cfg.Directory.MaxConnections)
	assert.Equal(t, 500, cfg.Cache.Size)
	assert.Equal(t, time.Minute, cfg.Cache.TTL.Duration)
	assert.Equal(t, 30*time.Second, cfg.AutoProv.PollInterval.Duration)
	assert.Equal(t, []string{"example.com", "example.net"}, cfg.AutoProv.Domains)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name, body, want string
	}{
		{
			name: "missing urls",
			body: "[directory]\nbase_dn = \"dc=example,dc=com\"\nbind_dn = \"cn=admin\"\n",
			want: "directory.urls",
		},
		{
			name: "missing base dn",
			body: "[directory]\nurls = [\"ldap://localhost\"]\nbind_dn = \"cn=admin\"\n",
			want: "directory.base_dn",
		},
		{
			name: "missing bind dn",
			body: "[directory]\nurls = [\"ldap://localhost\"]\nbase_dn = \"dc=example,dc=com\"\n",
			want: "directory.bind_dn",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
[directory]
urls = ["ldap://localhost"]
base_dn = "dc=example,dc=com"
bind_dn = "cn=admin"
timeout = "soon"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

// Package config loads the service configuration from a TOML file,
// applying struct-tag defaults first so a minimal file stays minimal.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
)

// Duration decodes a TOML string like "30s" or "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	Directory Directory `toml:"directory"`
	Cache     Cache     `toml:"cache"`
	AutoProv  AutoProv  `toml:"autoprov"`
	Logging   Logging   `toml:"logging"`
}

// Directory describes the local LDAP endpoint.
type Directory struct {
	URLs           []string `toml:"urls"`
	BaseDN         string   `toml:"base_dn"`
	BindDN         string   `toml:"bind_dn"`
	BindPassword   string   `toml:"bind_password"`
	StartTLS       bool     `toml:"start_tls"`
	Timeout        Duration `toml:"timeout" default:"30s"`
	MaxConnections int      `toml:"max_connections" default:"8"`
}

type Cache struct {
	Size int      `toml:"size" default:"10000"`
	TTL  Duration `toml:"ttl" default:"15m"`
}

// AutoProv controls the eager polling scheduler.
type AutoProv struct {
	PollInterval Duration `toml:"poll_interval" default:"5m"`
	Domains      []string `toml:"domains"`
}

type Logging struct {
	Level  string `toml:"level" default:"info"`
	Pretty bool   `toml:"pretty"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Directory.URLs) == 0 {
		return fmt.Errorf("directory.urls must name at least one endpoint")
	}
	if c.Directory.BaseDN == "" {
		return fmt.Errorf("directory.base_dn is required")
	}
	if c.Directory.BindDN == "" {
		return fmt.Errorf("directory.bind_dn is required")
	}
	return nil
}

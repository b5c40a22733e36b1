// Command dirprov runs the provisioning service: it connects to the
// local directory, serves cached entity lookups, and drives the eager
// auto-provisioning poll loop for the configured domains.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog"

	"github.com/isometry/dirprov/internal/config"
	"github.com/isometry/dirprov/internal/directory"
	"github.com/isometry/dirprov/internal/entry"
	"github.com/isometry/dirprov/internal/provision"
	"github.com/isometry/dirprov/internal/ticker"
)

const version = "dirprov 0.1.0"

const usage = `LDAP-backed provisioning service.

Usage:
  dirprov [--config=<path>] [--debug]
  dirprov --version
  dirprov --help

Options:
  -c, --config=<path>  configuration file [default: /etc/dirprov/dirprov.toml]
  -d, --debug          enable debug logging
  --version            show version
  -h, --help           show this help
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	configPath, _ := opts.String("--config")
	debug, _ := opts.Bool("--debug")

	if err := run(configPath, debug); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging, debug)
	if err != nil {
		return err
	}

	dirCfg := directory.DefaultConfig()
	dirCfg.URLs = cfg.Directory.URLs
	dirCfg.BindDN = cfg.Directory.BindDN
	dirCfg.BindPassword = cfg.Directory.BindPassword
	dirCfg.StartTLS = cfg.Directory.StartTLS
	dirCfg.Timeout = cfg.Directory.Timeout.Duration
	dirCfg.MaxConnections = cfg.Directory.MaxConnections

	dir, err := directory.Dial(dirCfg, log)
	if err != nil {
		return err
	}
	defer dir.Close()

	prov := provision.New(dir, provision.Options{
		BaseDN:    cfg.Directory.BaseDN,
		CacheSize: cfg.Cache.Size,
		CacheTTL:  cfg.Cache.TTL.Duration,
		LocalAuth: &directory.ExternalConfig{
			URLs:     cfg.Directory.URLs,
			StartTLS: cfg.Directory.StartTLS,
		},
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	log.Info().
		Str("config", configPath).
		Strs("domains", cfg.AutoProv.Domains).
		Dur("interval", cfg.AutoProv.PollInterval.Duration).
		Msg("starting")

	tick := ticker.New(cfg.AutoProv.PollInterval.Duration)
	defer tick.Stop()

	pollAll(ctx, prov, cfg.AutoProv.Domains, log)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		case <-hup:
			log.Info().Msg("reload requested, flushing caches")
			for _, k := range []entry.Kind{entry.KindAccount, entry.KindDomain, entry.KindCos, entry.KindServer, entry.KindConfig} {
				prov.FlushCache(k)
			}
			pollAll(ctx, prov, cfg.AutoProv.Domains, log)
			tick.Restart()
		case <-tick.C:
			pollAll(ctx, prov, cfg.AutoProv.Domains, log)
		}
	}
}

// pollAll runs one eager batch per configured domain. A failing domain
// never blocks the others; its next cycle retries.
func pollAll(ctx context.Context, prov *provision.Provisioning, domains []string, log zerolog.Logger) {
	for _, name := range domains {
		domain, err := prov.GetDomainByName(ctx, name)
		if err != nil {
			log.Error().Err(err).Str("domain", name).Msg("domain lookup failed")
			continue
		}
		if domain == nil {
			log.Warn().Str("domain", name).Msg("configured auto-provision domain does not exist")
			continue
		}
		if err := prov.RunEagerBatch(ctx, domain); err != nil {
			log.Error().Err(err).Str("domain", name).Msg("eager auto-provision batch failed")
		}
	}
}

func newLogger(cfg config.Logging, debug bool) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("logging.level: %w", err)
	}
	if debug {
		level = zerolog.DebugLevel
	}
	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger(), nil
}

// Package config holds the process-wide, read-only configuration
// matrirc runs with. It is built once at startup from the external
// collaborator's effective flag values (spec.md §1, §6) and optionally
// refined by an on-disk override file; nothing in this package mutates a
// Config after FromEnv returns it (Design Notes §9).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"git.sr.ht/~emersion/go-scfg"
)

// Autojoin names which target kinds to join on the IRC side as soon as a
// room is mapped. The value is parsed into Config.Autojoin, but no other
// package reads it: channels are joined on their first message or
// member join whatever its value.
type Autojoin int

const (
	AutojoinNone Autojoin = iota
	AutojoinQueries
	AutojoinChannels
	AutojoinAll
)

func ParseAutojoin(s string) (Autojoin, error) {
	switch s {
	case "", "none":
		return AutojoinNone, nil
	case "queries":
		return AutojoinQueries, nil
	case "channels":
		return AutojoinChannels, nil
	case "all":
		return AutojoinAll, nil
	default:
		return AutojoinNone, fmt.Errorf("config: unknown autojoin mode %q", s)
	}
}

// Config is the effective configuration for one matrirc process. Fields
// mirror the CLI surface of spec.md §6; a Config is constructed once and
// shared read-only across every session.
type Config struct {
	IrcdListen    string
	WebsocketAddr string // empty disables the secondary websocket listener
	StateDir      string
	AllowRegister bool
	MediaDir      string
	MediaURL      string
	Autojoin      Autojoin

	// ReservedNick is read from the override file but not passed on: the
	// mapping engine reserves only "matrirc" and the client's own nick.
	ReservedNick string

	// NamesLineBudget overrides the ~400 character NAMES line-wrap
	// width (spec §4.7); 0 means use the default.
	NamesLineBudget int

	MetricsAddr string // empty disables the /metrics HTTP endpoint
}

func Default() Config {
	return Config{
		IrcdListen: "[::1]:6667",
		StateDir:   "/var/lib/matrirc",
	}
}

// overrideFile is the optional scfg document the operator may drop in
// the state directory to tune ambient settings the external collaborator's
// flags don't cover, without touching the argument-parsing surface.
const overrideFile = "matrircd.scfg"

// LoadOverrides reads "<cfg.StateDir>/matrircd.scfg" if present and
// applies recognised directives on top of cfg. A missing file is not an
// error. Directives:
//
//	listen <addr>
//	websocket-listen <addr>
//	reserved-nick <nick>
//	names-line-budget <n>
//	metrics-listen <addr>
func LoadOverrides(cfg Config) (Config, error) {
	path := filepath.Join(cfg.StateDir, overrideFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return cfg, nil
	} else if err != nil {
		return cfg, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	block, err := scfg.Read(f)
	if err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	for _, dir := range block {
		switch dir.Name {
		case "listen":
			if err := dir.ParseParams(&cfg.IrcdListen); err != nil {
				return cfg, err
			}
		case "websocket-listen":
			if err := dir.ParseParams(&cfg.WebsocketAddr); err != nil {
				return cfg, err
			}
		case "reserved-nick":
			if err := dir.ParseParams(&cfg.ReservedNick); err != nil {
				return cfg, err
			}
		case "names-line-budget":
			var s string
			if err := dir.ParseParams(&s); err != nil {
				return cfg, err
			}
			var n int
			if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
				return cfg, fmt.Errorf("config: names-line-budget: %w", err)
			}
			cfg.NamesLineBudget = n
		case "metrics-listen":
			if err := dir.ParseParams(&cfg.MetricsAddr); err != nil {
				return cfg, err
			}
		default:
			return cfg, fmt.Errorf("config: unknown directive %q in %s", dir.Name, path)
		}
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables, standing in for
// the external CLI-argument collaborator (spec.md §1) so this module
// remains runnable as a standalone binary without owning a flags
// library. Recognised variables mirror §6 exactly.
func FromEnv() (Config, error) {
	cfg := Default()
	if v := os.Getenv("MATRIRC_IRCD_LISTEN"); v != "" {
		cfg.IrcdListen = v
	}
	if v := os.Getenv("MATRIRC_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("MATRIRC_ALLOW_REGISTER"); v != "" {
		cfg.AllowRegister = v == "1" || v == "true"
	}
	if v := os.Getenv("MATRIRC_MEDIA_DIR"); v != "" {
		cfg.MediaDir = v
	}
	if v := os.Getenv("MATRIRC_MEDIA_URL"); v != "" {
		cfg.MediaURL = v
	}
	if v := os.Getenv("MATRIRC_WEBSOCKET_LISTEN"); v != "" {
		cfg.WebsocketAddr = v
	}
	if v := os.Getenv("MATRIRC_METRICS_LISTEN"); v != "" {
		cfg.MetricsAddr = v
	}
	autojoin, err := ParseAutojoin(os.Getenv("MATRIRC_AUTOJOIN"))
	if err != nil {
		return cfg, err
	}
	cfg.Autojoin = autojoin

	return LoadOverrides(cfg)
}

// Package config loads process bootstrap configuration for the
// corebusd/ggipcd daemons: socket directory, table sizes, timeouts, and
// the insecure-auth flag (SPEC_FULL.md §1 "Configuration"). This is
// process-wiring config, not the gg_config daemon's own backing store
// (spec.md's on-disk-configuration-schema Non-goal names that, not this).
package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/gglite/corebus"
	"github.com/gglite/corebus/internal/logging"
)

// Bootstrap is the set of values every daemon entrypoint needs before it
// can call internal/corebus.Listen or internal/gwipc.Listen.
type Bootstrap struct {
	SocketDir       string `toml:"socket_dir"`
	GGIPCSocketName string `toml:"gg_ipc_socket_name"`
	MaxClients      int    `toml:"max_clients"`
	MaxAuthComps    int    `toml:"max_auth_components"`
	InsecureAuth    bool   `toml:"insecure_auth"`
	LogLevel        string `toml:"log_level"`
}

// DefaultBootstrapPath is the optional TOML file consulted before env
// vars/flags (SPEC_FULL.md §2: "seen in steveyegge-beads's go.mod").
const DefaultBootstrapPath = "/etc/gglite/corebusd.toml"

// Default returns the hardcoded defaults, the lowest-precedence layer.
func Default() Bootstrap {
	return Bootstrap{
		SocketDir:       corebus.DefaultSocketDir,
		GGIPCSocketName: corebus.GGIPCSocketName,
		MaxClients:      corebus.MaxClients,
		MaxAuthComps:    corebus.MaxAuthComponents,
		InsecureAuth:    false,
		LogLevel:        "info",
	}
}

// Load resolves a Bootstrap in increasing precedence: hardcoded defaults,
// then an optional TOML file at path (if non-empty and present), then
// environment variables, then flag.CommandLine arguments parsed from
// args. A missing TOML file is not an error; a malformed one is.
func Load(path string, args []string) (Bootstrap, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, corebus.WrapError("config.load", err)
			}
		}
	}

	applyEnv(&cfg)

	fs := flag.NewFlagSet("gglite", flag.ContinueOnError)
	socketDir := fs.String("socket-dir", cfg.SocketDir, "core-bus socket directory")
	ggipcName := fs.String("gg-ipc-socket-name", cfg.GGIPCSocketName, "GG-IPC listener file name")
	maxClients := fs.Int("max-clients", cfg.MaxClients, "core-bus connection table size")
	maxAuthComps := fs.Int("max-auth-components", cfg.MaxAuthComps, "SVCUID registry capacity")
	insecure := fs.Bool("insecure-auth", cfg.InsecureAuth, "disable IPC authentication (debug only)")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return cfg, corebus.WrapError("config.load", err)
	}

	cfg.SocketDir = *socketDir
	cfg.GGIPCSocketName = *ggipcName
	cfg.MaxClients = *maxClients
	cfg.MaxAuthComps = *maxAuthComps
	cfg.InsecureAuth = *insecure
	cfg.LogLevel = *logLevel

	return cfg, nil
}

// ParseLogLevel maps the Bootstrap's string LogLevel onto
// internal/logging's enum, defaulting to Info for an unrecognized value.
func ParseLogLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func applyEnv(cfg *Bootstrap) {
	if v := os.Getenv("GGLITE_SOCKET_DIR"); v != "" {
		cfg.SocketDir = v
	}
	if v := os.Getenv("GGLITE_GG_IPC_SOCKET_NAME"); v != "" {
		cfg.GGIPCSocketName = v
	}
	if v := os.Getenv("GGLITE_MAX_CLIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxClients = n
		}
	}
	if v := os.Getenv("GGLITE_MAX_AUTH_COMPONENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAuthComps = n
		}
	}
	if v := os.Getenv("GGLITE_INSECURE_AUTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.InsecureAuth = b
		}
	}
	if v := os.Getenv("GGLITE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

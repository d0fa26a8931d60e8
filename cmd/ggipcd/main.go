// Command ggipcd is the GG-IPC gateway process entrypoint (SPEC_FULL.md
// module layout: "ggipcd/ GG-IPC gateway process entrypoint"). It builds
// the SVCUID auth registry explicitly here rather than via a load-time
// constructor (SPEC_FULL.md §3.7: "Go has no static constructors; doing
// it explicit-and-loud at main is the idiomatic equivalent").
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gglite/corebus/internal/auth"
	gglconfig "github.com/gglite/corebus/internal/config"
	"github.com/gglite/corebus/internal/gwipc"
	"github.com/gglite/corebus/internal/logging"
)

func main() {
	cfg, err := gglconfig.Load(gglconfig.DefaultBootstrapPath, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ggipcd: config load failed: %v\n", err)
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = gglconfig.ParseLogLevel(cfg.LogLevel)
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if cfg.InsecureAuth {
		logger.Warn("starting with insecure auth: component identity comes from client-declared names, not SO_PEERCRED+systemd")
	}
	registry := auth.NewRegistry(cfg.MaxAuthComps, cfg.InsecureAuth, logger.With("component", "auth"))

	if err := os.MkdirAll(cfg.SocketDir, 0o755); err != nil {
		logger.Error("failed to create socket directory", "dir", cfg.SocketDir, "error", err)
		os.Exit(1)
	}

	gwPath := filepath.Join(cfg.SocketDir, cfg.GGIPCSocketName)
	gw, err := gwipc.Listen(gwPath, cfg.SocketDir, registry, logger.With("component", "gwipc"))
	if err != nil {
		logger.Error("failed to start GG-IPC gateway", "socket", gwPath, "error", err)
		os.Exit(1)
	}
	defer gw.Close()

	go func() {
		if err := gw.Serve(); err != nil {
			logger.Error("GG-IPC gateway serve loop exited", "error", err)
		}
	}()

	logger.Info("ggipcd ready", "socket", gwPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal")
}

// Command corebusd is an example daemon entrypoint wiring the pubsub,
// config, mqtt, and health daemons up over core-bus (SPEC_FULL.md module
// layout: "corebusd/ example daemon entrypoint wiring pubsub+config+
// health over core-bus"). Mirrors the teacher's cmd/ublk-mem/main.go
// shape: flag parsing, a logger built up front, signal-driven shutdown.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/gglite/corebus/daemons/config"
	"github.com/gglite/corebus/daemons/health"
	"github.com/gglite/corebus/daemons/mqtt"
	"github.com/gglite/corebus/daemons/pubsub"
	gglconfig "github.com/gglite/corebus/internal/config"
	"github.com/gglite/corebus/internal/logging"
)

func main() {
	cfg, err := gglconfig.Load(gglconfig.DefaultBootstrapPath, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "corebusd: config load failed: %v\n", err)
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = gglconfig.ParseLogLevel(cfg.LogLevel)
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if err := os.MkdirAll(cfg.SocketDir, 0o755); err != nil {
		logger.Error("failed to create socket directory", "dir", cfg.SocketDir, "error", err)
		os.Exit(1)
	}

	pubsubSrv, err := pubsub.Listen(cfg.SocketDir, logger.With("daemon", "pubsub"))
	if err != nil {
		logger.Error("failed to start pubsub daemon", "error", err)
		os.Exit(1)
	}
	defer pubsubSrv.Close()

	configSrv, err := config.Listen(cfg.SocketDir, logger.With("daemon", "config"))
	if err != nil {
		logger.Error("failed to start config daemon", "error", err)
		os.Exit(1)
	}
	defer configSrv.Close()

	mqttSrv, err := mqtt.Listen(cfg.SocketDir, logger.With("daemon", "mqtt"))
	if err != nil {
		logger.Error("failed to start mqtt daemon", "error", err)
		os.Exit(1)
	}
	defer mqttSrv.Close()
	mqttSrv.SetConnected(true)

	healthSrv, err := health.Listen(cfg.SocketDir, logger.With("daemon", "health"))
	if err != nil {
		logger.Error("failed to start health daemon", "error", err)
		os.Exit(1)
	}
	defer healthSrv.Close()

	// One errgroup supervises all four daemon serve loops: if any of them
	// exits (listener closed, fatal accept error) the others' logged
	// result still surfaces through the same group instead of a silent
	// goroutine leak.
	var group errgroup.Group
	group.Go(wrapServe(logger, "pubsub", pubsubSrv.Serve))
	group.Go(wrapServe(logger, "config", configSrv.Serve))
	group.Go(wrapServe(logger, "mqtt", mqttSrv.Serve))
	group.Go(wrapServe(logger, "health", healthSrv.Serve))

	logger.Info("corebusd ready", "socket_dir", cfg.SocketDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal")
}

func wrapServe(logger *logging.Logger, name string, serve func() error) func() error {
	return func() error {
		if err := serve(); err != nil {
			logger.Error("daemon serve loop exited", "daemon", name, "error", err)
			return err
		}
		return nil
	}
}

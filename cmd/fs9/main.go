// Command fs9 runs one FS9 server instance: it loads configuration from a
// file and the environment, wires the HTTP API, and serves until it
// receives SIGINT or SIGTERM, draining in-flight requests before exit.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fs9/fs9/internal/config"
	"github.com/fs9/fs9/pkg/api"
	"github.com/fs9/fs9/pkg/utils"
)

func main() {
	configPath := os.Getenv("FS9_CONFIG_FILE")
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			log.Fatalf("fs9: failed to load config file %q: %v", configPath, err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("fs9: failed to load environment overrides: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fs9: invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("fs9: failed to initialize logger: %v", err)
	}

	if cfg.Server.EnableProfiling {
		utils.EnableRuntimeProfiling()
		logger.Info("block/mutex profiling enabled", nil)
	}

	srv, err := api.New(cfg, logger)
	if err != nil {
		log.Fatalf("fs9: failed to build server: %v", err)
	}

	srv.StartBackground()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal", nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown did not complete cleanly", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	if cfg.Server.EnableProfiling {
		utils.DisableRuntimeProfiling()
	}
}

func newLogger(cfg *config.Configuration) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}

	lcfg := utils.DefaultStructuredLoggerConfig()
	lcfg.Level = level
	lcfg.Format = utils.FormatJSON

	if cfg.Server.LogFile != "" {
		file, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", cfg.Server.LogFile, err)
		}
		lcfg.Output = file
	}

	return utils.NewStructuredLogger(lcfg)
}

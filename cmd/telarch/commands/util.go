package commands

import (
	"context"
	"fmt"

	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/api"
	"github.com/telarch/telarch/pkg/api/handlers"
	"github.com/telarch/telarch/pkg/config"
	"github.com/telarch/telarch/pkg/metrics"
	"github.com/telarch/telarch/pkg/store"
)

// loadConfig loads the configuration, initializes the logger, and turns the
// metrics registry on when enabled. Every service command starts here.
func loadConfig() (*config.Config, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}

	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	return cfg, nil
}

// openStore opens the job/dedup index without logger or metrics setup, for
// the jobs subcommands.
func openStore() (*config.Config, *store.Store, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, nil, err
	}
	// The jobs commands print tables; keep log output out of the way.
	cfg.Logging.Level = "WARN"
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return nil, nil, err
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return cfg, st, nil
}

// startAPIServer runs the observability server in the background when
// enabled. Returns a stop function.
func startAPIServer(ctx context.Context, cfg *config.Config, checks []handlers.NamedCheck, status handlers.StatusFunc) func(context.Context) {
	if !cfg.API.IsEnabled() {
		logger.Info("API server disabled")
		return func(context.Context) {}
	}

	srv := api.NewServer(cfg.API, api.Dependencies{Checks: checks, Status: status})
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("API server stopped", "error", err)
		}
	}()
	logger.Info("API server enabled", "addr", srv.Addr())

	return func(shutdownCtx context.Context) {
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("API server shutdown error", "error", err)
		}
	}
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

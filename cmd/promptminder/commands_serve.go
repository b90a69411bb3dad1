package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/prompt-minder/promptminder/internal/auth"
	"github.com/prompt-minder/promptminder/internal/config"
	"github.com/prompt-minder/promptminder/internal/experiments"
	"github.com/prompt-minder/promptminder/internal/observability"
	"github.com/prompt-minder/promptminder/internal/storage"
	"github.com/prompt-minder/promptminder/internal/web"
)

// buildServeCmd creates the "serve" command that starts the API server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Prompt Minder API server",
		Long: `Start the experiment API server.

The server will:
1. Load configuration from the specified file (or built-in defaults)
2. Connect to Postgres, or fall back to in-memory stores when no
   database URL is configured
3. Optionally apply pending migrations (database.migrate: true)
4. Serve the experiment API, /healthz, and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with defaults and in-memory storage
  promptminder serve

  # Start with custom config
  promptminder serve --config /etc/promptminder/production.yaml

  # Start with debug logging
  promptminder serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

// runServe handles the serve command.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	service := experiments.NewService(stores, logger, metrics)
	service.SetDefaultMinSampleSize(cfg.Experiments.DefaultMinSampleSize)

	authService := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     apiKeys(cfg),
	})
	if !authService.Enabled() {
		logger.Warn(ctx, "auth disabled, running with development identities")
	}

	handler := web.NewHandler(&web.Config{
		Experiments:     service,
		AuthService:     authService,
		Logger:          logger,
		Metrics:         metrics,
		ServerStartTime: time.Now(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStores connects to Postgres when configured and falls back to the
// in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.Config, logger *observability.Logger) (storage.StoreSet, error) {
	if cfg.Database.URL == "" {
		logger.Warn(ctx, "no database configured, using in-memory storage")
		return storage.NewMemoryStores(), nil
	}

	if cfg.Database.Migrate {
		if err := applyMigrations(ctx, cfg, logger); err != nil {
			return storage.StoreSet{}, err
		}
	}

	pgConfig := storage.DefaultPostgresConfig()
	if cfg.Database.MaxConnections > 0 {
		pgConfig.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pgConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	stores, err := storage.NewPostgresStoresFromDSN(cfg.Database.URL, pgConfig)
	if err != nil {
		return storage.StoreSet{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info(ctx, "connected to database")
	return stores, nil
}

func applyMigrations(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	db, err := openMigrationDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := storage.NewMigrator(db)
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	for _, id := range applied {
		logger.Info(ctx, "applied migration", "id", id)
	}
	return nil
}

func apiKeys(cfg *config.Config) []auth.APIKeyConfig {
	keys := make([]auth.APIKeyConfig, 0, len(cfg.Auth.APIKeys))
	for _, entry := range cfg.Auth.APIKeys {
		keys = append(keys, auth.APIKeyConfig{
			Key:    entry.Key,
			UserID: entry.UserID,
			Email:  entry.Email,
			Name:   entry.Name,
		})
	}
	return keys
}

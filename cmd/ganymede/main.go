// Command ganymede serves the agent registry, stage reporting, upload and
// worker handoff API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/jeffstoner/ganymede/internal/api"
	"github.com/jeffstoner/ganymede/internal/config"
	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/fleet"
	"github.com/jeffstoner/ganymede/internal/logging"
	"github.com/jeffstoner/ganymede/internal/reporting"
	"github.com/jeffstoner/ganymede/internal/storage"
	"github.com/jeffstoner/ganymede/internal/tracing"
)

var version = "dev"

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	slog.Info("loading configuration", "config_file", *configFile)
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if !cfg.HTTP.Enabled {
		slog.Error("invalid configuration", "error", "http must be enabled to run the api server")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting ganymede api server", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, version)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	logger.Info("connecting to database", "driver", cfg.Database.Driver)
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer database.Close()

	if !cfg.Database.SkipMigrations {
		schemaVersion, err := database.Migrate(cfg.Database.MigrationsDir)
		if err != nil {
			logger.Error("failed to run migrations", "error", err, "migrations_dir", cfg.Database.MigrationsDir)
			os.Exit(1)
		}
		logger.Info("database schema ready", "version", schemaVersion)
	} else {
		logger.Info("skipping migrations", "reason", "configured to skip")
	}

	uploads, err := storage.NewUploadStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to open upload storage", "error", err, "upload_url", cfg.Storage.UploadURL)
		os.Exit(1)
	}

	gin.SetMode(cfg.HTTP.Mode)
	router := api.NewRouter(api.RouterConfig{
		Fleet:          fleet.NewManager(database, logger),
		Reporting:      reporting.NewService(database, database, uploads, logger),
		Runs:           database,
		Logger:         logger,
		ServiceName:    cfg.Tracing.ServiceName,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
	})
	server := api.NewServer(cfg.HTTP.ListenAddress(), router, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("api server stopped", "error", err)
		stop()
		os.Exit(1)
	}

	logger.Info("ganymede stopped")
}

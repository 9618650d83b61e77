// Command jupiter runs one reconciliation pass over the current hour's
// transactions: it dispatches workers for finished agent transactions
// until every expected source is processed or the run times out, then
// launches the extraction job and exits. With a schedule configured it
// stays resident and starts a pass at every fire time instead.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/client-go/kubernetes"

	"github.com/jeffstoner/ganymede/internal/config"
	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/dispatch"
	"github.com/jeffstoner/ganymede/internal/logging"
	"github.com/jeffstoner/ganymede/internal/reconciler"
	"github.com/jeffstoner/ganymede/internal/schedule"
	"github.com/jeffstoner/ganymede/internal/stats"
	"github.com/jeffstoner/ganymede/internal/tracing"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Parse()

	// Bootstrap logger until the configured one is available
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	slog.Info("loading configuration", "config_file", *configFile)
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	logger, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		return 1
	}
	slog.SetDefault(logger)

	logger.Info("starting jupiter reconciliation engine", "version", version)

	shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing, version)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		return 1
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	engineConfig := cfg.Reconciler.Normalize(logger)

	logger.Info("database configuration",
		"driver", cfg.Database.Driver,
		"migrations_dir", cfg.Database.MigrationsDir)

	if !cfg.Database.SkipMigrations {
		if err := migrate(cfg.Database, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			return 1
		}
	} else {
		logger.Info("skipping migrations", "reason", "configured to skip")
	}

	var client kubernetes.Interface
	if cfg.Dispatch.Mode == dispatch.ModeKubernetes {
		client, err = dispatch.NewClientset(cfg.Dispatch.Kubernetes)
		if err != nil {
			logger.Error("failed to create kubernetes client", "error", err)
			return 1
		}
	}

	backend, err := dispatch.NewBackend(cfg.Dispatch, client, logger)
	if err != nil {
		logger.Error("failed to create dispatch backend", "error", err, "mode", cfg.Dispatch.Mode)
		return 1
	}

	// A one-shot pass keeps the default signal handling: SIGINT or SIGTERM
	// ends the process.
	if cfg.Schedule.Expression == "" {
		code, err := reconcile(context.Background(), cfg, engineConfig, backend, logger)
		if err != nil {
			logger.Error("reconciliation failed", "error", err)
			return 1
		}
		return code
	}

	// Resident mode: one engine per fire time
	sched, err := schedule.Parse(cfg.Schedule.Expression)
	if err != nil {
		logger.Error("invalid schedule", "error", err)
		return 1
	}

	runner := schedule.NewRunner(sched, func(ctx context.Context, scheduledAt time.Time) error {
		logger.Info("starting scheduled reconciliation", "scheduled_at", scheduledAt)
		_, err := reconcile(ctx, cfg, engineConfig, backend, logger)
		return err
	}, logger)

	// Resident mode stops between passes; a pass in progress runs to
	// completion or timeout first.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil {
		logger.Error("schedule runner failed", "error", err)
		return 1
	}
	return 0
}

// reconcile runs one engine to completion and returns the process exit
// code for its outcome
func reconcile(ctx context.Context, cfg *config.Config, engineConfig reconciler.Config, backend *dispatch.Backend, logger *slog.Logger) (int, error) {
	// The engine opens a fresh connection every iteration
	connect := func(_ context.Context) (reconciler.Store, error) {
		database, err := db.OpenWithConfig(cfg.Database)
		if err != nil {
			return nil, err
		}
		return database, nil
	}

	engine := reconciler.NewEngine(
		engineConfig,
		connect,
		backend.Dispatcher,
		backend.Trigger,
		reconciler.SystemClock{},
		logger,
	)

	result, err := engine.Run(ctx)
	if err != nil {
		return 1, err
	}

	if result.Outcome == stats.OutcomeTimeout {
		return engineConfig.TimeoutExitCode, nil
	}
	return 0, nil
}

func migrate(cfg db.Config, logger *slog.Logger) error {
	database, err := db.OpenWithConfig(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	schemaVersion, err := database.Migrate(cfg.MigrationsDir)
	if err != nil {
		return err
	}

	logger.Info("database schema ready", "version", schemaVersion)
	return nil
}

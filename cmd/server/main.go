/*
main.go - Application entry point

PURPOSE:
  Starts the paid-leave ledger server. Handles configuration, dependency
  injection and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, optional YAML, LEAVE_* environment)
  2. Build the zap logger
  3. Open the store (sqlite or postgres)
  4. Load the entitlement schedule (statutory unless schedule.file is set)
  5. Wire service, handler, router and grant scheduler
  6. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the grant scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store

EXAMPLES:
  # SQLite file database with defaults
  ./server

  # Postgres
  LEAVE_DATABASE_DRIVER=postgres LEAVE_DATABASE_DSN=postgres://... ./server

  # Custom schedule, console logs
  ./server -config=config.yaml

SEE ALSO:
  - config/config.go: All configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/yukyu-ledger/api"
	"github.com/warp/yukyu-ledger/config"
	"github.com/warp/yukyu-ledger/factory"
	"github.com/warp/yukyu-ledger/logging"
	"github.com/warp/yukyu-ledger/store/postgres"
	"github.com/warp/yukyu-ledger/store/sqlite"
	"github.com/warp/yukyu-ledger/timeoff"
	"go.uber.org/zap"
)

var version = "dev"

// backend is what main needs from a store.
type backend interface {
	api.ScenarioStore
	Close() error
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	var schedule *timeoff.Schedule
	if cfg.Schedule.File != "" {
		s, err := factory.NewScheduleFactory().LoadFile(cfg.Schedule.File)
		if err != nil {
			return fmt.Errorf("loading schedule: %w", err)
		}
		schedule = &s
	}

	svc := timeoff.NewService(store, timeoff.ServiceConfig{
		Schedule:   schedule,
		MaxRetries: cfg.Engine.MaxRetries,
	}, logger.Named("ledger"))

	handler := api.NewHandler(svc, api.NewScenarioLoader(store, schedule, logger), logger.Named("http"))
	handler.ExpiringWindowDays = cfg.Engine.ExpiringWindowDays
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        version,
	})

	scheduler := api.NewGrantScheduler(svc, logger.Named("scheduler"))
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("driver", cfg.Database.Driver),
			zap.String("version", version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (backend, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return s, nil
	default:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		return s, nil
	}
}

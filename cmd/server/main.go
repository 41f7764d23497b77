/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the capacity engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and optional TOML config
  2. Configure structured logging
  3. Initialize SQLite store
  4. Create API handler with engine components
  5. Start background scheduler (policy activation, hold expiry)
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to TOML config file (optional)
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: capacity.db)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/capacity.db"

  # Run with config file, overriding the port
  ./server -config=./config.toml -port=3000

SEE ALSO:
  - config.go: Configuration loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelier/capacity-engine/api"
	"github.com/atelier/capacity-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "path to TOML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	// Logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	// Initialize handler and background scheduler
	handler := api.NewHandler(store, time.Duration(cfg.HoldTTLMinutes)*time.Minute, log)
	scheduler := api.NewScheduler(handler, log)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.TickInterval = time.Duration(cfg.SchedulerIntervalSeconds) * time.Second
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Port).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	scheduler.Stop()

	log.Info().Msg("server stopped")
}

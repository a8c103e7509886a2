/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the collection ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Parse command-line flags (flags win over environment)
  3. Initialize SQLite store
  4. Create API handler and router
  5. Start the label-refresh scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: PORT env or 8080)
  -db      SQLite database path (default: DB_PATH env or prestamos.db)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the label scheduler
  4. Close the database
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/prestamos.db"

  # Run on a different port
  PORT=3000 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment configuration
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gesakro/prestamos/api"
	"github.com/gesakro/prestamos/config"
	"github.com/gesakro/prestamos/logging"
	"github.com/gesakro/prestamos/store/sqlite"
)

func main() {
	_ = config.LoadDotEnv(".env") // missing .env is fine
	cfg := config.Load()

	// Flags layer over the environment.
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	handler := api.NewHandler(store, logger)
	handler.Bulk.Workers = cfg.BulkWorkers
	router := api.NewRouter(handler)

	scheduler := api.NewLabelScheduler(store, logger)
	scheduler.CheckInterval = cfg.LabelInterval
	scheduler.Enabled = cfg.LabelEnabled
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		logger.Info("server starting",
			zap.Int("port", *port),
			zap.String("db", *dbPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		case <-ctx.Done():
			return ctx.Err()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		scheduler.Stop()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

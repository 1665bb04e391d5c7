/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tuition engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, TUITION_* environment, flags)
  2. Initialize store (SQLite, or in-memory)
  3. Connect the Redis lock when TUITION_REDIS_URL is set
  4. Create billing service, API handler and router
  5. Start the alert sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: tuition.db)
           Use ":memory:" for in-memory SQLite, "memstore" for the map store

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections

EXAMPLES:
  ./server -db="./data/tuition.db"
  TUITION_REDIS_URL=redis://localhost:6379/0 ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/tuition-engine/api"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/billing/store"
	"github.com/warp/tuition-engine/config"
	"github.com/warp/tuition-engine/store/redislock"
	"github.com/warp/tuition-engine/store/sqlite"
)

const memStore = "memstore"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, `SQLite database path, ":memory:", or "memstore"`)
	flag.Parse()
	cfg.Port, cfg.DBPath = *port, *dbPath
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	var st billing.Store
	if cfg.DBPath == memStore {
		st = store.NewMemory()
		log.Println("Using in-memory store")
	} else {
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()
		st = db
	}

	// Per-obligation lock shared across instances
	var opts []billing.Option
	if cfg.RedisURL != "" {
		locker, err := redislock.New(cfg.RedisURL, cfg.LockTTL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer locker.Close()
		opts = append(opts, billing.WithLocker(locker))
	} else {
		log.Println("TUITION_REDIS_URL not set, using in-process locks")
	}

	svc := billing.NewService(st, opts...)

	// Initialize handler
	handler := api.NewHandler(svc, st)
	handler.Documents = billing.DocumentOptions{IssuerName: cfg.IssuerName, Currency: cfg.Currency}
	handler.DueSoonWindow = cfg.DueSoonWindow()

	// Create router
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	// Start alert sweeper
	sweeper := api.NewAlertSweeper(svc)
	sweeper.CheckInterval = cfg.SweepInterval
	sweeper.Window = cfg.DueSoonWindow()
	sweeper.Enabled = cfg.SweepEnabled
	sweeper.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		return
	}

	log.Println("Server stopped")
}

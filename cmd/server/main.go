/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tag-indexed ledger server: configuration,
  backend selection, provisioning, the background flusher, the HTTP
  surface, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load and validate the YAML configuration (fail fast on schema errors)
  3. Build the configured backend (elasticsearch or sqlite)
  4. Readiness probe - refuse to start if the store isn't ready
  5. Provision indices and the balance aggregation (idempotent)
  6. Start the flusher and the HTTP server

COMMAND-LINE FLAGS:
  -config  Path to the YAML configuration (default: config.yml)
  -port    HTTP server port (default: 8080)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections (30s drain)
  2. Stop the flusher, draining the pending transaction set
  3. Close the store

SEE ALSO:
  - config/config.go: Configuration format
  - api/server.go:    Router configuration
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

	"github.com/warp/tagledger/api"
	"github.com/warp/tagledger/bank"
	"github.com/warp/tagledger/config"
	"github.com/warp/tagledger/store/elastic"
	"github.com/warp/tagledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yml", "Path to configuration file")
	port := flag.Int("port", 8080, "HTTP server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	schema, err := cfg.Schema()
	if err != nil {
		log.Fatalf("Invalid tag schema: %v", err)
	}

	backend, err := newBackend(cfg, schema)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()
	if !backend.Ready(ctx) {
		log.Fatalf("Storage is not ready: %v", bank.ErrNotReady)
	}
	if err := backend.Provision(ctx); err != nil {
		log.Fatalf("Failed to provision storage: %v", err)
	}

	buffer := bank.NewBuffer(backend, cfg.FlushInterval.Std())
	cache := bank.NewCache(cfg.Cache.TTL.Std(), cfg.Cache.Capacity)
	service := bank.NewService(backend, buffer, cache, schema)
	service.AllowEmptyTags = cfg.AllowEmptyTags
	registry := bank.NewRegistry(service)

	buffer.Start()
	defer buffer.Stop()

	handler := &api.Handler{
		Service:  service,
		Registry: registry,
		Schema:   schema,
		Buffer:   buffer,
		Cache:    cache,
		Backend:  backend,
	}
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// newBackend builds the configured storage backend.
func newBackend(cfg *config.Config, schema bank.Schema) (bank.Backend, error) {
	switch cfg.Storage.Type {
	case "elasticsearch":
		return elastic.New(elastic.Config{
			Addresses: cfg.Storage.Elasticsearch.Addresses,
			Username:  cfg.Storage.Elasticsearch.Username,
			Password:  cfg.Storage.Elasticsearch.Password,
			Prefix:    cfg.Storage.Elasticsearch.Prefix,
			Replicas:  cfg.Storage.Elasticsearch.Replicas,
			SyncDelay: cfg.Aggregation.SyncDelay.Std(),
			Frequency: cfg.Aggregation.Frequency.Std(),
		}, schema)
	case "sqlite":
		return sqlite.New(cfg.Storage.SQLite.Path, cfg.Aggregation.Frequency.Std())
	default:
		return nil, &bank.SchemaError{
			Field:  "storage.type",
			Reason: fmt.Sprintf("unsupported storage type %q", cfg.Storage.Type),
		}
	}
}

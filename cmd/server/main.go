// Package main provides the long-running service:
// - Scheduler: ingestion for every asset then the feature transform, every interval
// - API: prices, features, watermarks, status, metrics and the event stream
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-feature-store/internal/api"
	"crypto-feature-store/internal/app"
	"crypto-feature-store/internal/config"
)

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Load .env file if exists
	if err := config.LoadEnvFile(); err != nil {
		logger.Fatalf("Failed to load .env: %v", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	migrate := flag.Bool("migrate", false, "Apply database migrations on startup")
	addr := flag.String("addr", "", "API listen address (overrides config)")
	interval := flag.Duration("interval", 0, "Pipeline run interval (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *useMemory {
		cfg.Storage.Backend = config.BackendMemory
	}
	if *migrate {
		cfg.Storage.Migrate = true
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}
	if *interval > 0 {
		cfg.Pipeline.Interval = *interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	hub := api.NewHub(log.New(os.Stdout, "[stream] ", log.LstdFlags))
	defer hub.Close()

	orch := a.NewOrchestrator(hub)
	srv := api.NewServer(api.Options{
		Raw:        a.Raw,
		Features:   a.Features,
		Watermarks: a.Watermarks,
		Status:     orch,
		Metrics:    a.Metrics.Handler(),
		Hub:        hub,
		Logger:     log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lshortfile),
	})

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to signal completion
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go func() {
		logger.Printf("API listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("HTTP server error: %v", err)
			cancel()
		}
	}()

	logger.Printf("Scheduler started: %d assets every %s", len(cfg.Assets), cfg.Pipeline.Interval)
	err = orch.Run(ctx, cfg.Pipeline.Interval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		logger.Printf("HTTP shutdown error: %v", serr)
	}
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("Scheduler error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// Package main runs the pipeline once: ingestion for every asset, then the feature transform.
// Exits non-zero when any step fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-feature-store/internal/app"
	"crypto-feature-store/internal/config"
)

func main() {
	logger := log.New(os.Stdout, "[pipeline] ", log.LstdFlags|log.Lshortfile)

	// Load .env file if exists
	if err := config.LoadEnvFile(); err != nil {
		logger.Fatalf("Failed to load .env: %v", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	migrate := flag.Bool("migrate", false, "Apply database migrations before running")
	assets := flag.String("assets", "", "Assets to process, ID:coin_id[:vs_currency] comma-separated")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if err := applyFlags(cfg, *useMemory, *migrate, *assets); err != nil {
		logger.Fatalf("Invalid flags: %v", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, cancelling pipeline...", sig)
		cancel()
	}()

	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	report, err := a.NewOrchestrator(nil).RunOnce(ctx)

	fmt.Println("=== Pipeline Run ===")
	for _, c := range report.Cycles {
		fmt.Printf("  %-8s %-8s inserted=%d duplicates=%d watermark=%s\n",
			c.AssetID, c.Outcome, c.Inserted, c.Duplicates, formatTime(c.Watermark))
	}
	if t := report.Transform; t != nil {
		fmt.Printf("  transform %s run=%s rows=%d assets=%d\n", t.Outcome, t.RunID, t.FeatureRows, t.Partitions)
	}
	fmt.Printf("  duration %s\n", report.Duration.Round(time.Millisecond))

	if err != nil {
		a.Close()
		logger.Fatalf("Pipeline failed: %v", err)
	}
}

func applyFlags(cfg *config.Config, useMemory, migrate bool, assets string) error {
	if useMemory {
		cfg.Storage.Backend = config.BackendMemory
	}
	if migrate {
		cfg.Storage.Migrate = true
	}
	if assets != "" {
		list, err := config.ParseAssets(assets)
		if err != nil {
			return err
		}
		cfg.Assets = list
	}
	return nil
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

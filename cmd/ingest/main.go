// Package main runs ingestion cycles without the transform.
// With -asset only that asset is ingested; otherwise every configured asset.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"crypto-feature-store/internal/app"
	"crypto-feature-store/internal/config"
	"crypto-feature-store/internal/domain"
)

func main() {
	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	if err := config.LoadEnvFile(); err != nil {
		logger.Fatalf("Failed to load .env: %v", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	migrate := flag.Bool("migrate", false, "Apply database migrations before running")
	assetID := flag.String("asset", "", "Ingest only this asset id")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, stopping...", sig)
		cancel()
	}()

	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	var ids []string
	if *assetID != "" {
		ids = []string{*assetID}
	} else {
		for _, asset := range a.Ingestor.Assets() {
			ids = append(ids, asset.ID)
		}
	}

	failed := 0
	for _, id := range ids {
		res, err := a.Ingestor.RunCycle(ctx, id)
		if err != nil {
			failed++
		}
		fmt.Printf("%-8s %-8s fetched=%d inserted=%d duplicates=%d%s\n",
			res.AssetID, res.Outcome, res.Fetched, res.Inserted, res.Duplicates, failureSuffix(res))
	}

	if failed > 0 {
		a.Close()
		logger.Fatalf("%d of %d assets failed", failed, len(ids))
	}
}

func failureSuffix(res *domain.CycleResult) string {
	if res.Failure == domain.FailureNone {
		return ""
	}
	return " failure=" + string(res.Failure)
}

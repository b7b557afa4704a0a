package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/export"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/rules"
	"github.com/clipvault/clipvault/internal/sanitize"
	"github.com/clipvault/clipvault/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		outFile    = flag.String("out", "", "Output file (.csv, .parquet, or .json)")
		noScan     = flag.Bool("no-scan", false, "Skip re-scanning stored text for detections")
	)
	flag.Parse()

	if *outFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --out history.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --out history.parquet --config /etc/clipvault/config.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --out history.json --no-scan\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting ClipVault history export",
		zap.String("out", *outFile),
		zap.String("storage_driver", cfg.Storage.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling export...")
		cancel()
	}()

	items, _, err := store.Open(cfg.Storage, log.WithComponent("store"))
	if err != nil {
		log.Fatal("Failed to open storage", zap.Error(err))
	}
	defer items.Close()

	var engine *sanitize.Engine
	if !*noScan {
		library, err := rules.New(cfg.Sanitize.Detectors, log.WithComponent("rules"))
		if err != nil {
			log.Fatal("Failed to build pattern library", zap.Error(err))
		}
		engine = sanitize.NewEngine(cfg.Sanitize, library, log.WithComponent("sanitize"))
	}

	exporter := export.New(items, engine, log.WithComponent("export"))
	summary, err := exporter.Export(ctx, *outFile)
	if err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}

	fmt.Printf("\n=== ClipVault Export Summary ===\n")
	fmt.Printf("Records:    %d\n", summary.Records)
	fmt.Printf("Sanitized:  %d\n", summary.Sanitized)
	fmt.Printf("Findings:   %d\n", summary.Findings)
	fmt.Printf("Duration:   %v\n", summary.Duration)
	fmt.Printf("Output:     %s\n", *outFile)
}

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

	"github.com/atotto/clipboard"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/capture"
	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/events"
	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/lifecycle"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/metrics"
	"github.com/clipvault/clipvault/internal/pressure"
	"github.com/clipvault/clipvault/internal/rules"
	"github.com/clipvault/clipvault/internal/sanitize"
	"github.com/clipvault/clipvault/internal/server"
	"github.com/clipvault/clipvault/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ClipVault %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		performHealthCheck(cfg.Server.Port)
		return
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting ClipVault",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_driver", cfg.Storage.Driver),
	)

	m := metrics.New("clipvault", prometheus.NewRegistry())

	items, blobs, err := store.Open(cfg.Storage, log.WithComponent("store"))
	if err != nil {
		log.Fatal("Failed to open storage", zap.Error(err))
	}

	library, err := rules.New(cfg.Sanitize.Detectors, log.WithComponent("rules"))
	if err != nil {
		log.Fatal("Failed to build pattern library", zap.Error(err))
	}
	loadUserRules(cfg, library, log)

	engine := sanitize.NewEngine(cfg.Sanitize, library, log.WithComponent("sanitize"))

	var hub *events.Hub
	if cfg.WebSocket.Enabled {
		hub = events.NewHub(cfg.WebSocket, log.WithComponent("events"))
	}

	life := lifecycle.NewManager(cfg.Lifecycle, blobs, m, log.WithComponent("lifecycle"))

	hist := history.New(cfg.History, engine, life, items, hub, m, log.WithComponent("history"))
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), time.Minute)
	err = hist.Load(loadCtx)
	cancelLoad()
	if err != nil {
		log.Fatal("Failed to load history", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if hub != nil {
		go hub.Run(ctx)
	}
	go hist.Run(ctx)

	// Operator overrides through POST /pressure flow through the manual
	// source when it is the configured one, and straight into the history
	// otherwise.
	inject := func(level pressure.Level) { hist.HandlePressure(level) }
	switch cfg.Pressure.Source {
	case "manual":
		src := pressure.NewManualSource()
		inject = src.Inject
		go subscribe(ctx, src, hist)
	default:
		mon := pressure.NewMonitor(cfg.Pressure, log.WithComponent("pressure"))
		go mon.Run(ctx)
		go subscribe(ctx, mon, hist)
	}

	if cfg.Capture.Enabled {
		watcher := capture.NewWatcher(cfg.Capture, hist, clipboard.ReadAll, log.WithComponent("capture"))
		go watcher.Run(ctx)
	}

	// Hot-reload detector selection and the user rules file on config
	// changes. Everything else requires a restart.
	if err := config.Watch(cfg, func(updated *config.Config) {
		if err := library.Configure(updated.Sanitize.Detectors); err != nil {
			log.Warn("Ignoring invalid detector update", zap.Error(err))
			return
		}
		loadUserRules(updated, library, log)
		log.Info("Sanitization configuration reloaded")
	}); err != nil {
		log.Warn("Config watch unavailable", zap.Error(err))
	}

	srv := server.New(cfg, server.Deps{
		History: hist,
		Library: library,
		Hub:     hub,
		Metrics: m,
		Inject:  inject,
		Version: version,
	}, log)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	// Stop taking API traffic first, then flush the history (evicting
	// resident images so a restart can recover them), then close storage.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := srv.Stop(stopCtx); err != nil {
		log.Error("Failed to stop control API", zap.Error(err))
	}

	cancel()

	if err := hist.Shutdown(stopCtx); err != nil {
		log.Error("History shutdown timed out", zap.Error(err))
	}
	if err := items.Close(); err != nil {
		log.Error("Failed to close item store", zap.Error(err))
	}

	log.Info("Shutdown complete")
}

// loadUserRules replaces the library's user rules from the configured
// rules file. A missing file just means no user rules yet.
func loadUserRules(cfg *config.Config, library *rules.Library, log *logger.Logger) {
	path := cfg.Sanitize.RulesFile
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("Rules file not found, using builtin patterns only", zap.String("path", path))
		return
	}
	if err != nil {
		log.Error("Failed to read rules file", zap.String("path", path), zap.Error(err))
		return
	}
	userRules, err := rules.Import(data)
	if err != nil {
		log.Error("Failed to parse rules file", zap.String("path", path), zap.Error(err))
		return
	}
	library.SetRules(userRules)
	log.Info("User rules loaded", zap.Int("rules", len(userRules)), zap.String("path", path))
}

// subscribe forwards pressure levels into the history for the process
// lifetime.
func subscribe(ctx context.Context, src pressure.Source, hist *history.History) {
	for {
		select {
		case <-ctx.Done():
			return
		case level, ok := <-src.Levels():
			if !ok {
				return
			}
			hist.HandlePressure(level)
		}
	}
}

// performHealthCheck probes the running daemon and exits accordingly
func performHealthCheck(port int) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}

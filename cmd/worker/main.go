// Command worker runs the dispatch worker-router process: it consumes jobs
// off the orchestration bus, dispatches them to the per-bulk-scan scanner
// cache, persists results, and publishes done events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/probefleet/dispatch/internal/bus"
	"github.com/probefleet/dispatch/internal/config"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/metrics"
	"github.com/probefleet/dispatch/internal/scanner"
	"github.com/probefleet/dispatch/internal/store"
	"github.com/probefleet/dispatch/internal/worker"

	_ "github.com/probefleet/dispatch/internal/probe" // registers the "tls" probe factory
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:     "worker",
		Short:   "Run a dispatch worker router",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildTime),
		RunE:    runWorker,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (yaml or json)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:     logging.LogLevel(cfg.Logging.Level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	logging.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Connect(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}

	b, err := bus.DialWithRetry(ctx, cfg.Bus.URL)
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer b.Close()

	pm := metrics.NewPrometheusMetrics()
	manager := scanner.NewManager(logger)
	defer manager.Stop()

	router := worker.NewRouter(b, manager, st, logger, worker.Options{
		Prefetch:                    cfg.Worker.Prefetch,
		ResultHandlers:              cfg.Worker.ResultHandlers,
		WorkerDefaultExcludedProbes: cfg.Worker.DefaultExcludedProbes,
	}, pm)

	logger.InfoBus("worker router starting", "prefetch", cfg.Worker.Prefetch, "handlers", cfg.Worker.ResultHandlers)
	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("router stopped: %w", err)
	}
	logger.InfoBus("worker router stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

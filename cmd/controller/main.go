// Command controller runs the dispatch controller process: it exposes the
// bulk-scan trigger/status HTTP API, publishes jobs onto the orchestration
// bus, and runs the progress monitor that finalizes bulk scans as their
// jobs complete.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/probefleet/dispatch/internal/bulkscan"
	"github.com/probefleet/dispatch/internal/bus"
	"github.com/probefleet/dispatch/internal/config"
	"github.com/probefleet/dispatch/internal/controllerapi"
	"github.com/probefleet/dispatch/internal/denylist"
	"github.com/probefleet/dispatch/internal/logging"
	"github.com/probefleet/dispatch/internal/metrics"
	"github.com/probefleet/dispatch/internal/monitor"
	"github.com/probefleet/dispatch/internal/publisher"
	"github.com/probefleet/dispatch/internal/scheduler"
	"github.com/probefleet/dispatch/internal/store"
	"github.com/probefleet/dispatch/internal/target"
	"github.com/probefleet/dispatch/internal/targetsource"
	"github.com/probefleet/dispatch/internal/webhook"

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
		Use:     "controller",
		Short:   "Run the dispatch controller",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildTime),
		RunE:    runController,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (yaml or json)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runController(_ *cobra.Command, _ []string) error {
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
	notifier := webhook.New(logger)
	mon := monitor.New(b, st, notifier, logger, pm)
	pub := publisher.New(b, st, mon, logger, pm)

	var dl *denylist.Denylist
	if cfg.Controller.DenylistFile != "" {
		dl, err = denylist.LoadFile(cfg.Controller.DenylistFile)
		if err != nil {
			return fmt.Errorf("loading denylist: %w", err)
		}
	} else {
		dl = denylist.New()
	}

	var resolver target.Resolver = target.SystemResolver{}
	if len(cfg.Controller.Nameservers) > 0 {
		resolver = target.NewCustomNameserverResolver(cfg.Controller.Nameservers, cfg.Controller.ResolverTimeout)
	}

	pubOpts := publisher.Options{
		Parallelism: cfg.Controller.Parallelism,
		DefaultPort: cfg.Controller.DefaultPort,
		Resolver:    resolver,
		Denylist:    dl,
	}

	sched := scheduler.New(pub, pubOpts, logger)
	if cfg.Scheduler.Enabled {
		for _, job := range cfg.Scheduler.Jobs {
			if err := registerScheduledJob(sched, job); err != nil {
				logger.ErrorPublish("registering scheduled job failed", job.Name, err)
			}
		}
		sched.Start()
		defer func() { _ = sched.Stop(context.Background()) }()
	}

	api := controllerapi.New(pub, mon, pubOpts, logger)
	srv := &http.Server{
		Addr:         cfg.GetAPIAddress(),
		Handler:      api.Router(),
		ReadTimeout:  cfg.Controller.API.ReadTimeout,
		WriteTimeout: cfg.Controller.API.WriteTimeout,
		IdleTimeout:  cfg.Controller.API.IdleTimeout,
	}

	errCh := make(chan error, 1)
	if cfg.Controller.API.Enabled {
		go func() {
			logger.InfoBus("controller API listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.ErrorBus("controller API failed", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Controller.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

// registerScheduledJob builds a scheduler.Job from a config-file entry and
// registers it. Scheduled jobs only ever read targets from a local file
// today; see internal/targetsource for the other seams.
func registerScheduledJob(sched *scheduler.Scheduler, cfg config.ScheduledJob) error {
	return sched.Register(scheduler.Job{
		Name:     cfg.Name,
		Schedule: cfg.Schedule,
		ScanConfig: bulkscan.ScanConfig{
			Kind:      cfg.ScanKind,
			TimeoutMS: defaultScheduledScanTimeoutMS,
		},
		Monitored: cfg.Monitored,
		NotifyURL: cfg.NotifyURL,
		Source:    targetsource.NewFileSource(cfg.TargetListFile),
	})
}

const defaultScheduledScanTimeoutMS = 10_000

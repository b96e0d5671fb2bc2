package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/tally/pkg/analytics/service"
	"mercator-hq/tally/pkg/cli"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/server"
	"mercator-hq/tally/pkg/telemetry/health"
)

var runFlags struct {
	listenAddress string
	dryRun        bool
	noWatch       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the retention scheduler and ops server",
	Long: `Start tally with the specified configuration.

The process connects to the analytics store in the background, creates the
indexes, runs capacity checks on the retention schedule and serves health,
metrics and storage operations on the ops server. A store outage never stops
the process: checks are skipped until the store is back.

Changes to the config file's capacity and retention settings are applied
without a restart.

Examples:
  # Start with default config
  tally run

  # Start with custom config
  tally run --config /etc/tally/config.yaml

  # Override listen address
  tally run --listen 0.0.0.0:9464

  # Validate config without starting
  tally run --dry-run`,
	RunE: runTally,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override ops server listen address")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
	runCmd.Flags().BoolVar(&runFlags.noWatch, "no-watch", false, "do not reload the config file on change")
}

func runTally(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "Configuration valid")
		return nil
	}

	svc, err := service.New(cfg, service.Options{})
	if err != nil {
		return cli.NewConfigError("config", err.Error())
	}
	defer svc.Close()

	ctx := cli.SetupSignalHandler(cmd.Context())

	printBanner(cmd, cfg)

	if err := svc.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	if configFileExists() && !runFlags.noWatch {
		stop, err := watchConfig(ctx, svc)
		if err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		} else {
			defer stop()
		}
	}

	if !config.BoolValue(cfg.Server.Enabled, config.DefaultServerEnabled) {
		fmt.Fprintln(out, "Ops server disabled, press Ctrl+C to stop")
		<-ctx.Done()
		fmt.Fprintln(out, "Shutting down")
		return nil
	}

	srv := server.NewServer(&cfg.Server, opsRoutes(cfg, svc))

	fmt.Fprintf(out, "Ops server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "Stopped")
	return nil
}

func opsRoutes(cfg *config.Config, svc *service.Service) *server.Routes {
	routes := &server.Routes{
		Ops:       svc,
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	}

	if config.BoolValue(cfg.Telemetry.Health.Enabled, config.DefaultHealthEnabled) {
		checker := health.New(cfg.Telemetry.Health.CheckTimeout)
		checker.RegisterCheck("analytics_store", health.StoreCheck(svc.Provider()))
		checker.RegisterCheck("retention_scheduler", func(ctx context.Context) error {
			if cfg.Retention.CheckSchedule() != "" && !svc.Scheduler().IsRunning() {
				return fmt.Errorf("retention scheduler not running")
			}
			return nil
		})
		routes.Health = checker
	}

	if config.BoolValue(cfg.Telemetry.Metrics.Enabled, config.DefaultMetricsEnabled) {
		routes.Metrics = svc.Metrics().Handler()
		routes.MetricsPath = cfg.Telemetry.Metrics.Path
	}

	return routes
}

// watchConfig applies capacity and retention changes of the config file to
// the running service. The returned func stops the watcher.
func watchConfig(ctx context.Context, svc *service.Service) (func(), error) {
	watcher, err := config.NewWatcher(cfgFile, 0)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := watcher.Watch(ctx, svc.ApplyConfig); err != nil {
			slog.Error("config watcher failed", "error", err)
		}
	}()

	return func() {
		if err := watcher.Stop(); err != nil {
			slog.Debug("config watcher stop failed", "error", err)
		}
	}, nil
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tally v%s\n", Version)
	if configFileExists() {
		fmt.Fprintf(out, "Configuration loaded from %s\n", cfgFile)
	} else {
		fmt.Fprintln(out, "No config file, using defaults and environment")
	}
	fmt.Fprintf(out, "Store backend: %s, budget %.0f MB, cleanup at %.0f%%\n",
		cfg.Store.Backend, cfg.Capacity.MaxStorageMB, cfg.Capacity.CleanupThresholdPercent)
	if schedule := cfg.Retention.CheckSchedule(); schedule != "" {
		fmt.Fprintf(out, "Retention schedule: %s\n", schedule)
	} else {
		fmt.Fprintln(out, "Retention schedule: off")
	}
}

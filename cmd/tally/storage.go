package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/capacity"
	"mercator-hq/tally/pkg/analytics/retention"
	"mercator-hq/tally/pkg/analytics/service"
	"mercator-hq/tally/pkg/cli"
)

var storageFlags struct {
	timeout time.Duration
	yes     bool
	days    int
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect and clean up the analytics store",
	Long: `Connect to the analytics store once and run a storage operation.

Examples:
  # Current usage per category
  tally storage stats

  # Threshold-triggered cleanup, same as a scheduled check
  tally storage cleanup

  # Emergency cleanup with halved retention windows
  tally storage emergency --yes

  # Delete search analytics older than 7 days
  tally storage purge search_analytics --days 7`,
}

var storageStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage usage per category",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, "storage stats", func(ctx context.Context, svc *service.Service, f cli.Formatter) error {
			stats, err := svc.GetStorageStats(ctx)
			if err != nil {
				return err
			}
			return f.FormatTo(cmd.OutOrStdout(), statsTable{stats})
		})
	},
}

var storageCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run a threshold-triggered cleanup now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, "storage cleanup", func(ctx context.Context, svc *service.Service, f cli.Formatter) error {
			report, err := svc.CheckAndCleanupStorage(ctx)
			if err != nil {
				return err
			}
			return f.FormatTo(cmd.OutOrStdout(), reportTable{report})
		})
	},
}

var storageEmergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Clean every category with halved retention windows",
	Long: `Run the emergency cleanup: every category is cleaned with a retention
window of half its configured period (at least 7 days), whatever the current
usage. This deletes data the normal policy would keep; --yes is required.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !storageFlags.yes {
			return cli.NewConfigError("yes", "emergency cleanup deletes records inside the retention windows; pass --yes to confirm")
		}
		return withService(cmd, "storage emergency", func(ctx context.Context, svc *service.Service, f cli.Formatter) error {
			report, err := svc.EmergencyCleanup(ctx)
			if err != nil {
				return err
			}
			return f.FormatTo(cmd.OutOrStdout(), reportTable{report})
		})
	},
}

var storagePurgeCmd = &cobra.Command{
	Use:   "purge [category...]",
	Short: "Delete expired records of the given categories",
	Long: `Delete the records older than the retention period of each category, or
older than --days when set. Without arguments every category is purged in
cleanup priority order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		categories := make([]analytics.Category, 0, len(args))
		for _, arg := range args {
			c, err := analytics.ParseCategory(arg)
			if err != nil {
				return cli.NewConfigError("category", err.Error())
			}
			categories = append(categories, c)
		}
		if storageFlags.days < 0 {
			return cli.NewConfigError("days", "must be >= 0")
		}

		return withService(cmd, "storage purge", func(ctx context.Context, svc *service.Service, f cli.Formatter) error {
			if len(categories) == 0 {
				categories = svc.Engine().Policy().Priority()
			}

			result := purgeTable{deleted: make(map[analytics.Category]int64, len(categories))}
			progress := cli.NewProgressReporter(cmd.ErrOrStderr())
			progress.Start(int64(len(categories)))
			for _, c := range categories {
				n, err := svc.Engine().CleanupCollection(ctx, c, storageFlags.days)
				if err != nil {
					progress.Error(err)
					return err
				}
				result.order = append(result.order, c)
				result.deleted[c] = n
				progress.Step(c.String())
			}
			progress.Finish()

			return f.FormatTo(cmd.OutOrStdout(), result)
		})
	},
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(storageStatsCmd, storageCleanupCmd, storageEmergencyCmd, storagePurgeCmd)

	storageCmd.PersistentFlags().DurationVar(&storageFlags.timeout, "timeout", 30*time.Second, "time allowed to connect to the store")
	storageEmergencyCmd.Flags().BoolVar(&storageFlags.yes, "yes", false, "confirm the emergency cleanup")
	storagePurgeCmd.Flags().IntVar(&storageFlags.days, "days", 0, "retention override in days (0 uses the policy)")
}

// withService loads the configuration, connects to the store and runs fn.
func withService(cmd *cobra.Command, name string, fn func(context.Context, *service.Service, cli.Formatter) error) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := service.New(cfg, service.Options{})
	if err != nil {
		return cli.NewConfigError("config", err.Error())
	}
	defer svc.Close()

	ctx := cli.SetupSignalHandler(cmd.Context())

	connectCtx, cancel := context.WithTimeout(ctx, storageFlags.timeout)
	defer cancel()
	if err := svc.Connect(connectCtx); err != nil {
		return cli.NewCommandError(name, fmt.Errorf("analytics store unreachable: %w", err))
	}

	if err := fn(ctx, svc, f); err != nil {
		return cli.NewCommandError(name, err)
	}
	return nil
}

// statsTable renders a capacity report.
type statsTable struct {
	*capacity.Stats
}

func (t statsTable) Header() []string {
	return []string{"CATEGORY", "RECORDS", "SIZE_MB"}
}

func (t statsTable) Rows() [][]string {
	categories := make([]analytics.Category, 0, len(t.Categories))
	for c := range t.Categories {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	rows := make([][]string, 0, len(categories)+3)
	for _, c := range categories {
		cs := t.Categories[c]
		rows = append(rows, []string{c.String(), strconv.FormatInt(cs.Count, 10), mb(cs.SizeMB)})
	}
	rows = append(rows,
		[]string{"total", "", mb(t.TotalSizeMB)},
		[]string{"budget", "", mb(t.MaxStorageMB)},
		[]string{"used_percent", "", strconv.FormatFloat(t.UsedPercentage, 'f', 1, 64)},
	)
	return rows
}

// reportTable renders a cleanup report.
type reportTable struct {
	*retention.Report
}

func (t reportTable) Header() []string {
	return []string{"FIELD", "VALUE"}
}

func (t reportTable) Rows() [][]string {
	rows := [][]string{
		{"mode", string(t.Mode)},
		{"skipped", strconv.FormatBool(t.Skipped)},
		{"cleaned", strconv.FormatBool(t.Cleaned)},
		{"deleted", strconv.FormatInt(t.DeletedCount, 10)},
		{"freed_mb", mb(t.FreedMB)},
		{"used_percent_before", strconv.FormatFloat(t.UsedPercentageBefore, 'f', 1, 64)},
		{"used_percent_after", strconv.FormatFloat(t.UsedPercentageAfter, 'f', 1, 64)},
		{"duration", t.Duration.Round(time.Millisecond).String()},
	}
	for _, c := range analytics.AllCategories() {
		if n, ok := t.Deleted[c]; ok {
			rows = append(rows, []string{"deleted." + c.String(), strconv.FormatInt(n, 10)})
		}
	}
	for _, failure := range t.Failures {
		rows = append(rows, []string{"error", failure})
	}
	return rows
}

// purgeTable renders per-category purge counts.
type purgeTable struct {
	order   []analytics.Category
	deleted map[analytics.Category]int64
}

func (t purgeTable) Header() []string {
	return []string{"CATEGORY", "DELETED"}
}

func (t purgeTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.order))
	for _, c := range t.order {
		rows = append(rows, []string{c.String(), strconv.FormatInt(t.deleted[c], 10)})
	}
	return rows
}

// MarshalJSON keeps JSON output keyed by category name.
func (t purgeTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.deleted)
}

func mb(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

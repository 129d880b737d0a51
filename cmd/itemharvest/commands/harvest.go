package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"itemharvest/lib/harvest"
	"itemharvest/lib/serviceutil"
)

var (
	minID  int
	maxID  int
	idStep int
)

func init() {
	harvestCmd.Flags().IntVar(&minID, "min", 0, "First item id, overrides range.min.")
	harvestCmd.Flags().IntVar(&maxID, "max", 0, "Batches start below this id, overrides range.max.")
	harvestCmd.Flags().IntVar(&idStep, "step", 0, "Distance between batch starts, overrides range.step.")
	rootCmd.AddCommand(harvestCmd)
}

func applyRangeFlags(cmd *cobra.Command, cfg *Config) {
	if cmd.Flags().Changed("min") {
		cfg.Range.Min = minID
	}
	if cmd.Flags().Changed("max") {
		cfg.Range.Max = maxID
	}
	if cmd.Flags().Changed("step") {
		cfg.Range.Step = idStep
	}
}

var harvestCmd = &cobra.Command{
	Use:   "harvest [--min <id>] [--max <id>] [--step <n>]",
	Short: "Fetches every item page in the configured range and writes a record per item.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		applyRangeFlags(cmd, &cfg)

		err = runHarvest(cmd.Context(), cfg)
		if err != nil {
			serviceutil.Fatal("harvest failed", err)
		}
	},
}

// runHarvest returns only after the ledger is closed and telemetry is
// flushed, so a failed run still reaches both.
func runHarvest(ctx context.Context, cfg Config) error {
	shutdown, err := cfg.setupTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer shutdown()

	fetch, err := cfg.newFetcher()
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}

	pipeline, err := harvest.New(cfg.harvestConfig(), fetch, cfg.newExtractor(), recordsFS())
	if err != nil {
		fetch.Close()
		return fmt.Errorf("invalid harvest config: %w", err)
	}

	l, ok, err := cfg.openLedger()
	if err != nil {
		fetch.Close()
		return fmt.Errorf("open ledger: %w", err)
	}
	if ok {
		defer l.Close()
		pipeline.WithRecorder(l)
	}

	slog.InfoContext(
		ctx, "starting harvest",
		"min", cfg.Range.Min,
		"max", cfg.Range.Max,
		"step", cfg.Range.Step,
		"policy", cfg.Policy,
	)
	report, err := pipeline.Run(ctx)
	printReport(report)
	return err
}

func printReport(report harvest.Report) {
	t := newTable()
	t.SetTitle(fmt.Sprintf(
		"%d batches, %d records written in %s",
		report.Batches, len(report.Written), report.Elapsed.Round(time.Millisecond),
	))
	t.AppendHeader(table.Row{"Skip reason", "Items"})

	counts := map[harvest.SkipReason]int{}
	for _, s := range report.Skipped {
		counts[s.Reason]++
	}
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		t.AppendRow(table.Row{reason, counts[harvest.SkipReason(reason)]})
	}
	t.AppendFooter(table.Row{"total", len(report.Skipped)})
	t.Render()
}

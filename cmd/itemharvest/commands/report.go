package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"itemharvest/lib/serviceutil"
)

var (
	reportLimit int
	reportRun   int64
)

func init() {
	reportCmd.Flags().IntVar(&reportLimit, "limit", 10, "How many of the most recent runs to list, 0 lists all of them.")
	reportCmd.Flags().Int64Var(&reportRun, "run", 0, "Lists the skipped items of this run instead.")
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report [--limit <n>] [--run <id>]",
	Short: "Prints past harvest runs from the ledger.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		l, ok, err := cfg.openLedger()
		if err != nil {
			serviceutil.Fatal("failed to open ledger", err)
		}
		if !ok {
			serviceutil.Fatal("no ledger", errors.New("set ledger.file in the config to record runs"))
		}
		defer l.Close()

		t := newTable()

		if reportRun > 0 {
			skips, err := l.Skips(ctx, reportRun)
			if err != nil {
				serviceutil.Fatal("failed to read skips", err)
			}
			t.AppendHeader(table.Row{"Item", "Reason", "Error"})
			for _, s := range skips {
				t.AppendRow(table.Row{s.ItemID, s.Reason, s.Error})
			}
			t.Render()
			return
		}

		runs, err := l.Runs(ctx, reportLimit)
		if err != nil {
			serviceutil.Fatal("failed to read runs", err)
		}
		t.AppendHeader(table.Row{"Run", "Started", "Elapsed", "Range", "Policy", "Batches", "Written", "Skipped", "Error"})
		for _, r := range runs {
			t.AppendRow(table.Row{
				r.ID,
				r.StartedAt.Format(time.DateTime),
				r.Elapsed.Round(time.Second),
				rangeText(r.MinID, r.MaxID, r.IDStep),
				r.Policy,
				r.Batches,
				r.Written,
				r.Skipped,
				r.Error,
			})
		}
		t.Render()
	},
}

func rangeText(minID, maxID, step int) string {
	return fmt.Sprintf("[%d, %d) by %d", minID, maxID, step)
}

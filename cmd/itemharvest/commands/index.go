package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"itemharvest/lib/aggregate"
	"itemharvest/lib/serviceutil"
)

func init() {
	indexCmd.AddCommand(indexWriteCmd)
	indexCmd.AddCommand(indexVerifyCmd)
	rootCmd.AddCommand(indexCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Builds and checks the index of records that carry the configured marker.",
}

func newPass() (aggregate.Pass, aggregate.Options) {
	cfg, err := loadConfig()
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	opts := cfg.aggregateOptions()
	return aggregate.New(recordsFS(), opts), opts
}

var indexWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Overwrites the index with every matching record.",
	Run: func(cmd *cobra.Command, args []string) {
		pass, opts := newPass()
		ids, err := pass.WriteIndex(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to write index", err)
		}
		fmt.Printf("indexed %d records into %s\n", len(ids), opts.IndexPath)
	},
}

var indexVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Checks that every indexed record still carries the marker.",
	Run: func(cmd *cobra.Command, args []string) {
		pass, opts := newPass()
		result, err := pass.VerifyIndex(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to verify index", err)
		}
		if result.OK {
			fmt.Printf("%s is consistent with the records\n", opts.IndexPath)
			return
		}
		for _, id := range result.Mismatched {
			slog.Warn("indexed record does not match", "id", id)
		}
		serviceutil.Fatal(
			"index is out of date",
			fmt.Errorf("%d of the indexed records do not match, run 'index write'", len(result.Mismatched)),
		)
	},
}

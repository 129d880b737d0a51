package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"itemharvest/lib/record"
	"itemharvest/lib/serviceutil"
)

var renameDir string

func init() {
	renameCmd.Flags().StringVar(&renameDir, "dir", "", "The directory to rename files in, defaults to output.records_dir.")
	rootCmd.AddCommand(renameCmd)
}

var renameCmd = &cobra.Command{
	Use:   "rename-ext <old> <new> [--dir <path>]",
	Short: "Renames every file ending in <old> to end in <new>, e.g. turning .txt dumps into .itm records.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		dir := renameDir
		if dir == "" {
			cfg, err := loadConfig()
			if err != nil {
				serviceutil.Fatal("failed to read config", err)
			}
			dir = cfg.Output.RecordsDir
		}

		renamed, err := record.ChangeExtensions(dir, args[0], args[1])
		fmt.Printf("renamed %d files in %s\n", renamed, dir)
		if err != nil {
			serviceutil.Fatal("failed to rename some files", err)
		}
	},
}

package commands

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"itemharvest/lib/harvest"
	"itemharvest/lib/record"
	"itemharvest/lib/serviceutil"
)

var writeFetched bool

func init() {
	fetchCmd.Flags().BoolVar(&writeFetched, "write", false, "Writes the records of the fetched items to the records directory.")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <id>... [--write]",
	Short: "Fetches and extracts the given item ids, printing what each page yields.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		template, err := harvest.ParseTemplate(cfg.Source.URLTemplate)
		if err != nil {
			serviceutil.Fatal("invalid url template", err)
		}
		if cfg.Range.Step <= 0 {
			serviceutil.Fatal("invalid range", fmt.Errorf("step must be positive, got %d", cfg.Range.Step))
		}

		for _, arg := range args {
			if _, err := strconv.Atoi(arg); err != nil {
				serviceutil.Fatal("item ids must be integers", err)
			}
		}

		fetch, err := cfg.newFetcher()
		if err != nil {
			serviceutil.Fatal("failed to create fetcher", err)
		}
		defer fetch.Close()
		extractor := cfg.newExtractor()
		fsys := recordsFS()

		t := newTable()
		t.AppendHeader(table.Row{"Id", "Result", "Name", "Fields"})

		// the same round size a harvest batch has
		for _, round := range harvest.Chunk(args, cfg.Range.Step+1, "") {
			urls := make([]string, 0, len(round))
			for _, arg := range round {
				if arg == "" {
					continue
				}
				id, _ := strconv.Atoi(arg)
				urls = append(urls, template.URL(id))
			}

			outcomes := fetch.FetchEach(ctx, urls)
			for _, url := range urls {
				id, err := template.Identifier(url)
				if err != nil {
					serviceutil.Fatal("failed to derive item id", err)
				}

				outcome := outcomes[url]
				if outcome.Err != nil {
					t.AppendRow(table.Row{id, harvest.FetchFailed, "", outcome.Err.Error()})
					continue
				}

				item, err := extractor.Extract(ctx, outcome.Payload)
				if err != nil {
					reason, ok := harvest.ReasonFor(err)
					if !ok {
						serviceutil.Fatal("failed to extract item", err)
					}
					t.AppendRow(table.Row{id, reason, "", err.Error()})
					continue
				}

				r := record.FromItem(id, item)
				result := "ok"
				if writeFetched {
					err = record.Write(ctx, fsys, cfg.Output.RecordsDir, r)
					if err != nil {
						serviceutil.Fatal("failed to write record", err)
					}
					result = "written"
				}
				t.AppendRow(table.Row{id, result, r.Name, len(r.Fields)})
			}
		}

		t.Render()
	},
}

package commands

import (
	"fmt"
	"log/slog"
	"sort"

	"blogstat-backend/internal/aggregate"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	aggregateInput   string
	aggregateJSON    bool
	aggregatePersist bool
)

func init() {
	aggregateCmd.Flags().StringVar(&aggregateInput, "input", "", "A file of urls, one per line (- reads stdin).")
	aggregateCmd.Flags().BoolVar(&aggregateJSON, "json", false, "Print the report as JSON.")
	aggregateCmd.Flags().BoolVar(&aggregatePersist, "persist", false, "Store the results as today's snapshot.")
	rootCmd.AddCommand(aggregateCmd)
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate [url...] [--input <file>] [--persist]",
	Short: "Fetches reactions, comment counts and publish dates of posts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := getApp(cmd.Context())

		urls, err := readUrls(args, aggregateInput)
		if err != nil {
			return fmt.Errorf("read urls: %w", err)
		}
		if len(urls) == 0 {
			return fmt.Errorf("no urls were given")
		}

		results := app.Orchestrator.ExtractAll(cmd.Context(), urls)

		if aggregatePersist {
			store, ok, err := app.Store()
			if err != nil {
				return fmt.Errorf("open snapshot db: %w", err)
			}
			if !ok {
				return fmt.Errorf("--persist needs database.file or database.url in the config")
			}
			err = store.Push(cmd.Context(), app.Clock.Now(), results)
			if err != nil {
				return fmt.Errorf("store snapshot: %w", err)
			}
		}

		report := aggregate.NewReport(results)
		if len(report) < len(results) {
			slog.Warn("some urls are unavailable", "requested", len(results), "available", len(report))
		}

		out := cmd.OutOrStdout()
		if aggregateJSON {
			return writeJSON(out, report)
		}

		sorted := make([]string, 0, len(results))
		for u := range results {
			sorted = append(sorted, u)
		}
		sort.Strings(sorted)

		t := newTable(out)
		t.AppendHeader(table.Row{"url", "reactions", "comments", "posted"})
		for _, u := range sorted {
			result := results[u]
			if !result.Valid {
				t.AppendRow(table.Row{u, "-", "-", "unavailable"})
				continue
			}
			posted := "-"
			if result.PostDate != nil {
				posted = result.PostDate.String()
			}
			t.AppendRow(table.Row{u, result.ReactionCount, result.CommentCount, posted})
		}
		t.AppendFooter(table.Row{fmt.Sprintf("%d / %d available", len(report), len(results))})
		t.Render()
		return nil
	},
}

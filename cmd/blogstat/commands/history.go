package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <url>",
	Short: "Shows the stored daily snapshots of a post.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := getApp(cmd.Context())

		store, ok, err := app.Store()
		if err != nil {
			return fmt.Errorf("open snapshot db: %w", err)
		}
		if !ok {
			return fmt.Errorf("history needs database.file or database.url in the config")
		}

		rows, err := store.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"day", "reactions", "comments", "taken at"})
		for _, row := range rows {
			if !row.Valid {
				t.AppendRow(table.Row{row.Day.String(), "-", "-", row.TakenAt.Format("15:04")})
				continue
			}
			t.AppendRow(table.Row{row.Day.String(), row.Reactions, row.Comments, row.TakenAt.Format("15:04")})
		}
		t.Render()
		return nil
	},
}

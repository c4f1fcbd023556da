package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var commentsJSON bool

func init() {
	commentsCmd.Flags().BoolVar(&commentsJSON, "json", false, "Print the comments as JSON.")
	rootCmd.AddCommand(commentsCmd)
}

var commentsCmd = &cobra.Command{
	Use:   "comments <url>",
	Short: "Lists every comment of a cafe article.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := getApp(cmd.Context())

		records, err := app.Paginator.Comments(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if commentsJSON {
			return writeJSON(out, records)
		}

		t := newTable(out)
		t.AppendHeader(table.Row{"id", "time", "author", "reply to", "likes", "contents"})
		for _, r := range records {
			replyTo := ""
			if r.IsReply {
				replyTo = fmt.Sprint(r.ParentID)
			}
			t.AppendRow(table.Row{
				r.ID,
				r.Timestamp.Format("2006-01-02 15:04"),
				r.Author.DisplayName,
				replyTo,
				r.ReactionCount,
				r.Contents(),
			})
		}
		t.AppendFooter(table.Row{fmt.Sprintf("%d comments", len(records))})
		t.Render()
		return nil
	},
}

package commands

import (
	"blogstat-backend/internal/components/serviceutil"
	"blogstat-backend/internal/httpapi"

	"github.com/spf13/cobra"
)

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "The port to listen on.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--port <port>]",
	Short: "Serves aggregation, comments and history over http.",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := getApp(cmd.Context())

		var history httpapi.HistoryStore
		store, ok, err := app.Store()
		if err != nil {
			return err
		}
		if ok {
			history = store
		}

		server := httpapi.NewServer(app.Orchestrator, app.Paginator, history, app.Clock, app.Tel)
		return serviceutil.StartHttpServer(cmd.Context(), servePort, server.Handler())
	},
}

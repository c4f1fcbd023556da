package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"blogstat-backend/internal/components/chrono"
	"blogstat-backend/internal/components/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debugLogs  bool
	jsonLogs   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "blogstat.json5", "The config file, a <name>.local.<ext> next to it overrides it.")
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "Log debug reports.")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Log JSON instead of text.")
}

var rootCmd = &cobra.Command{
	Use:           "blogstat",
	Short:         "blogstat collects engagement metrics and comment threads of naver blog and cafe posts.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(debugLogs, jsonLogs)

		cfg, err := LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}

		otel, err := telemetry.SetupOtel(cmd.Context(), "blogstat", cfg.Otlp)
		if err != nil {
			return fmt.Errorf("setup otel: %w", err)
		}

		app := NewApp(cfg, chrono.NewStandardImpl(), telemetry.SlogAPI{})
		app.otel = otel
		slotOf(cmd.Context()).app = app
		return nil
	},
}

// execute runs the root command and closes the App afterwards, also when the
// command itself failed.
func execute(ctx context.Context) error {
	slot := &appSlot{}
	err := rootCmd.ExecuteContext(withSlot(ctx, slot))
	if slot.app == nil {
		return err
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if closeErr := slot.app.Close(closeCtx); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close: %w", closeErr))
	}
	return err
}

func ExecuteContext(ctx context.Context) {
	if err := execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package main implements the trackerd CLI: one-shot tracking and alert
// cycles for cron, and a long-running admin server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adyam/logistics-tracker/internal/app"
	"github.com/adyam/logistics-tracker/internal/config"
	"github.com/adyam/logistics-tracker/internal/logging"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// newApp is swapped out in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trackerd",
		Short: "Shipment tracking and alert service",
		Long: `trackerd polls courier sites and APIs for shipment status, records
progress in Postgres, and alerts receivers over WhatsApp. The track and
alerts commands run one cycle and exit, which suits cron; serve exposes the
same cycles over HTTP along with health probes and Prometheus metrics.`,

		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (environment variables with the TRACKER_ prefix also apply)")

	cmd.AddCommand(newTrackCmd())
	cmd.AddCommand(newAlertsCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

// printSummary writes the cycle summary as JSON to stdout so cron wrappers
// and operators can parse it.
func printSummary(summary any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAlertsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "Run one alert dispatch cycle and exit",
		Long: `Claims shipments whose alerts are due and messages each receiver
over WhatsApp with bounded retries. The summary is printed as JSON; the
exit code is nonzero when any alert exhausted its retries.`,

		RunE: runAlertsCommand,
	}
}

func runAlertsCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	summary, err := a.Dispatcher.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("alert cycle: %w", err)
	}
	if err := printSummary(summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d alerts failed", summary.Failed, summary.Processed)
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTrackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track",
		Short: "Run one tracking cycle and exit",
		Long: `Fetches every undelivered shipment, checks it against its courier,
and persists the merged result. The summary is printed as JSON; the exit
code is nonzero when any shipment failed its check.`,

		RunE: runTrackCommand,
	}
}

func runTrackCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	summary, err := a.Orchestrator.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("tracking cycle: %w", err)
	}
	if err := printSummary(summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d checks failed", summary.Failed, summary.Checked)
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"toolfab/internal/engine"
)

var (
	replayRunID           string
	replayDryRun          bool
	replayIncludeFailures bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-execute a prior run's recorded steps",
	Long: `replay loads a persisted run by id, report path or id substring and
re-invokes each recorded attempt with its exact backend, tool and
params, in the original order. Failed attempts are skipped unless
--include-failures is set.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayRunID, "run-id", "", "run id, report path or id substring")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "list the steps without executing")
	replayCmd.Flags().BoolVar(&replayIncludeFailures, "include-failures", false, "replay failed attempts too")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayRunID == "" {
		return usagef("--run-id is required")
	}

	s, err := buildStack(stackOptions{})
	if err != nil {
		return err
	}

	report, err := s.engine.Replay(cmd.Context(), engine.ReplayOptions{
		RunRef:          replayRunID,
		DryRun:          replayDryRun,
		IncludeFailures: replayIncludeFailures,
	})
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.OK {
		return fmt.Errorf("replay %s had failing steps", report.ID)
	}
	return nil
}

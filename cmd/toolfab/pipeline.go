package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"toolfab/internal/engine"
)

var (
	pipelineFile            string
	pipelineDryRun          bool
	pipelineContinueOnError bool
	pipelineTopK            int
	pipelineMaxAttempts     int
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run a declarative sequence of routed requests",
	RunE:  runPipeline,
}

func init() {
	pipelineCmd.Flags().StringVar(&pipelineFile, "file", "", "pipeline document")
	pipelineCmd.Flags().BoolVar(&pipelineDryRun, "dry-run", false, "preview each step without executing")
	pipelineCmd.Flags().BoolVar(&pipelineContinueOnError, "continue-on-error", false, "keep running after a failed step")
	pipelineCmd.Flags().IntVar(&pipelineTopK, "top-k", 0, "number of candidates per step")
	pipelineCmd.Flags().IntVar(&pipelineMaxAttempts, "max-attempts", 0, "retry budget per candidate")
	rootCmd.AddCommand(pipelineCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	if pipelineFile == "" {
		return usagef("--file is required")
	}

	s, err := buildStack(stackOptions{})
	if err != nil {
		return err
	}

	report, err := s.engine.Pipeline(cmd.Context(), engine.PipelineOptions{
		File:            pipelineFile,
		DryRun:          pipelineDryRun,
		ContinueOnError: pipelineContinueOnError,
		TopK:            pipelineTopK,
		MaxAttempts:     pipelineMaxAttempts,
	})
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.OK {
		return fmt.Errorf("pipeline %s failed", report.ID)
	}
	return nil
}

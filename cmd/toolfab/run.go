package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"toolfab/internal/engine"
)

var (
	runText        string
	runParamsJSON  string
	runTopK        int
	runMaxAttempts int
	runCooldown    int
	runThreshold   int
	runMetricsDays int
	runDryRun      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Route a request and execute the ranked candidates with fallback",
	Long: `run routes the request text, then executes candidates in rank order:
circuit-open candidates are skipped, transport failures retry up to the
attempt budget, and the first success wins. The full decision trace is
printed and persisted either way.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runText, "text", "", "request text to route and execute")
	runCmd.Flags().StringVar(&runParamsJSON, "params", "", "JSON object overriding the rule's default params")
	runCmd.Flags().IntVar(&runTopK, "top-k", 0, "number of candidates to consider")
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "retry budget per candidate")
	runCmd.Flags().IntVar(&runCooldown, "cooldown-sec", 0, "breaker cooldown override in seconds")
	runCmd.Flags().IntVar(&runThreshold, "failure-threshold", 0, "breaker failure threshold override")
	runCmd.Flags().IntVar(&runMetricsDays, "metrics-days", 0, "trailing window for reliability stats")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "preview the top candidate's params without executing")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if runText == "" {
		return usagef("--text is required")
	}
	params, err := parseParams(runParamsJSON)
	if err != nil {
		return err
	}

	s, err := buildStack(stackOptions{
		metricsDays:      runMetricsDays,
		cooldownSec:      runCooldown,
		failureThreshold: runThreshold,
	})
	if err != nil {
		return err
	}

	rec, err := s.engine.Run(cmd.Context(), engine.RunOptions{
		Text:        runText,
		Params:      params,
		TopK:        runTopK,
		MaxAttempts: runMaxAttempts,
		DryRun:      runDryRun,
	})
	if err != nil {
		return err
	}
	if err := printJSON(rec); err != nil {
		return err
	}
	if !rec.OK {
		return fmt.Errorf("run %s failed: %s", rec.ID, rec.Error)
	}
	return nil
}

// parseParams decodes the --params override object.
func parseParams(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, usagef("--params must be a JSON object: %v", err)
	}
	return params, nil
}

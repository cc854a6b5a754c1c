package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	routeText        string
	routeTopK        int
	routeCooldown    int
	routeThreshold   int
	routeMetricsDays int
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Show the ranked candidates for a request without executing",
	RunE:  runRoute,
}

func init() {
	routeCmd.Flags().StringVar(&routeText, "text", "", "request text to route")
	routeCmd.Flags().IntVar(&routeTopK, "top-k", 0, "number of candidates to return")
	routeCmd.Flags().IntVar(&routeCooldown, "cooldown-sec", 0, "breaker cooldown override in seconds")
	routeCmd.Flags().IntVar(&routeThreshold, "failure-threshold", 0, "breaker failure threshold override")
	routeCmd.Flags().IntVar(&routeMetricsDays, "metrics-days", 0, "trailing window for reliability stats")
	rootCmd.AddCommand(routeCmd)
}

func runRoute(cmd *cobra.Command, args []string) error {
	if routeText == "" {
		return usagef("--text is required")
	}

	s, err := buildStack(stackOptions{
		metricsDays:      routeMetricsDays,
		cooldownSec:      routeCooldown,
		failureThreshold: routeThreshold,
	})
	if err != nil {
		return err
	}
	if routeTopK > 0 {
		s.ranker.SetTopK(routeTopK)
	}

	return printJSON(s.ranker.Rank(routeText))
}

// printJSON writes an indented document to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

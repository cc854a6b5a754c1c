package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolfab/internal/core"
	"toolfab/internal/metrics"
)

var statsDays int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate the audit log into reliability and latency statistics",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", metrics.DefaultWindowDays, "trailing window in days")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt := core.NewRuntime(cfg, logger)
	cutoff := time.Now().UTC().AddDate(0, 0, -statsDays)
	records, err := rt.Audit().ReadSince(cutoff)
	if err != nil {
		logger.Warn("failed to read audit history", zap.Error(err))
	}

	return printJSON(metrics.Aggregate(records, statsDays))
}

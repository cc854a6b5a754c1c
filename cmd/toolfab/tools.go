package main

import (
	"github.com/spf13/cobra"

	"toolfab/internal/core"
)

var toolsBackend string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools each enabled backend serves",
	Long: `tools inventories every enabled backend. Backends that cannot be
probed degrade to a warning entry listing the local adapter set.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsBackend, "backend", "", "limit the listing to one backend")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if toolsBackend != "" {
		if _, err := cfg.Backend(toolsBackend, true); err != nil {
			return err
		}
	}

	rt := core.NewRuntime(cfg, logger)
	listing := rt.ListTools(cmd.Context())
	if toolsBackend == "" {
		return printJSON(listing)
	}

	filtered := listing[:0]
	for _, entry := range listing {
		if entry.Backend == toolsBackend {
			filtered = append(filtered, entry)
		}
	}
	return printJSON(filtered)
}

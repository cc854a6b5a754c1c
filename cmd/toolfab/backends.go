package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"toolfab/internal/config"
)

var backendsAll bool

var nameStyle = lipgloss.NewStyle().Bold(true)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the registered tool backends",
	RunE:  runBackends,
}

func init() {
	backendsCmd.Flags().BoolVar(&backendsAll, "all", false, "include disabled backends")
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	for _, b := range cfg.ListBackends(!backendsAll) {
		fmt.Println(renderBackend(b))
	}
	return nil
}

func renderBackend(b config.Backend) string {
	target := b.Command
	if b.Transport == config.TransportHTTP {
		target = b.Endpoint
	}
	line := fmt.Sprintf("%s  %s %s", nameStyle.Render(b.Name), b.Transport, target)
	if !b.Enabled {
		line += warnStyle.Render("  (disabled)")
	}
	if len(b.Categories) > 0 {
		line += dimStyle.Render("  [" + strings.Join(b.Categories, ", ") + "]")
	}
	if b.Description != "" {
		line += "\n" + dimStyle.Render("    "+b.Description)
	}
	return line
}

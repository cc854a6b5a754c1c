package main

import (
	"github.com/spf13/cobra"

	"toolfab/internal/core"
)

var (
	callBackend    string
	callTool       string
	callParamsJSON string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Execute one tool call directly, bypassing routing",
	RunE:  runCall,
}

func init() {
	callCmd.Flags().StringVar(&callBackend, "backend", "", "backend name")
	callCmd.Flags().StringVar(&callTool, "tool", "", "tool name")
	callCmd.Flags().StringVar(&callParamsJSON, "params", "", "JSON object of tool arguments")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	if callBackend == "" || callTool == "" {
		return usagef("--backend and --tool are required")
	}
	params, err := parseParams(callParamsJSON)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt := core.NewRuntime(cfg, logger)
	result, err := rt.Call(cmd.Context(), callBackend, callTool, params)
	if err != nil {
		return err
	}
	return printJSON(result)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"toolfab/internal/config"
	"toolfab/internal/mcp"
	"toolfab/internal/router"
)

var doctorProbeTools bool

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// check is one doctor finding.
type check struct {
	label  string
	ok     bool
	warn   bool
	detail string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the fabric's configuration and backend health",
	Long: `doctor verifies the registry and rules documents, state directory and
backend reachability, and prints a checklist. It reports problems
instead of failing on them; the exit code is non-zero only when at
least one check errored.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorProbeTools, "probe-tools", false, "probe each enabled backend's tool listing")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []check

	cfg, err := loadConfig()
	if err != nil {
		checks = append(checks, check{label: "registry config", detail: err.Error()})
		printChecks(checks)
		return fmt.Errorf("doctor found 1 error")
	}
	checks = append(checks, check{label: "registry config", ok: true,
		detail: fmt.Sprintf("%d backends, %d enabled", len(cfg.Backends), len(cfg.ListBackends(true)))})

	checks = append(checks, rulesCheck())
	checks = append(checks, stateDirCheck(cfg))
	checks = append(checks, backendChecks(cfg)...)
	if doctorProbeTools {
		checks = append(checks, probeChecks(cmd.Context(), cfg)...)
	}

	errorsFound := printChecks(checks)
	if errorsFound > 0 {
		return fmt.Errorf("doctor found %d error(s)", errorsFound)
	}
	return nil
}

func rulesCheck() check {
	rules, err := router.LoadRules(rulesPath)
	if err != nil {
		return check{label: "route rules", detail: err.Error()}
	}
	return check{label: "route rules", ok: true, detail: fmt.Sprintf("%d rules", len(rules.Rules))}
}

func stateDirCheck(cfg *config.Config) check {
	dir := cfg.Settings.StateDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return check{label: "state directory", detail: err.Error()}
	}
	return check{label: "state directory", ok: true, detail: dir}
}

// backendChecks validates each backend's transport configuration and,
// for stdio backends, that the command resolves on PATH.
func backendChecks(cfg *config.Config) []check {
	backends := cfg.ListBackends(false)
	out := make([]check, 0, len(backends))
	for _, b := range backends {
		label := "backend " + b.Name
		if !b.Enabled {
			out = append(out, check{label: label, ok: true, warn: true, detail: "disabled"})
			continue
		}
		switch b.Transport {
		case config.TransportStdio:
			if _, err := exec.LookPath(b.Command); err != nil {
				out = append(out, check{label: label, detail: fmt.Sprintf("command %q not on PATH", b.Command)})
				continue
			}
			out = append(out, check{label: label, ok: true, detail: "stdio: " + b.Command})
		case config.TransportHTTP:
			out = append(out, check{label: label, ok: true, detail: "http: " + b.Endpoint})
		}
	}
	return out
}

// probeChecks lists tools on every enabled backend in parallel.
func probeChecks(ctx context.Context, cfg *config.Config) []check {
	executor := mcp.NewExecutor(cfg, logger)
	backends := cfg.ListBackends(true)

	var mu sync.Mutex
	var out []check

	g, ctx := errgroup.WithContext(ctx)
	for _, b := range backends {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout())
			defer cancel()

			c := check{label: "probe " + b.Name}
			infos, err := executor.ListTools(probeCtx, b)
			if err != nil {
				c.detail = err.Error()
			} else {
				c.ok = true
				c.detail = fmt.Sprintf("%d tools", len(infos))
			}

			mu.Lock()
			out = append(out, c)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].label < out[j].label })
	return out
}

// printChecks renders the checklist and returns the error count.
func printChecks(checks []check) int {
	var errors, warnings int
	for _, c := range checks {
		var mark string
		switch {
		case c.ok && c.warn:
			warnings++
			mark = warnStyle.Render("!")
		case c.ok:
			mark = okStyle.Render("✓")
		default:
			errors++
			mark = failStyle.Render("✗")
		}
		line := fmt.Sprintf("%s %s", mark, c.label)
		if c.detail != "" {
			line += dimStyle.Render("  " + c.detail)
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d error(s), %d warning(s)\n", errors, warnings)
	return errors
}

// toolfab is the CLI for the tool routing and execution fabric: doctor
// checks, route inspection, resilient runs, replay of prior runs and
// declarative pipelines.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolfab/internal/breaker"
	"toolfab/internal/config"
	"toolfab/internal/core"
	"toolfab/internal/engine"
	"toolfab/internal/logging"
	"toolfab/internal/metrics"
	"toolfab/internal/router"
)

// Global flags.
var (
	cfgPath   string
	rulesPath string
	verbose   bool

	logger *zap.Logger
)

// usageError exits with code 2 instead of 1.
type usageError struct{ err error }

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:   "toolfab",
	Short: "Resilient multi-transport tool routing and execution fabric",
	Long: `toolfab dispatches free-text task requests to registered tool backends,
speaking a framed JSON-RPC protocol over subprocess stdio or HTTP, with
keyword routing, reliability-aware ranking, circuit breaking and local
adapter fallback. Every call leaves an audit record.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.New(verbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "toolfab.yaml", "backend registry document")
	rootCmd.PersistentFlags().StringVar(&rulesPath, "rules", "routes.yaml", "route rules document")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var uerr *usageError
		if errors.As(err, &uerr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// loadConfig reads and validates the registry document.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stack bundles the wired components behind one command-side handle.
type stack struct {
	cfg     *config.Config
	runtime *core.Runtime
	rules   *router.Rules
	ranker  *router.Ranker
	breaker *breaker.Store
	engine  *engine.Engine
}

// stackOptions carry the tuning flags shared by route and run.
type stackOptions struct {
	metricsDays      int
	cooldownSec      int
	failureThreshold int
}

// buildStack wires the full fabric from the config and rules documents.
func buildStack(opts stackOptions) (*stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rules, err := router.LoadRules(rulesPath)
	if err != nil {
		return nil, err
	}

	rt := core.NewRuntime(cfg, logger)

	days := opts.metricsDays
	if days <= 0 {
		days = metrics.DefaultWindowDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	records, err := rt.Audit().ReadSince(cutoff)
	if err != nil {
		logger.Warn("failed to read audit history", zap.Error(err))
	}
	report := metrics.Aggregate(records, days)

	store := breaker.New(cfg.BreakerPath(), opts.failureThreshold,
		time.Duration(opts.cooldownSec)*time.Second)
	ranker := router.NewRanker(cfg, rules, report, store)

	return &stack{
		cfg:     cfg,
		runtime: rt,
		rules:   rules,
		ranker:  ranker,
		breaker: store,
		engine:  engine.New(cfg, rt, ranker, store, logger),
	}, nil
}

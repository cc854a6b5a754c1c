// Package engine turns ranked candidates into executed work: the run
// engine with bounded retries and candidate fallback, deterministic
// replay of prior runs, and declarative multi-step pipelines. Every
// run persists a full decision trace as a JSON report.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolfab/internal/breaker"
	"toolfab/internal/config"
	"toolfab/internal/fault"
	"toolfab/internal/logging"
	"toolfab/internal/router"
)

// DefaultMaxAttempts bounds retries within one candidate.
const DefaultMaxAttempts = 2

// Attempt statuses.
const (
	AttemptOK      = "ok"
	AttemptError   = "error"
	AttemptSkipped = "skipped"
)

// ReasonCircuitOpen marks attempts skipped because the breaker is open.
const ReasonCircuitOpen = "circuit_open"

// Caller is the runtime surface the engines execute against.
type Caller interface {
	CallRouted(ctx context.Context, backend, tool string, params map[string]any, route map[string]any) (map[string]any, error)
}

// Attempt is one execution try against one candidate.
type Attempt struct {
	Backend    string         `json:"backend"`
	Tool       string         `json:"tool"`
	Rank       int            `json:"rank"`
	Score      float64        `json:"score"`
	Status     string         `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	Attempt    int            `json:"attempt"`
	DurationMs int64          `json:"duration_ms"`
	Params     map[string]any `json:"params,omitempty"`
	Error      string         `json:"error,omitempty"`
	Preview    string         `json:"preview,omitempty"`
	Timestamp  time.Time      `json:"ts"`

	// result carries the raw payload to the run record; only the
	// preview is persisted on the attempt itself.
	result map[string]any
}

// RunRecord is the persisted decision trace of one run. Written once,
// immutable thereafter.
type RunRecord struct {
	ID            string                   `json:"id"`
	Request       string                   `json:"request"`
	StartedAt     time.Time                `json:"started_at"`
	Candidates    []router.RankedCandidate `json:"candidates"`
	Attempts      []Attempt                `json:"attempts"`
	Selected      *router.RankedCandidate  `json:"selected"`
	Result        map[string]any           `json:"result"`
	OK            bool                     `json:"ok"`
	Error         string                   `json:"error,omitempty"`
	DurationMs    int64                    `json:"duration_ms"`
	DryRun        bool                     `json:"dry_run,omitempty"`
	ParamsPreview map[string]any           `json:"params_preview,omitempty"`
}

// RunOptions parameterize one run.
type RunOptions struct {
	Text string

	// Params override the selected rule's default params.
	Params map[string]any

	TopK        int
	MaxAttempts int
	DryRun      bool
}

// Engine drives runs, replays and pipelines against the runtime.
type Engine struct {
	cfg     *config.Config
	runtime Caller
	ranker  *router.Ranker
	breaker *breaker.Store
	logger  *zap.Logger
}

// New wires an engine.
func New(cfg *config.Config, runtime Caller, ranker *router.Ranker, store *breaker.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		runtime: runtime,
		ranker:  ranker,
		breaker: store,
		logger:  logger.Named("engine"),
	}
}

// Run routes the request text, then executes the ranked shortlist in
// order with bounded retries, stopping at the first success. The record
// is persisted whether or not any candidate succeeded; a non-nil error
// is returned only for persistence failures.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunRecord, error) {
	if opts.TopK > 0 {
		e.ranker.SetTopK(opts.TopK)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	start := time.Now()
	rec := &RunRecord{
		ID:         newReportID("run"),
		Request:    opts.Text,
		StartedAt:  start.UTC(),
		Candidates: e.ranker.Rank(opts.Text),
	}

	if opts.DryRun {
		top := rec.Candidates[0]
		rec.DryRun = true
		rec.OK = true
		rec.Selected = &top
		rec.ParamsPreview = mergeParams(top.DefaultParams, opts.Params)
		rec.DurationMs = time.Since(start).Milliseconds()
		return rec, e.persist(rec.ID, rec)
	}

	for rank, cand := range rec.Candidates {
		key := breaker.Key(cand.Backend, cand.Tool)
		if e.breaker.IsOpen(key) {
			rec.Attempts = append(rec.Attempts, Attempt{
				Backend:   cand.Backend,
				Tool:      cand.Tool,
				Rank:      rank,
				Score:     cand.Score,
				Status:    AttemptSkipped,
				Reason:    ReasonCircuitOpen,
				Timestamp: time.Now().UTC(),
			})
			continue
		}

		params := mergeParams(cand.DefaultParams, opts.Params)
		for try := 1; try <= maxAttempts; try++ {
			att, err := e.attempt(ctx, cand, rank, try, params)
			rec.Attempts = append(rec.Attempts, att)
			if err != nil {
				// Retrying cannot fix policy or resolution failures.
				if !fault.IsTransport(err) {
					break
				}
				continue
			}

			selected := cand
			rec.Selected = &selected
			rec.Result = att.result
			rec.OK = true
			rec.DurationMs = time.Since(start).Milliseconds()
			return rec, e.persist(rec.ID, rec)
		}
	}

	rec.Error = "all candidates failed"
	rec.DurationMs = time.Since(start).Milliseconds()
	return rec, e.persist(rec.ID, rec)
}

// attempt executes one try and settles breaker state for its outcome.
func (e *Engine) attempt(ctx context.Context, cand router.RankedCandidate, rank, try int, params map[string]any) (Attempt, error) {
	att := Attempt{
		Backend:   cand.Backend,
		Tool:      cand.Tool,
		Rank:      rank,
		Score:     cand.Score,
		Attempt:   try,
		Params:    params,
		Timestamp: time.Now().UTC(),
	}

	start := time.Now()
	result, err := e.runtime.CallRouted(ctx, cand.Backend, cand.Tool, params, routeMeta(cand, rank))
	att.DurationMs = time.Since(start).Milliseconds()

	key := breaker.Key(cand.Backend, cand.Tool)
	if err != nil {
		att.Status = AttemptError
		att.Error = err.Error()
		if berr := e.breaker.RecordFailure(key, err.Error()); berr != nil {
			e.logger.Warn("failed to record breaker failure", zap.String("key", key), zap.Error(berr))
		}
		return att, err
	}

	att.Status = AttemptOK
	att.result = result
	att.Preview = logging.Preview(previewOf(result))
	if berr := e.breaker.RecordSuccess(key); berr != nil {
		e.logger.Warn("failed to record breaker success", zap.String("key", key), zap.Error(berr))
	}
	return att, nil
}

func routeMeta(cand router.RankedCandidate, rank int) map[string]any {
	return map[string]any{
		"rule":       cand.RuleName,
		"rank":       rank,
		"score":      cand.Score,
		"confidence": cand.Confidence,
	}
}

// mergeParams overlays overrides on the rule defaults.
func mergeParams(defaults, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// newReportID generates ids like run-20260828-1a2b3c4d.
func newReportID(kind string) string {
	return fmt.Sprintf("%s-%s-%s", kind, time.Now().UTC().Format("20060102"), uuid.NewString()[:8])
}

// persist writes one report document under the runs directory.
func (e *Engine) persist(id string, doc any) error {
	dir := e.cfg.RunsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report %s: %w", id, err)
	}
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", id, err)
	}
	return nil
}

func previewOf(result map[string]any) string {
	if result == nil {
		return ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(data)
}

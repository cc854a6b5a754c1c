package engine

import (
	"context"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"toolfab/internal/fault"
)

// Pipeline is a declarative step list. Each step routes its own text;
// step params overlay the shared defaults.
type Pipeline struct {
	Name     string         `yaml:"name"`
	Defaults map[string]any `yaml:"defaults"`
	Steps    []PipelineStep `yaml:"steps"`
}

// PipelineStep is one run in the sequence.
type PipelineStep struct {
	Name   string         `yaml:"name"`
	Text   string         `yaml:"text"`
	Params map[string]any `yaml:"params"`
}

// PipelineOptions parameterize one pipeline execution.
type PipelineOptions struct {
	File            string
	DryRun          bool
	ContinueOnError bool
	TopK            int
	MaxAttempts     int
}

// StepResult wraps one step's run record.
type StepResult struct {
	Name string     `json:"name"`
	Run  *RunRecord `json:"run"`
	OK   bool       `json:"ok"`
}

// PipelineReport is the persisted outcome of one pipeline execution.
type PipelineReport struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	StartedAt  time.Time    `json:"started_at"`
	Steps      []StepResult `json:"steps"`
	OK         bool         `json:"ok"`
	DurationMs int64        `json:"duration_ms"`
	DryRun     bool         `json:"dry_run,omitempty"`
}

// LoadPipeline reads and validates a pipeline document.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.PipelineNotFound, err, "failed to read pipeline %s", path)
	}
	p := &Pipeline{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fault.Wrap(fault.InvalidPipeline, err, "failed to parse pipeline %s", path)
	}
	if len(p.Steps) == 0 {
		return nil, fault.New(fault.InvalidPipeline, "pipeline %s has no steps", path)
	}
	for i, step := range p.Steps {
		if step.Text == "" {
			return nil, fault.New(fault.InvalidPipeline, "pipeline %s: step %d has no text", path, i)
		}
	}
	return p, nil
}

// Pipeline runs the engine once per step in order, stopping at the
// first failed step unless ContinueOnError is set. The report is
// persisted on every outcome.
func (e *Engine) Pipeline(ctx context.Context, opts PipelineOptions) (*PipelineReport, error) {
	p, err := LoadPipeline(opts.File)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report := &PipelineReport{
		ID:        newReportID("pipeline"),
		Name:      p.Name,
		StartedAt: start.UTC(),
		DryRun:    opts.DryRun,
		OK:        true,
	}

	for _, step := range p.Steps {
		run, err := e.Run(ctx, RunOptions{
			Text:        step.Text,
			Params:      mergeParams(p.Defaults, step.Params),
			TopK:        opts.TopK,
			MaxAttempts: opts.MaxAttempts,
			DryRun:      opts.DryRun,
		})
		if err != nil {
			return nil, err
		}

		report.Steps = append(report.Steps, StepResult{Name: step.Name, Run: run, OK: run.OK})
		if !run.OK {
			report.OK = false
			if !opts.ContinueOnError {
				break
			}
		}
	}

	report.DurationMs = time.Since(start).Milliseconds()
	return report, e.persist(report.ID, report)
}

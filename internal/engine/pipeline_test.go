package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"toolfab/internal/fault"
)

func writePipeline(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

const twoStepPipeline = `name: nightly
defaults:
  mode: fast
steps:
  - name: first
    text: alpha task
  - name: second
    text: alpha
    params:
      mode: slow
`

func TestPipelineRunsStepsInOrder(t *testing.T) {
	caller := &scriptedCaller{}
	e, _ := newTestEngine(t, caller)

	report, err := e.Pipeline(context.Background(), PipelineOptions{
		File: writePipeline(t, twoStepPipeline),
	})
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Len(t, report.Steps, 2)
	require.Equal(t, "first", report.Steps[0].Name)
	require.Equal(t, "second", report.Steps[1].Name)
	require.NotNil(t, report.Steps[1].Run.Selected)
}

func TestPipelineStopsAtFirstFailure(t *testing.T) {
	caller := &scriptedCaller{fail: map[string]error{
		"a/t":         transportErr(),
		"b/t":         transportErr(),
		"local/think": transportErr(),
	}}
	e, _ := newTestEngine(t, caller)

	report, err := e.Pipeline(context.Background(), PipelineOptions{
		File:        writePipeline(t, twoStepPipeline),
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if report.OK {
		t.Error("ok = true, want false")
	}
	if len(report.Steps) != 1 {
		t.Errorf("steps = %d, want 1 (stopped at first failure)", len(report.Steps))
	}
}

func TestPipelineContinueOnError(t *testing.T) {
	caller := &scriptedCaller{fail: map[string]error{"b/t": transportErr()}}
	e, _ := newTestEngine(t, caller)

	// Make step one fail outright by failing every candidate it ranks.
	caller.fail["a/t"] = transportErr()
	caller.fail["local/think"] = transportErr()

	report, err := e.Pipeline(context.Background(), PipelineOptions{
		File:            writePipeline(t, twoStepPipeline),
		MaxAttempts:     1,
		ContinueOnError: true,
	})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if len(report.Steps) != 2 {
		t.Fatalf("steps = %d, want 2 with continue-on-error", len(report.Steps))
	}
	if report.OK {
		t.Error("ok = true, want false when any step failed")
	}
}

func TestPipelineDryRun(t *testing.T) {
	caller := &scriptedCaller{}
	e, _ := newTestEngine(t, caller)

	report, err := e.Pipeline(context.Background(), PipelineOptions{
		File:   writePipeline(t, twoStepPipeline),
		DryRun: true,
	})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if len(caller.calls) != 0 {
		t.Errorf("dry run executed %d calls", len(caller.calls))
	}
	if !report.DryRun || len(report.Steps) != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestLoadPipelineErrors(t *testing.T) {
	if _, err := LoadPipeline(filepath.Join(t.TempDir(), "absent.yaml")); !fault.IsCode(err, fault.PipelineNotFound) {
		t.Errorf("err = %v, want PIPELINE_NOT_FOUND", err)
	}

	empty := writePipeline(t, "name: empty\nsteps: []\n")
	if _, err := LoadPipeline(empty); !fault.IsCode(err, fault.InvalidPipeline) {
		t.Errorf("err = %v, want INVALID_PIPELINE for empty steps", err)
	}

	noText := writePipeline(t, "steps:\n  - name: bad\n")
	if _, err := LoadPipeline(noText); !fault.IsCode(err, fault.InvalidPipeline) {
		t.Errorf("err = %v, want INVALID_PIPELINE for missing text", err)
	}

	garbage := writePipeline(t, "{not yaml")
	if _, err := LoadPipeline(garbage); !fault.IsCode(err, fault.InvalidPipeline) {
		t.Errorf("err = %v, want INVALID_PIPELINE for parse failure", err)
	}
}

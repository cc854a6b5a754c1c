package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"toolfab/internal/fault"
	"toolfab/internal/logging"
)

// ReplayOptions parameterize one replay.
type ReplayOptions struct {
	// RunRef locates the source run: an exact report path, an exact run
	// id, or an id substring resolved to the most recent match.
	RunRef string

	DryRun          bool
	IncludeFailures bool
}

// ReplayStep is one re-executed attempt from the source run.
type ReplayStep struct {
	Backend    string         `json:"backend"`
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params,omitempty"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Preview    string         `json:"preview,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// ReplayReport is the persisted outcome of one replay.
type ReplayReport struct {
	ID          string       `json:"id"`
	SourceRunID string       `json:"source_run_id"`
	StartedAt   time.Time    `json:"started_at"`
	Steps       []ReplayStep `json:"steps"`
	OK          bool         `json:"ok"`
	DurationMs  int64        `json:"duration_ms"`
	DryRun      bool         `json:"dry_run,omitempty"`
}

// Replay re-executes a prior run's recorded attempts in their original
// order, continuing past per-step failures. With DryRun it only lists
// the steps that would execute.
func (e *Engine) Replay(ctx context.Context, opts ReplayOptions) (*ReplayReport, error) {
	source, err := e.LoadRun(opts.RunRef)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report := &ReplayReport{
		ID:          newReportID("replay"),
		SourceRunID: source.ID,
		StartedAt:   start.UTC(),
	}

	steps := replayableSteps(source, opts.IncludeFailures)
	if opts.DryRun {
		report.DryRun = true
		report.OK = true
		report.Steps = steps
		report.DurationMs = time.Since(start).Milliseconds()
		return report, nil
	}

	report.OK = true
	for _, step := range steps {
		stepStart := time.Now()
		result, err := e.runtime.CallRouted(ctx, step.Backend, step.Tool, step.Params,
			map[string]any{"replay_of": source.ID})
		step.DurationMs = time.Since(stepStart).Milliseconds()
		if err != nil {
			step.Status = AttemptError
			step.Error = err.Error()
			report.OK = false
		} else {
			step.Status = AttemptOK
			step.Preview = logging.Preview(previewOf(result))
		}
		report.Steps = append(report.Steps, step)
	}

	report.DurationMs = time.Since(start).Milliseconds()
	return report, e.persist(report.ID, report)
}

// replayableSteps filters the source attempts to the executable set.
// Skipped attempts never replay; failed ones only on request.
func replayableSteps(source *RunRecord, includeFailures bool) []ReplayStep {
	var steps []ReplayStep
	for _, att := range source.Attempts {
		if att.Status == AttemptSkipped {
			continue
		}
		if att.Status != AttemptOK && !includeFailures {
			continue
		}
		steps = append(steps, ReplayStep{
			Backend: att.Backend,
			Tool:    att.Tool,
			Params:  att.Params,
		})
	}
	return steps
}

// LoadRun resolves a run reference to its persisted record.
func (e *Engine) LoadRun(ref string) (*RunRecord, error) {
	if ref == "" {
		return nil, fault.New(fault.RunNotFound, "empty run reference")
	}

	// Exact report path first.
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return readRun(ref)
	}

	dir := e.cfg.RunsDir()
	exact := filepath.Join(dir, ref+".json")
	if _, err := os.Stat(exact); err == nil {
		return readRun(exact)
	}

	// Most recent id-substring match.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fault.New(fault.RunNotFound, "no run matching %q", ref)
	}
	var matches []os.DirEntry
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if strings.Contains(strings.TrimSuffix(entry.Name(), ".json"), ref) {
			matches = append(matches, entry)
		}
	}
	if len(matches) == 0 {
		return nil, fault.New(fault.RunNotFound, "no run matching %q", ref)
	}
	sort.Slice(matches, func(i, j int) bool {
		ii, ierr := matches[i].Info()
		ji, jerr := matches[j].Info()
		if ierr != nil || jerr != nil {
			return matches[i].Name() > matches[j].Name()
		}
		return ii.ModTime().After(ji.ModTime())
	})
	return readRun(filepath.Join(dir, matches[0].Name()))
}

func readRun(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.RunNotFound, err, "failed to read run report %s", path)
	}
	rec := &RunRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fault.Wrap(fault.RunNotFound, err, "corrupt run report %s", path)
	}
	return rec, nil
}

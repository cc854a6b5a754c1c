package router

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"toolfab/internal/breaker"
	"toolfab/internal/config"
	"toolfab/internal/logging"
	"toolfab/internal/metrics"
)

func testRules() *Rules {
	return &Rules{Rules: []Rule{
		{
			Name:     "file-read",
			Backend:  "files",
			Tool:     "read_file",
			Keywords: []string{"read", "file", "open"},
		},
		{
			Name:     "web-fetch",
			Backend:  "web",
			Tool:     "http_get",
			Keywords: []string{"fetch", "url", "download"},
		},
		{
			Name:     "db-query",
			Backend:  "sqlite",
			Tool:     "sql_query",
			Keywords: []string{"query", "sql", "select", "database"},
			Disabled: true,
		},
	}}
}

func TestMatchConfidence(t *testing.T) {
	rules := testRules()

	matches := rules.Match("please READ the config File")
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	m := matches[0]
	if m.RuleName != "file-read" {
		t.Errorf("rule = %q, want file-read", m.RuleName)
	}
	// 2 hits against 3 keywords: 2 / 1.5, capped at 1.
	if m.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", m.Confidence)
	}
	if len(m.Matched) != 2 {
		t.Errorf("matched = %v, want 2 keywords", m.Matched)
	}
}

func TestMatchPartialConfidence(t *testing.T) {
	rules := testRules()

	matches := rules.Match("fetch the report")
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	// 1 hit against 3 keywords: 1 / 1.5.
	want := 1.0 / 1.5
	if got := matches[0].Confidence; got != want {
		t.Errorf("confidence = %v, want %v", got, want)
	}
}

func TestMatchSkipsDisabledRules(t *testing.T) {
	rules := testRules()

	if matches := rules.Match("run a sql query against the database"); len(matches) != 0 {
		t.Errorf("disabled rule matched: %+v", matches)
	}
}

func TestRouteFallback(t *testing.T) {
	rules := testRules()

	c := rules.Route("completely unrelated request")
	if c.Backend != FallbackBackend || c.Tool != FallbackTool {
		t.Fatalf("fallback = %s/%s, want %s/%s", c.Backend, c.Tool, FallbackBackend, FallbackTool)
	}
	if c.Confidence != FallbackConfidence {
		t.Errorf("confidence = %v, want %v", c.Confidence, FallbackConfidence)
	}
	if c.DefaultParams["text"] != "completely unrelated request" {
		t.Errorf("fallback did not bind the request text: %v", c.DefaultParams)
	}
}

func TestRouteTieBreaksByDocumentOrder(t *testing.T) {
	rules := &Rules{Rules: []Rule{
		{Name: "first", Backend: "a", Tool: "x", Keywords: []string{"alpha", "beta"}},
		{Name: "second", Backend: "b", Tool: "y", Keywords: []string{"alpha", "gamma"}},
	}}

	if c := rules.Route("alpha"); c.RuleName != "first" {
		t.Errorf("rule = %q, want first on equal confidence", c.RuleName)
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	doc := `rules:
  - name: file-read
    backend: files
    tool: read_file
    keywords: [read, file]
    default_params:
      encoding: utf-8
    workflow_hints:
      - follow up with write_file to persist edits
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules.Rules) != 1 {
		t.Fatalf("rules = %d, want 1", len(rules.Rules))
	}
	r := rules.Rules[0]
	if r.Backend != "files" || r.Tool != "read_file" {
		t.Errorf("rule target = %s/%s", r.Backend, r.Tool)
	}
	if r.DefaultParams["encoding"] != "utf-8" {
		t.Errorf("default_params = %v", r.DefaultParams)
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	if _, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing rules file")
	}
}

func rankerConfig() *config.Config {
	return &config.Config{Backends: map[string]config.Backend{
		"files":  {Name: "files", Enabled: true},
		"web":    {Name: "web", Enabled: true},
		"sqlite": {Name: "sqlite", Enabled: false},
	}}
}

func historyReport(t *testing.T) *metrics.Report {
	t.Helper()
	now := time.Now().UTC()
	var records []logging.CallRecord
	// files/read_file: reliable and fast.
	for i := 0; i < 40; i++ {
		records = append(records, logging.CallRecord{
			Timestamp: now, Backend: "files", Tool: "read_file",
			Status: logging.StatusOK, DurationMs: 40, Mode: logging.ModeLocal,
		})
	}
	// web/http_get: mostly failing and slow.
	for i := 0; i < 40; i++ {
		status := logging.StatusError
		if i%8 == 0 {
			status = logging.StatusOK
		}
		records = append(records, logging.CallRecord{
			Timestamp: now, Backend: "web", Tool: "http_get",
			Status: status, DurationMs: 4200, Mode: logging.ModeProtocolHTTP,
		})
	}
	return metrics.Aggregate(records, 7)
}

func TestRankFallbackAlwaysPresent(t *testing.T) {
	rk := NewRanker(rankerConfig(), testRules(), nil, nil)

	ranked := rk.Rank("nothing matches here")
	if len(ranked) != 1 {
		t.Fatalf("ranked = %d, want exactly the fallback", len(ranked))
	}
	if ranked[0].Backend != FallbackBackend || ranked[0].Tool != FallbackTool {
		t.Errorf("candidate = %s/%s, want fallback", ranked[0].Backend, ranked[0].Tool)
	}
	if ranked[0].Score <= 0 {
		t.Errorf("fallback score = %v, want positive", ranked[0].Score)
	}
}

func TestRankReliabilityDemotesFlakyBackend(t *testing.T) {
	rk := NewRanker(rankerConfig(), testRules(), historyReport(t), nil)

	ranked := rk.Rank("read the file or fetch the url")
	if len(ranked) < 2 {
		t.Fatalf("ranked = %d, want at least 2", len(ranked))
	}
	if ranked[0].Key() != "files/read_file" {
		t.Fatalf("top candidate = %s, want files/read_file", ranked[0].Key())
	}
	var web *RankedCandidate
	for i := range ranked {
		if ranked[i].Key() == "web/http_get" {
			web = &ranked[i]
		}
	}
	if web == nil {
		t.Fatal("web/http_get missing from ranked set")
	}
	if web.Breakdown.Reliability >= ranked[0].Breakdown.Reliability {
		t.Errorf("flaky reliability %v not below healthy %v",
			web.Breakdown.Reliability, ranked[0].Breakdown.Reliability)
	}
	if web.Breakdown.Latency >= ranked[0].Breakdown.Latency {
		t.Errorf("slow latency term %v not below fast %v",
			web.Breakdown.Latency, ranked[0].Breakdown.Latency)
	}
}

func TestRankSubMillisecondHistoryScoresFullLatency(t *testing.T) {
	now := time.Now().UTC()
	var records []logging.CallRecord
	for i := 0; i < 10; i++ {
		records = append(records, logging.CallRecord{
			Timestamp: now, Backend: "files", Tool: "read_file",
			Status: logging.StatusOK, DurationMs: 0, Mode: logging.ModeLocal,
		})
	}
	rk := NewRanker(rankerConfig(), testRules(), metrics.Aggregate(records, 7), nil)

	ranked := rk.Rank("read the file")
	var files *RankedCandidate
	for i := range ranked {
		if ranked[i].Key() == "files/read_file" {
			files = &ranked[i]
		}
	}
	if files == nil {
		t.Fatal("files/read_file missing from ranked set")
	}
	// Observed 0ms history must not fall back to the unseen-key default.
	if files.Breakdown.Latency != 1 {
		t.Errorf("latency term = %v, want 1 for 0ms observed history", files.Breakdown.Latency)
	}
}

func TestRankBreakerPenalty(t *testing.T) {
	store := breaker.New(filepath.Join(t.TempDir(), "breaker.json"), 1, time.Hour)
	if err := store.RecordFailure(breaker.Key("files", "read_file"), "boom"); err != nil {
		t.Fatal(err)
	}

	rk := NewRanker(rankerConfig(), testRules(), nil, store)
	ranked := rk.Rank("read the file")

	var files *RankedCandidate
	for i := range ranked {
		if ranked[i].Key() == "files/read_file" {
			files = &ranked[i]
		}
	}
	if files == nil {
		t.Fatal("files/read_file missing from ranked set")
	}
	if !files.BreakerOpen {
		t.Error("BreakerOpen not flagged")
	}
	if files.Breakdown.Penalty != breakerPenalty {
		t.Errorf("penalty = %v, want %v", files.Breakdown.Penalty, breakerPenalty)
	}
	// The tripped primary falls below the untouched fallback.
	if ranked[0].Key() != FallbackBackend+"/"+FallbackTool {
		t.Errorf("top candidate = %s, want fallback ahead of tripped route", ranked[0].Key())
	}
}

func TestRankDisabledBackendPenalty(t *testing.T) {
	rules := &Rules{Rules: []Rule{
		{Name: "db-query", Backend: "sqlite", Tool: "sql_query", Keywords: []string{"query"}},
	}}
	rk := NewRanker(rankerConfig(), rules, nil, nil)

	ranked := rk.Rank("query the ledger")
	var db *RankedCandidate
	for i := range ranked {
		if ranked[i].Key() == "sqlite/sql_query" {
			db = &ranked[i]
		}
	}
	if db == nil {
		t.Fatal("sqlite/sql_query missing from ranked set")
	}
	if db.Breakdown.Penalty != disabledPenalty {
		t.Errorf("penalty = %v, want %v", db.Breakdown.Penalty, disabledPenalty)
	}
	if db.Score >= 0 {
		t.Errorf("score = %v, want negative for disabled backend", db.Score)
	}
}

func TestRankTopK(t *testing.T) {
	rules := &Rules{Rules: []Rule{
		{Name: "r1", Backend: "files", Tool: "read_file", Keywords: []string{"go"}},
		{Name: "r2", Backend: "files", Tool: "list_dir", Keywords: []string{"go"}},
		{Name: "r3", Backend: "web", Tool: "http_get", Keywords: []string{"go"}},
		{Name: "r4", Backend: "files", Tool: "write_file", Keywords: []string{"go"}},
	}}
	rk := NewRanker(rankerConfig(), rules, nil, nil)

	if got := len(rk.Rank("go")); got != DefaultTopK {
		t.Errorf("ranked = %d, want %d", got, DefaultTopK)
	}

	rk.SetTopK(2)
	if got := len(rk.Rank("go")); got != 2 {
		t.Errorf("ranked = %d, want 2 after SetTopK", got)
	}
}

func TestRankStableOrderOnEqualScore(t *testing.T) {
	rules := &Rules{Rules: []Rule{
		{Name: "zeta", Backend: "files", Tool: "read_file", Keywords: []string{"go"}},
		{Name: "alpha", Backend: "files", Tool: "list_dir", Keywords: []string{"go"}},
	}}
	rk := NewRanker(rankerConfig(), rules, nil, nil)

	ranked := rk.Rank("go")
	if len(ranked) < 2 {
		t.Fatalf("ranked = %d, want at least 2", len(ranked))
	}
	if ranked[0].Score == ranked[1].Score && ranked[0].RuleName > ranked[1].RuleName {
		t.Errorf("equal scores not ordered by rule name: %q before %q",
			ranked[0].RuleName, ranked[1].RuleName)
	}
}

func TestRankDeduplicatesByKey(t *testing.T) {
	rules := &Rules{Rules: []Rule{
		{Name: "narrow", Backend: "files", Tool: "read_file", Keywords: []string{"read"}},
		{Name: "broad", Backend: "files", Tool: "read_file", Keywords: []string{"read", "file", "open", "load"}},
	}}
	rk := NewRanker(rankerConfig(), rules, nil, nil)

	ranked := rk.Rank("read")
	seen := 0
	for _, c := range ranked {
		if c.Key() == "files/read_file" {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("files/read_file ranked %d times, want 1", seen)
	}
}

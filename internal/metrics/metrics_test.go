package metrics

import (
	"fmt"
	"testing"
	"time"

	"toolfab/internal/logging"
)

func rec(backend, tool string, daysAgo int, durMs int64, errText string) logging.CallRecord {
	r := logging.CallRecord{
		Backend:    backend,
		Tool:       tool,
		Timestamp:  time.Now().UTC().AddDate(0, 0, -daysAgo),
		DurationMs: durMs,
		Status:     logging.StatusOK,
	}
	if errText != "" {
		r.Status = logging.StatusError
		r.Error = &errText
	}
	return r
}

func TestP95NearestRank(t *testing.T) {
	// 20 records with durations 100..2000; nearest-rank p95 of n=20 is
	// rank ceil(0.95*20)=19, i.e. the 19th smallest = 1900.
	var records []logging.CallRecord
	for i := 1; i <= 20; i++ {
		records = append(records, rec("b", "t", 0, int64(i*100), ""))
	}

	report := Aggregate(records, 14)
	if report.Global.P95Ms != 1900 {
		t.Errorf("p95 = %d, want 1900", report.Global.P95Ms)
	}

	tests := []struct {
		durations []int64
		want      int64
	}{
		{[]int64{50}, 50},
		{[]int64{10, 20}, 20},
		{[]int64{3, 1, 2}, 3},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := percentile(tt.durations, 95); got != tt.want {
			t.Errorf("percentile(%v) = %d, want %d", tt.durations, got, tt.want)
		}
	}
}

func TestKeyRankingWorstFirst(t *testing.T) {
	var records []logging.CallRecord
	// flaky: 3 failures. slow: 0 failures, huge p95. busy: 0 failures,
	// low p95, high volume. quiet: 0 failures, low volume.
	for i := 0; i < 3; i++ {
		records = append(records, rec("flaky", "t", 0, 100, "PROTOCOL_EOF: gone"))
	}
	records = append(records, rec("slow", "t", 0, 9000, ""))
	for i := 0; i < 5; i++ {
		records = append(records, rec("busy", "t", 0, 50, ""))
	}
	records = append(records, rec("quiet", "t", 0, 50, ""))

	report := Aggregate(records, 14)
	order := make([]string, len(report.Keys))
	for i, k := range report.Keys {
		order[i] = k.Backend
	}
	want := []string{"flaky", "slow", "busy", "quiet"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestErrorClassHistogram(t *testing.T) {
	records := []logging.CallRecord{
		rec("b", "t", 0, 10, "PROTOCOL_TIMEOUT: tools/call did not answer in time"),
		rec("b", "t", 0, 10, "PROTOCOL_TIMEOUT: initialize did not answer in time"),
		rec("b", "t", 0, 10, "PATH_FORBIDDEN: path escapes root"),
		rec("b", "t", 0, 10, "no colon in this one"),
	}

	report := Aggregate(records, 14)
	top := report.Global.TopErrors
	if len(top) != 3 {
		t.Fatalf("top = %+v", top)
	}
	if top[0].Class != "PROTOCOL_TIMEOUT" || top[0].Count != 2 {
		t.Errorf("top[0] = %+v", top[0])
	}
}

func TestTopErrorsCapsAtFive(t *testing.T) {
	var records []logging.CallRecord
	for i := 0; i < 7; i++ {
		records = append(records, rec("b", "t", 0, 10, fmt.Sprintf("CLASS_%d: boom", i)))
	}
	report := Aggregate(records, 14)
	if len(report.Global.TopErrors) != 5 {
		t.Errorf("top errors = %d, want 5", len(report.Global.TopErrors))
	}
}

func TestHeatmapAndSlowest(t *testing.T) {
	records := []logging.CallRecord{
		rec("a", "x", 0, 10, "boom: 1"),
		rec("a", "x", 0, 20, "boom: 2"),
		rec("a", "y", 0, 30, "boom: 3"),
		rec("b", "x", 0, 999, ""),
	}

	report := Aggregate(records, 14)
	if report.Heatmap["a"]["x"] != 2 || report.Heatmap["a"]["y"] != 1 {
		t.Errorf("heatmap = %v", report.Heatmap)
	}
	if _, ok := report.Heatmap["b"]; ok {
		t.Error("successful backend must not appear in the failure heatmap")
	}
	if report.Slowest[0].DurationMs != 999 {
		t.Errorf("slowest = %+v", report.Slowest[0])
	}

	// Slowest list caps at 10.
	for i := 0; i < 20; i++ {
		records = append(records, rec("c", "z", 0, int64(i), ""))
	}
	if got := len(Aggregate(records, 14).Slowest); got != 10 {
		t.Errorf("slowest len = %d, want 10", got)
	}
}

func TestDayGroupingAndKeyLookup(t *testing.T) {
	records := []logging.CallRecord{
		rec("b", "t", 0, 10, ""),
		rec("b", "t", 1, 20, ""),
		rec("b", "t", 1, 30, "boom: x"),
	}

	report := Aggregate(records, 14)
	if len(report.Days) != 2 {
		t.Fatalf("days = %d, want 2", len(report.Days))
	}
	if report.Days[0].Date >= report.Days[1].Date {
		t.Error("days must be sorted ascending")
	}

	ks, ok := report.Key("b", "t")
	if !ok {
		t.Fatal("key lookup failed")
	}
	if ks.Total != 3 || ks.Success != 2 || ks.Failed != 1 {
		t.Errorf("key stats = %+v", ks)
	}
	if _, ok := report.Key("nope", "t"); ok {
		t.Error("unknown key must miss")
	}
}

// Package metrics turns the audit log into reliability and latency
// statistics. The per-key stats feed the candidate ranker; the rest is
// operator reporting.
package metrics

import (
	"math"
	"sort"
	"strings"
	"time"

	"toolfab/internal/breaker"
	"toolfab/internal/logging"
)

// DefaultWindowDays is the trailing window consumed from the audit log.
const DefaultWindowDays = 14

// Stats are the shared per-group metrics.
type Stats struct {
	Total       int          `json:"total"`
	Success     int          `json:"success"`
	Failed      int          `json:"failed"`
	SuccessRate float64      `json:"success_rate"`
	AvgMs       float64      `json:"avg_ms"`
	P95Ms       int64        `json:"p95_ms"`
	TopErrors   []ErrorCount `json:"top_errors,omitempty"`
}

// ErrorCount is one normalized error class and its frequency.
type ErrorCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// DayStats groups by calendar day (UTC).
type DayStats struct {
	Date string `json:"date"`
	Stats
}

// KeyStats groups by (backend, tool).
type KeyStats struct {
	Backend string `json:"backend"`
	Tool    string `json:"tool"`
	Stats
}

// Report is the full aggregation over the window.
type Report struct {
	WindowDays int                       `json:"window_days"`
	Since      time.Time                 `json:"since"`
	Global     Stats                     `json:"global"`
	Days       []DayStats                `json:"days"`
	Keys       []KeyStats                `json:"keys"`
	Heatmap    map[string]map[string]int `json:"failure_heatmap"`
	Slowest    []logging.CallRecord      `json:"slowest"`

	byKey map[string]KeyStats
}

// Aggregate computes a report over the records. The caller is expected to
// have windowed the records already (AuditLogger.ReadSince); windowDays is
// recorded for display.
func Aggregate(records []logging.CallRecord, windowDays int) *Report {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	report := &Report{
		WindowDays: windowDays,
		Since:      time.Now().UTC().AddDate(0, 0, -windowDays),
		Heatmap:    map[string]map[string]int{},
		byKey:      map[string]KeyStats{},
	}

	byDay := map[string][]logging.CallRecord{}
	byKey := map[string][]logging.CallRecord{}
	for _, rec := range records {
		day := rec.Timestamp.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], rec)
		key := breaker.Key(rec.Backend, rec.Tool)
		byKey[key] = append(byKey[key], rec)

		if rec.Failed() {
			if report.Heatmap[rec.Backend] == nil {
				report.Heatmap[rec.Backend] = map[string]int{}
			}
			report.Heatmap[rec.Backend][rec.Tool]++
		}
	}

	report.Global = computeStats(records)

	for day, recs := range byDay {
		report.Days = append(report.Days, DayStats{Date: day, Stats: computeStats(recs)})
	}
	sort.Slice(report.Days, func(i, j int) bool { return report.Days[i].Date < report.Days[j].Date })

	for key, recs := range byKey {
		backend, tool, _ := strings.Cut(key, "/")
		ks := KeyStats{Backend: backend, Tool: tool, Stats: computeStats(recs)}
		report.Keys = append(report.Keys, ks)
		report.byKey[key] = ks
	}
	// Worst first: failures desc, then p95 desc, then volume desc.
	sort.Slice(report.Keys, func(i, j int) bool {
		a, b := report.Keys[i], report.Keys[j]
		if a.Failed != b.Failed {
			return a.Failed > b.Failed
		}
		if a.P95Ms != b.P95Ms {
			return a.P95Ms > b.P95Ms
		}
		return a.Total > b.Total
	})

	report.Slowest = slowestCalls(records, 10)
	return report
}

// Key looks up the stats for one backend/tool pair.
func (r *Report) Key(backend, tool string) (KeyStats, bool) {
	ks, ok := r.byKey[breaker.Key(backend, tool)]
	return ks, ok
}

// computeStats derives the shared metrics for one record group.
func computeStats(records []logging.CallRecord) Stats {
	s := Stats{Total: len(records)}
	if s.Total == 0 {
		return s
	}

	durations := make([]int64, 0, len(records))
	errClasses := map[string]int{}
	var sum int64
	for _, rec := range records {
		durations = append(durations, rec.DurationMs)
		sum += rec.DurationMs
		if rec.Failed() {
			s.Failed++
			if rec.Error != nil {
				errClasses[errorClass(*rec.Error)]++
			}
		} else {
			s.Success++
		}
	}

	s.SuccessRate = float64(s.Success) / float64(s.Total)
	s.AvgMs = float64(sum) / float64(s.Total)
	s.P95Ms = percentile(durations, 95)
	s.TopErrors = topErrors(errClasses, 5)
	return s
}

// percentile returns the nearest-rank percentile of the durations.
func percentile(durations []int64, p int) int64 {
	if len(durations) == 0 {
		return 0
	}
	sorted := make([]int64, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(math.Ceil(float64(p) / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// errorClass normalizes raw error text to the substring preceding the
// first colon.
func errorClass(errText string) string {
	class, _, found := strings.Cut(errText, ":")
	if !found {
		class = errText
	}
	class = strings.TrimSpace(class)
	if class == "" {
		class = "unknown"
	}
	return class
}

// topErrors returns the n most frequent classes, count desc then name asc
// for a stable order.
func topErrors(classes map[string]int, n int) []ErrorCount {
	out := make([]ErrorCount, 0, len(classes))
	for class, count := range classes {
		out = append(out, ErrorCount{Class: class, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Class < out[j].Class
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// slowestCalls returns the n slowest records, slowest first.
func slowestCalls(records []logging.CallRecord, n int) []logging.CallRecord {
	sorted := make([]logging.CallRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DurationMs > sorted[j].DurationMs })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

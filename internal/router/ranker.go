package router

import (
	"sort"

	"toolfab/internal/breaker"
	"toolfab/internal/config"
	"toolfab/internal/metrics"
)

const (
	// DefaultTopK is how many ranked candidates a route returns.
	DefaultTopK = 3

	reliabilityPrior   = 20.0
	defaultReliability = 0.5
	defaultP95Ms       = 1800.0
	maxP95Ms           = 5000.0
	defaultCost        = 0.6

	hitBonusPerMatch = 0.08
	hitBonusCap      = 0.16
	breakerPenalty   = 0.8
	disabledPenalty  = 1.0
)

// costTable scores backends by how cheap they are to call. Higher is
// cheaper. Backends absent from the table score defaultCost unless the
// registry declares an explicit cost_score.
var costTable = map[string]float64{
	"local":  0.95,
	"files":  0.90,
	"sqlite": 0.90,
	"search": 0.70,
	"web":    0.60,
	"llm":    0.50,
}

// Breakdown exposes the weighted terms behind a candidate's score so
// route output can explain itself.
type Breakdown struct {
	Confidence  float64 `json:"confidence"`
	Reliability float64 `json:"reliability"`
	Latency     float64 `json:"latency"`
	Cost        float64 `json:"cost"`
	HitBonus    float64 `json:"hit_bonus"`
	Penalty     float64 `json:"penalty"`
}

// RankedCandidate is a candidate with its fused score and the signals
// that produced it.
type RankedCandidate struct {
	Candidate
	Score       float64           `json:"score"`
	Breakdown   Breakdown         `json:"breakdown"`
	Stats       *metrics.KeyStats `json:"stats,omitempty"`
	BreakerOpen bool              `json:"breaker_open"`
}

// Ranker fuses rule matches with call history and breaker state.
type Ranker struct {
	cfg     *config.Config
	rules   *Rules
	report  *metrics.Report
	breaker *breaker.Store
	topK    int
}

// NewRanker builds a ranker. report may be nil when no audit history
// exists; breaker may be nil when breaker state is unavailable.
func NewRanker(cfg *config.Config, rules *Rules, report *metrics.Report, store *breaker.Store) *Ranker {
	return &Ranker{cfg: cfg, rules: rules, report: report, breaker: store, topK: DefaultTopK}
}

// SetTopK overrides how many candidates Rank returns. Values below 1
// are ignored.
func (rk *Ranker) SetTopK(k int) {
	if k >= 1 {
		rk.topK = k
	}
}

// Rank scores every matching candidate plus the fallback and returns
// the top K by score. The result is never empty.
func (rk *Ranker) Rank(text string) []RankedCandidate {
	var candidates []Candidate
	for _, c := range rk.rules.Match(text) {
		candidates = appendUnique(candidates, c)
	}
	candidates = appendUnique(candidates, Fallback(text))

	ranked := make([]RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, rk.score(c))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].RuleName < ranked[j].RuleName
	})
	if len(ranked) > rk.topK {
		ranked = ranked[:rk.topK]
	}
	return ranked
}

func (rk *Ranker) score(c Candidate) RankedCandidate {
	out := RankedCandidate{Candidate: c}

	reliability := defaultReliability
	p95 := defaultP95Ms
	if rk.report != nil {
		if stats, ok := rk.report.Key(c.Backend, c.Tool); ok {
			out.Stats = &stats
			reliability = (float64(stats.Success) + 0.5*reliabilityPrior) /
				(float64(stats.Total) + reliabilityPrior)
			// Observed history wins even at 0ms; the default is for
			// keys with no history at all.
			p95 = float64(stats.P95Ms)
		}
	}
	if p95 > maxP95Ms {
		p95 = maxP95Ms
	}
	latency := 1 - p95/maxP95Ms

	var penalty float64
	if rk.breaker != nil && rk.breaker.IsOpen(breaker.Key(c.Backend, c.Tool)) {
		out.BreakerOpen = true
		penalty += breakerPenalty
	}
	out.Enabled = rk.enabled(c.Backend)
	if !out.Enabled {
		penalty += disabledPenalty
	}

	hitBonus := hitBonusPerMatch * float64(len(c.Matched))
	if hitBonus > hitBonusCap {
		hitBonus = hitBonusCap
	}

	out.Breakdown = Breakdown{
		Confidence:  c.Confidence,
		Reliability: reliability,
		Latency:     latency,
		Cost:        rk.cost(c.Backend),
		HitBonus:    hitBonus,
		Penalty:     penalty,
	}
	b := out.Breakdown
	out.Score = 0.45*b.Confidence + 0.30*b.Reliability + 0.15*b.Latency + 0.10*b.Cost + b.HitBonus - b.Penalty
	return out
}

func (rk *Ranker) cost(backend string) float64 {
	if rk.cfg != nil {
		if b, err := rk.cfg.Backend(backend, false); err == nil && b.CostScore > 0 {
			return b.CostScore
		}
	}
	if c, ok := costTable[backend]; ok {
		return c
	}
	return defaultCost
}

func (rk *Ranker) enabled(backend string) bool {
	if backend == FallbackBackend {
		return true
	}
	if rk.cfg == nil {
		return true
	}
	return rk.cfg.Enabled(backend)
}

// appendUnique adds c unless its backend/tool pairing is already
// present; on collision the higher-confidence candidate wins.
func appendUnique(list []Candidate, c Candidate) []Candidate {
	for i, existing := range list {
		if existing.Key() == c.Key() {
			if c.Confidence > existing.Confidence {
				list[i] = c
			}
			return list
		}
	}
	return append(list, c)
}

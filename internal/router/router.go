// Package router maps free-text requests to ranked (backend, tool)
// candidates. Matching is keyword-rule based; ranking fuses rule
// confidence with observed reliability, latency, cost and breaker state.
package router

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FallbackBackend is the backend name of the guaranteed fallback route.
// The runtime synthesizes it when the registry does not define it, so
// routing never yields an empty candidate set.
const FallbackBackend = "local"

// FallbackTool is the decomposition stub behind the fallback route.
const FallbackTool = "think"

// FallbackConfidence is the fixed confidence of the fallback candidate.
const FallbackConfidence = 0.2

// Rule is one keyword routing rule.
type Rule struct {
	Name          string         `yaml:"name"`
	Backend       string         `yaml:"backend"`
	Tool          string         `yaml:"tool"`
	Keywords      []string       `yaml:"keywords"`
	DefaultParams map[string]any `yaml:"default_params"`
	WorkflowHints []string       `yaml:"workflow_hints"`
	Disabled      bool           `yaml:"disabled"`
}

// Rules is the loaded rule set, in document order.
type Rules struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads the route-rules document.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route rules: %w", err)
	}
	rules := &Rules{}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("failed to parse route rules: %w", err)
	}
	return rules, nil
}

// Candidate is one (backend, tool) pairing considered for a request.
type Candidate struct {
	RuleName      string         `json:"rule"`
	Backend       string         `json:"backend"`
	Tool          string         `json:"tool"`
	Confidence    float64        `json:"confidence"`
	Matched       []string       `json:"matched_keywords,omitempty"`
	DefaultParams map[string]any `json:"default_params,omitempty"`
	Enabled       bool           `json:"enabled"`
}

// Key identifies the candidate's backend/tool pairing.
func (c Candidate) Key() string { return c.Backend + "/" + c.Tool }

// Fallback returns the guaranteed fallback candidate, with the request
// text pre-bound so the decomposition stub always has its input.
func Fallback(text string) Candidate {
	return Candidate{
		RuleName:      "fallback/think",
		Backend:       FallbackBackend,
		Tool:          FallbackTool,
		Confidence:    FallbackConfidence,
		DefaultParams: map[string]any{"text": text},
		Enabled:       true,
	}
}

// Match returns every non-disabled rule that hits the text, in document
// order. Confidence is min(1, hits / (keywords * 0.5)).
func (r *Rules) Match(text string) []Candidate {
	lower := strings.ToLower(text)

	var out []Candidate
	for _, rule := range r.Rules {
		if rule.Disabled || len(rule.Keywords) == 0 {
			continue
		}

		var matched []string
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}

		confidence := float64(len(matched)) / (float64(len(rule.Keywords)) * 0.5)
		if confidence > 1 {
			confidence = 1
		}
		out = append(out, Candidate{
			RuleName:      rule.Name,
			Backend:       rule.Backend,
			Tool:          rule.Tool,
			Confidence:    confidence,
			Matched:       matched,
			DefaultParams: rule.DefaultParams,
			Enabled:       true,
		})
	}
	return out
}

// Route returns the primary candidate for the text: the matching rule
// with the highest confidence, or the fallback when nothing matches.
// Document order breaks confidence ties.
func (r *Rules) Route(text string) Candidate {
	matches := r.Match(text)
	if len(matches) == 0 {
		return Fallback(text)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches[0]
}

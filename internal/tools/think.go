package tools

import (
	"context"
	"strings"

	"toolfab/internal/policy"
)

// think is the text-decomposition stub behind the guaranteed fallback
// route. It splits a request into candidate steps on sentence boundaries
// and common conjunctions. Deterministic on purpose: the fabric treats
// intelligence as an opaque backend concern.
func (s *Set) think(_ context.Context, args map[string]any) (map[string]any, error) {
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	if err := policy.CheckCommand(text, s.security.BlockedCommands); err != nil {
		return nil, err
	}

	return asMap(ThinkResult{Input: text, Steps: decompose(text)})
}

// decompose splits on sentence terminators and step conjunctions, keeping
// non-empty trimmed fragments in order.
func decompose(text string) []string {
	fragments := []string{text}
	for _, sep := range []string{". ", "; ", " then "} {
		var next []string
		for _, f := range fragments {
			next = append(next, strings.Split(f, sep)...)
		}
		fragments = next
	}

	steps := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.Trim(strings.TrimSpace(f), ".;,")
		if f != "" {
			steps = append(steps, f)
		}
	}
	if len(steps) == 0 {
		steps = []string{strings.TrimSpace(text)}
	}
	return steps
}

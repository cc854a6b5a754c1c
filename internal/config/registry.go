package config

import (
	"sort"

	"toolfab/internal/fault"
)

// ListBackends returns backends sorted by name. With enabledOnly set,
// disabled backends are filtered out.
func (c *Config) ListBackends(enabledOnly bool) []Backend {
	out := make([]Backend, 0, len(c.Backends))
	for _, b := range c.Backends {
		if enabledOnly && !b.Enabled {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Backend resolves a backend by name. With requireEnabled set, a disabled
// backend is an error.
func (c *Config) Backend(name string, requireEnabled bool) (Backend, error) {
	b, ok := c.Backends[name]
	if !ok {
		return Backend{}, fault.New(fault.BackendNotFound, "backend %q is not registered", name)
	}
	if requireEnabled && !b.Enabled {
		return Backend{}, fault.New(fault.BackendDisabled, "backend %q is disabled", name)
	}
	return b, nil
}

// Enabled reports whether a backend exists and is enabled.
func (c *Config) Enabled(name string) bool {
	b, ok := c.Backends[name]
	return ok && b.Enabled
}

package tools

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"toolfab/internal/config"
	"toolfab/internal/fault"
)

// Set is the registry of local adapters. Adapters are shared across
// backends; policy parameters come from the global security settings and
// the per-backend config passed to Execute.
type Set struct {
	security config.SecuritySettings
	client   *http.Client
	logger   *zap.Logger

	// searchEndpoint is swappable so tests can point web_search at a
	// fake server.
	searchEndpoint string
}

// NewSet builds the adapter set from global settings.
func NewSet(cfg *config.Config, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set{
		security:       cfg.Settings.Security,
		client:         &http.Client{Timeout: cfg.CallTimeout()},
		logger:         logger.Named("tools"),
		searchEndpoint: defaultSearchEndpoint,
	}
}

// handlers maps tool names to adapter implementations. Most adapters
// ignore the backend; http_get reads its domain allow-list from it.
func (s *Set) handlers() map[string]handler {
	ignoreBackend := func(fn func(context.Context, map[string]any) (map[string]any, error)) handler {
		return func(ctx context.Context, _ config.Backend, args map[string]any) (map[string]any, error) {
			return fn(ctx, args)
		}
	}
	return map[string]handler{
		ToolReadFile:   ignoreBackend(s.readFile),
		ToolWriteFile:  ignoreBackend(s.writeFile),
		ToolListDir:    ignoreBackend(s.listDir),
		ToolHTTPGet:    s.httpGet,
		ToolSQLQuery:   ignoreBackend(s.sqlQuery),
		ToolCodeSearch: ignoreBackend(s.codeSearch),
		ToolWebSearch:  ignoreBackend(s.webSearch),
		ToolThink:      ignoreBackend(s.think),
	}
}

// Has reports whether a local adapter exists for the tool.
func (s *Set) Has(tool string) bool {
	_, ok := s.handlers()[tool]
	return ok
}

// Names returns the adapter tool names, sorted.
func (s *Set) Names() []string {
	h := s.handlers()
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named adapter. Unknown tools fail with TOOL_NOT_FOUND.
func (s *Set) Execute(ctx context.Context, backend config.Backend, tool string, args map[string]any) (map[string]any, error) {
	h, ok := s.handlers()[tool]
	if !ok {
		return nil, fault.New(fault.ToolNotFound, "no local adapter for tool %q", tool)
	}

	start := time.Now()
	result, err := h(ctx, backend, args)
	s.logger.Debug("local adapter finished",
		zap.String("tool", tool),
		zap.Duration("took", time.Since(start)),
		zap.Bool("ok", err == nil))
	return result, err
}

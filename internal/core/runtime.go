// Package core hosts the Runtime, the single entry point every engine
// uses to execute one tool call. The Runtime resolves the backend, gates
// the call through policy, picks protocol or local execution, and writes
// exactly one audit record per call on every path.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolfab/internal/config"
	"toolfab/internal/fault"
	"toolfab/internal/logging"
	"toolfab/internal/mcp"
	"toolfab/internal/policy"
	"toolfab/internal/router"
	"toolfab/internal/tools"
)

// ProtocolExecutor is the wire-protocol side of a call.
type ProtocolExecutor interface {
	CallTool(ctx context.Context, backend config.Backend, tool string, args map[string]any) (json.RawMessage, error)
	ListTools(ctx context.Context, backend config.Backend) ([]mcp.ToolInfo, error)
}

// LocalAdapters is the in-process side of a call.
type LocalAdapters interface {
	Has(tool string) bool
	Names() []string
	Execute(ctx context.Context, backend config.Backend, tool string, args map[string]any) (map[string]any, error)
}

// Runtime composes the registry, policy gate, protocol executor and
// local adapters behind one Call method.
type Runtime struct {
	cfg      *config.Config
	protocol ProtocolExecutor
	local    LocalAdapters
	audit    *logging.AuditLogger
	logger   *zap.Logger
}

// NewRuntime wires a runtime from the loaded registry.
func NewRuntime(cfg *config.Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		cfg:      cfg,
		protocol: mcp.NewExecutor(cfg, logger),
		local:    tools.NewSet(cfg, logger),
		audit:    logging.NewAuditLogger(cfg.AuditLogPath()),
		logger:   logger.Named("runtime"),
	}
}

// Audit exposes the audit logger so the aggregator can read history back.
func (rt *Runtime) Audit() *logging.AuditLogger { return rt.audit }

// Call executes one tool call without route metadata.
func (rt *Runtime) Call(ctx context.Context, backend, tool string, params map[string]any) (map[string]any, error) {
	return rt.CallRouted(ctx, backend, tool, params, nil)
}

// CallRouted executes one tool call, recording route metadata in the
// audit trail. Exactly one CallRecord is written per invocation,
// whether the call succeeds, falls back or fails.
func (rt *Runtime) CallRouted(ctx context.Context, backendName, tool string, params map[string]any, route map[string]any) (result map[string]any, err error) {
	start := time.Now()
	mode := logging.ModeLocal
	rec := logging.CallRecord{
		TraceID:   uuid.NewString(),
		Timestamp: start.UTC(),
		Backend:   backendName,
		Tool:      tool,
		Params:    params,
		Route:     route,
	}
	defer func() {
		rec.DurationMs = time.Since(start).Milliseconds()
		rec.Mode = mode
		if err != nil {
			rec.Status = logging.StatusError
			msg := err.Error()
			rec.Error = &msg
		} else {
			rec.Status = logging.StatusOK
			rec.Preview = logging.Preview(previewOf(result))
		}
		if aerr := rt.audit.Append(rec); aerr != nil {
			rt.logger.Warn("failed to append audit record", zap.Error(aerr))
		}
	}()

	backend, err := rt.resolve(backendName)
	if err != nil {
		return nil, err
	}
	if err = rt.precheck(backend, params); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, rt.cfg.CallTimeout())
	defer cancel()

	if rt.cfg.ProtocolFirst() && hasTransport(backend) {
		mode = protocolMode(backend)
		raw, perr := rt.protocol.CallTool(ctx, backend, tool, params)
		if perr == nil {
			return decodeResult(raw), nil
		}
		if fault.IsTransport(perr) && rt.local.Has(tool) {
			rt.logger.Debug("falling back to local adapter",
				zap.String("backend", backend.Name),
				zap.String("tool", tool),
				zap.Error(perr))
			mode = logging.ModeLocal
			result, err = rt.local.Execute(ctx, backend, tool, params)
			if err == nil {
				if result == nil {
					result = map[string]any{}
				}
				result["fallback_reason"] = perr.Error()
			}
			return result, err
		}
		return nil, perr
	}

	if rt.local.Has(tool) {
		result, err = rt.local.Execute(ctx, backend, tool, params)
		return result, err
	}
	if hasTransport(backend) {
		mode = protocolMode(backend)
		raw, perr := rt.protocol.CallTool(ctx, backend, tool, params)
		if perr != nil {
			return nil, perr
		}
		return decodeResult(raw), nil
	}
	return nil, fault.New(fault.AdapterNotFound, "backend %q has no transport and no local adapter serves %q", backend.Name, tool)
}

// BackendTools is one backend's tool inventory, or a warning when the
// backend could not be probed.
type BackendTools struct {
	Backend string         `json:"backend"`
	Mode    string         `json:"mode"`
	Tools   []mcp.ToolInfo `json:"tools,omitempty"`
	Warning string         `json:"warning,omitempty"`
}

// ListTools inventories every enabled backend. A backend that cannot be
// probed degrades to a warning entry instead of failing the listing.
func (rt *Runtime) ListTools(ctx context.Context) []BackendTools {
	backends := rt.cfg.ListBackends(true)
	out := make([]BackendTools, 0, len(backends))
	for _, b := range backends {
		out = append(out, rt.listBackend(ctx, b))
	}
	return out
}

func (rt *Runtime) listBackend(ctx context.Context, b config.Backend) BackendTools {
	entry := BackendTools{Backend: b.Name, Mode: logging.ModeLocal}

	if rt.cfg.ProtocolFirst() && hasTransport(b) {
		ctx, cancel := context.WithTimeout(ctx, rt.cfg.CallTimeout())
		defer cancel()

		infos, err := rt.protocol.ListTools(ctx, b)
		if err == nil {
			entry.Mode = protocolMode(b)
			entry.Tools = infos
			return entry
		}
		entry.Warning = err.Error()
	}

	for _, name := range rt.local.Names() {
		entry.Tools = append(entry.Tools, mcp.ToolInfo{Name: name})
	}
	return entry
}

// resolve looks the backend up in the registry. The fallback route's
// backend is synthesized when the registry does not define it, so the
// guaranteed fallback candidate always executes.
func (rt *Runtime) resolve(name string) (config.Backend, error) {
	b, err := rt.cfg.Backend(name, true)
	if err == nil {
		return b, nil
	}
	if name == router.FallbackBackend && fault.IsCode(err, fault.BackendNotFound) {
		return config.Backend{Name: name, Enabled: true}, nil
	}
	return config.Backend{}, err
}

// precheck fails path and URL violations before any transport work.
// Adapters re-apply the full policy set before touching resources.
func (rt *Runtime) precheck(backend config.Backend, params map[string]any) error {
	if p, ok := params["path"].(string); ok {
		if err := policy.CheckPath(p, rt.cfg.Settings.Security.AllowedPaths); err != nil {
			return err
		}
	}
	if u, ok := params["url"].(string); ok {
		if err := policy.CheckURL(u, backend.AllowedDomains); err != nil {
			return err
		}
	}
	return nil
}

// hasTransport reports whether the backend is reachable over the wire.
func hasTransport(b config.Backend) bool {
	switch b.Transport {
	case config.TransportStdio:
		return b.Command != ""
	case config.TransportHTTP:
		return b.Endpoint != ""
	}
	return false
}

func protocolMode(b config.Backend) string {
	if b.Transport == config.TransportHTTP {
		return logging.ModeProtocolHTTP
	}
	return logging.ModeProtocolStdio
}

// decodeResult lifts a raw protocol result into a map. Non-object
// payloads are wrapped so callers always see a map-shaped result.
func decodeResult(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"result": string(raw)}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": v}
}

func previewOf(result map[string]any) string {
	if result == nil {
		return ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(data)
}

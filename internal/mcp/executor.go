package mcp

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"toolfab/internal/config"
	"toolfab/internal/fault"
)

// Executor dispatches protocol calls over the transport a backend is
// configured with. Stdio backends get a fresh session (and subprocess)
// per call; HTTP backends get a one-shot exchange.
type Executor struct {
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	logger           *zap.Logger
}

// NewExecutor builds an executor from the global settings.
func NewExecutor(cfg *config.Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		handshakeTimeout: cfg.ProtocolTimeout(),
		callTimeout:      cfg.CallTimeout(),
		logger:           logger,
	}
}

// CallTool executes one tool call against the backend's server.
func (e *Executor) CallTool(ctx context.Context, backend config.Backend, tool string, args map[string]any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	switch backend.Transport {
	case config.TransportStdio:
		session, err := DialStdio(ctx, e.stdioOptions(backend))
		if err != nil {
			return nil, err
		}
		defer session.Close()
		return session.CallTool(ctx, tool, args)

	case config.TransportHTTP:
		client := NewHTTPClient(backend.Endpoint, e.callTimeout)
		if err := client.Initialize(ctx); err != nil {
			return nil, err
		}
		return client.CallTool(ctx, tool, args)

	default:
		return nil, fault.New(fault.ProtocolStartFailed, "backend %q has unsupported transport %q", backend.Name, backend.Transport)
	}
}

// ListTools fetches the tool catalog from the backend's server.
func (e *Executor) ListTools(ctx context.Context, backend config.Backend) ([]ToolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	switch backend.Transport {
	case config.TransportStdio:
		session, err := DialStdio(ctx, e.stdioOptions(backend))
		if err != nil {
			return nil, err
		}
		defer session.Close()
		return session.ListTools(ctx)

	case config.TransportHTTP:
		client := NewHTTPClient(backend.Endpoint, e.callTimeout)
		if err := client.Initialize(ctx); err != nil {
			return nil, err
		}
		return client.ListTools(ctx)

	default:
		return nil, fault.New(fault.ProtocolStartFailed, "backend %q has unsupported transport %q", backend.Name, backend.Transport)
	}
}

func (e *Executor) stdioOptions(backend config.Backend) StdioOptions {
	return StdioOptions{
		Command:          backend.Command,
		Args:             backend.Args,
		Env:              backend.Env,
		HandshakeTimeout: e.handshakeTimeout,
		Logger:           e.logger.Named("mcp." + backend.Name),
	}
}

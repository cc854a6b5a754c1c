package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"toolfab/internal/fault"
)

// HTTPClient speaks the same JSON-RPC envelope as the stdio session, but
// as exactly one POST per exchange. Despite the name this is plain
// request/response, not a stream.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	nextID   atomic.Int64
}

// NewHTTPClient builds a client for one backend endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Call posts one request and parses the response synchronously.
func (c *HTTPClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return nil, fault.Wrap(fault.ProtocolHTTPFailed, err, "failed to marshal %s request", method)
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fault.Wrap(fault.ProtocolHTTPFailed, err, "malformed response from %s", c.endpoint)
	}
	if resp.Error != nil {
		return nil, fault.New(fault.ProtocolRPCError, "%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	return resp.Result, nil
}

// Notify posts a notification; the response body is ignored.
func (c *HTTPClient) Notify(ctx context.Context, method string, params any) error {
	payload, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fault.Wrap(fault.ProtocolHTTPFailed, err, "failed to marshal %s notification", method)
	}
	_, err = c.post(ctx, payload)
	return err
}

// post performs the single HTTP exchange.
func (c *HTTPClient) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fault.Wrap(fault.ProtocolHTTPFailed, err, "invalid endpoint %q", c.endpoint)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.ProtocolHTTPFailed, err, "POST %s failed", c.endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.ProtocolHTTPFailed, err, "failed to read response from %s", c.endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.ProtocolHTTPFailed, "POST %s returned status %d", c.endpoint, resp.StatusCode)
	}
	return body, nil
}

// Initialize runs the handshake over HTTP: the initialize exchange, then
// the initialized notification.
func (c *HTTPClient) Initialize(ctx context.Context) error {
	if _, err := c.Call(ctx, MethodInitialize, newInitializeParams()); err != nil {
		return err
	}
	return c.Notify(ctx, MethodInitialized, nil)
}

// ListTools fetches the server's tool catalog.
func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := c.Call(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fault.Wrap(fault.ProtocolRPCError, err, "malformed tools/list result")
	}
	return result.Tools, nil
}

// CallTool invokes one tool and returns the raw result payload.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return c.Call(ctx, MethodToolsCall, callToolParams{Name: name, Arguments: args})
}

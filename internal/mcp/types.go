// Package mcp implements the JSON-RPC 2.0 tool protocol client used to
// reach external tool servers, over two transports: framed stdio against a
// spawned subprocess, and single-shot HTTP POST. The wire contract is
// implemented from scratch; no protocol SDK is involved.
package mcp

import (
	"encoding/json"
)

// ProtocolVersion is the protocol revision sent during the handshake.
const ProtocolVersion = "2024-11-05"

// ClientName and ClientVersion identify this client to servers.
const (
	ClientName    = "toolfab"
	ClientVersion = "0.3.0"
)

// Wire methods.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// request is a JSON-RPC 2.0 request. A nil ID marks a notification.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is the error member of a failed response.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// initializeParams is sent as the first request on every connection.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// callToolParams carries a tools/call invocation.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolInfo is one entry of a tools/list result.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// toolsListResult is the result payload of tools/list.
type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

func newInitializeParams() initializeParams {
	return initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: ClientName, Version: ClientVersion},
	}
}

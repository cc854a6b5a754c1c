// Package tools implements the in-process fallback adapters. They mirror
// the tool surface of the protocol backends so the runtime can degrade to
// a local implementation when protocol execution is disabled or fails.
// Every adapter applies its policy check before touching any resource.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"toolfab/internal/config"
)

// Adapter tool names.
const (
	ToolReadFile   = "read_file"
	ToolWriteFile  = "write_file"
	ToolListDir    = "list_dir"
	ToolHTTPGet    = "http_get"
	ToolSQLQuery   = "sql_query"
	ToolCodeSearch = "code_search"
	ToolWebSearch  = "web_search"
	ToolThink      = "think"
)

// handler is the adapter execution signature. Results are generic maps at
// this boundary; each handler builds a typed result struct internally and
// converts it on the way out. The backend carries per-backend policy
// such as the domain allow-list.
type handler func(ctx context.Context, backend config.Backend, args map[string]any) (map[string]any, error)

// FileResult is the typed payload of read_file and write_file.
type FileResult struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Bytes   int    `json:"bytes"`
}

// ListResult is the typed payload of list_dir.
type ListResult struct {
	Path    string      `json:"path"`
	Entries []FileEntry `json:"entries"`
}

// FileEntry is one directory listing entry.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// FetchResult is the typed payload of http_get.
type FetchResult struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	Truncated  bool   `json:"truncated"`
}

// QueryResult is the typed payload of sql_query.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
}

// SearchResult is the typed payload of code_search and web_search.
type SearchResult struct {
	Query   string      `json:"query"`
	Matches []SearchHit `json:"matches"`
}

// SearchHit is one search match. File/Line are set by code_search,
// URL/Title by web_search.
type SearchHit struct {
	File  string `json:"file,omitempty"`
	Line  int    `json:"line,omitempty"`
	Text  string `json:"text,omitempty"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// ThinkResult is the typed payload of the decomposition stub.
type ThinkResult struct {
	Input string   `json:"input"`
	Steps []string `json:"steps"`
}

// asMap converts a typed result to the generic map shape used at the
// runtime boundary.
func asMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode adapter result: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode adapter result: %w", err)
	}
	return out, nil
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

// optionalString extracts an optional string argument.
func optionalString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// optionalInt extracts an optional integer argument. JSON numbers decode
// as float64, so both are accepted.
func optionalInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

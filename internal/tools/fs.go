package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"toolfab/internal/policy"
)

// readFileLimit bounds read_file content to keep audit previews and
// result payloads sane.
const readFileLimit = 1 << 20 // 1 MiB

func (s *Set) readFile(_ context.Context, args map[string]any) (map[string]any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if err := policy.CheckPath(path, s.security.AllowedPaths); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) > readFileLimit {
		data = data[:readFileLimit]
	}
	return asMap(FileResult{Path: path, Content: string(data), Bytes: len(data)})
}

func (s *Set) writeFile(_ context.Context, args map[string]any) (map[string]any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	if err := policy.CheckPath(path, s.security.AllowedPaths); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return asMap(FileResult{Path: path, Bytes: len(content)})
}

func (s *Set) listDir(_ context.Context, args map[string]any) (map[string]any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if err := policy.CheckPath(path, s.security.AllowedPaths); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}

	out := ListResult{Path: path, Entries: make([]FileEntry, 0, len(entries))}
	for _, e := range entries {
		fe := FileEntry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			fe.Size = info.Size()
		}
		out.Entries = append(out.Entries, fe)
	}
	return asMap(out)
}

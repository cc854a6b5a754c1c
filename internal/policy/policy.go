// Package policy implements the stateless security gate. Every check is a
// pure function of its inputs; callers pass registry-derived settings in.
package policy

import (
	"net/url"
	"path/filepath"
	"strings"

	"toolfab/internal/fault"
)

// sqlMutatingKeywords are rejected anywhere in a query, not only as the
// leading verb. Matching is on whole words of the normalized text.
var sqlMutatingKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "create", "replace",
	"truncate", "attach", "detach", "vacuum", "reindex", "grant", "revoke",
}

// sqlReadVerbs are the only statement openers allowed.
var sqlReadVerbs = []string{"select", "with", "pragma"}

// CheckPath verifies that path resolves under one of the allowed roots,
// after following symlinks. An empty allow-list permits nothing; the
// gate is deny-by-default.
func CheckPath(path string, allowedRoots []string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fault.Wrap(fault.PathForbidden, err, "cannot resolve path %q", path)
	}
	abs = resolveExisting(filepath.Clean(abs))

	for _, root := range allowedRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rootAbs = resolveExisting(filepath.Clean(rootAbs))
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return nil
		}
	}
	return fault.New(fault.PathForbidden, "path %q is outside the allowed roots", path)
}

// resolveExisting evaluates symlinks over the longest existing prefix of
// abs and reattaches the remainder, so a file that does not exist yet
// still resolves through any symlinked parent directory.
func resolveExisting(abs string) string {
	remainder := ""
	dir := abs
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(resolved, remainder)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		remainder = filepath.Join(filepath.Base(dir), remainder)
		dir = parent
	}
}

// CheckURL verifies that raw is an http/https URL whose hostname equals or
// is a subdomain of an allowed entry. An empty allow-list allows all hosts.
func CheckURL(raw string, allowedDomains []string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fault.Wrap(fault.DomainForbidden, err, "invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fault.New(fault.DomainForbidden, "scheme %q is not allowed", u.Scheme)
	}
	if len(allowedDomains) == 0 {
		return nil
	}

	host := strings.ToLower(u.Hostname())
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return nil
		}
	}
	return fault.New(fault.DomainForbidden, "host %q is not in the domain allow-list", host)
}

// CheckSQL verifies that q is a read-only statement: it must open with
// select/with/pragma and must not mention a mutating keyword anywhere.
func CheckSQL(q string) error {
	normalized := strings.ToLower(strings.TrimSpace(q))
	if normalized == "" {
		return fault.New(fault.SQLForbidden, "empty query")
	}

	allowed := false
	for _, verb := range sqlReadVerbs {
		if strings.HasPrefix(normalized, verb) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fault.New(fault.SQLForbidden, "query must start with select, with or pragma")
	}

	for _, word := range strings.FieldsFunc(normalized, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_')
	}) {
		for _, kw := range sqlMutatingKeywords {
			if word == kw {
				return fault.New(fault.SQLForbidden, "mutating keyword %q is not allowed", kw)
			}
		}
	}
	return nil
}

// CheckCommand verifies that text contains none of the blocked substrings.
// Matching is case-insensitive.
func CheckCommand(text string, blocked []string) error {
	lower := strings.ToLower(text)
	for _, b := range blocked {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" {
			continue
		}
		if strings.Contains(lower, b) {
			return fault.New(fault.CommandForbidden, "command text contains blocked pattern %q", b)
		}
	}
	return nil
}

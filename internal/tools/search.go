package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"toolfab/internal/policy"
)

const (
	defaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	defaultMaxResults     = 10
	maxScanFileSize       = 1 << 20 // files larger than this are skipped
)

// codeSearch scans files under a root for lines containing the query,
// case-insensitively. Hidden directories and binary files are skipped.
func (s *Set) codeSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	root := optionalString(args, "root", ".")
	maxResults := optionalInt(args, "max_results", defaultMaxResults)

	if err := policy.CheckPath(root, s.security.AllowedPaths); err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	result := SearchResult{Query: query, Matches: []SearchHit{}}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if len(result.Matches) >= maxResults {
			return filepath.SkipAll
		}
		if info, err := d.Info(); err != nil || info.Size() > maxScanFileSize {
			return nil
		}

		hits, err := scanFile(path, needle, maxResults-len(result.Matches))
		if err != nil {
			return nil
		}
		result.Matches = append(result.Matches, hits...)
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return nil, fmt.Errorf("search walk failed: %w", walkErr)
	}
	return asMap(result)
}

// scanFile collects up to budget matching lines from one file. Binary
// content (NUL in the first chunk) is skipped.
func scanFile(path, needle string, budget int) ([]SearchHit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return nil, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var hits []SearchHit
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanFileSize)
	lineNo := 0
	for scanner.Scan() && len(hits) < budget {
		lineNo++
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), needle) {
			hits = append(hits, SearchHit{File: path, Line: lineNo, Text: strings.TrimSpace(line)})
		}
	}
	return hits, scanner.Err()
}

// webSearch queries the DuckDuckGo HTML endpoint and extracts result
// links. The query text goes through the command gate first.
func (s *Set) webSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	maxResults := optionalInt(args, "max_results", defaultMaxResults)

	if err := policy.CheckCommand(query, s.security.BlockedCommands); err != nil {
		return nil, err
	}

	searchURL := s.searchEndpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid search url: %w", err)
	}
	req.Header.Set("User-Agent", "toolfab/local-adapter")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned status %d", resp.StatusCode)
	}

	hits, err := parseSearchResults(resp.Body, maxResults)
	if err != nil {
		return nil, err
	}
	return asMap(SearchResult{Query: query, Matches: hits})
}

// parseSearchResults extracts anchors carrying the result__a class from
// the DuckDuckGo HTML page.
func parseSearchResults(r io.Reader, maxResults int) ([]SearchHit, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	var hits []SearchHit
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(hits) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			if href := attr(n, "href"); href != "" {
				hits = append(hits, SearchHit{URL: href, Title: strings.TrimSpace(nodeText(n))})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hits, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

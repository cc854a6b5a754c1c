package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"toolfab/internal/config"
	"toolfab/internal/policy"
)

// fetchBodyLimit bounds http_get response bodies.
const fetchBodyLimit = 1 << 20 // 1 MiB

// httpGet fetches a URL. The per-backend domain allow-list applies; an
// empty list allows any host.
func (s *Set) httpGet(ctx context.Context, backend config.Backend, args map[string]any) (map[string]any, error) {
	rawURL, err := stringArg(args, "url")
	if err != nil {
		return nil, err
	}
	if err := policy.CheckURL(rawURL, backend.AllowedDomains); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", "toolfab/local-adapter")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body from %s: %w", rawURL, err)
	}

	truncated := false
	if len(body) > fetchBodyLimit {
		body = body[:fetchBodyLimit]
		truncated = true
	}
	return asMap(FetchResult{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Truncated:  truncated,
	})
}

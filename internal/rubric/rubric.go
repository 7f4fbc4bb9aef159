// Package rubric supplies the review criteria interpolated into every
// judge prompt: an embedded default, optionally overridden by a
// centrally-hosted rubric fetched over HTTP.
package rubric

import (
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"time"
)

//go:embed rubric.md
var embedded string

// DefaultFetchTimeout bounds a remote rubric fetch.
const DefaultFetchTimeout = 5 * time.Second

// maxRubricSize caps a fetched rubric to prevent unbounded allocation.
const maxRubricSize = 1 << 20

// Load returns the rubric text to interpolate into a judge prompt. An
// empty fetchURL skips the network entirely and returns the embedded
// default; a configured URL is fetched with a fallback to the embedded
// default on any failure, so a misbehaving remote never blocks an audit.
func Load(fetchURL string, timeout time.Duration) (string, error) {
	if fetchURL == "" {
		return embedded, nil
	}
	if timeout == 0 {
		timeout = DefaultFetchTimeout
	}

	content, err := fetchRemote(fetchURL, timeout)
	if err == nil && content != "" {
		return content, nil
	}
	if embedded == "" {
		return "", fmt.Errorf("no rubric available: fetch failed (%v) and no embedded fallback", err)
	}
	return embedded, nil
}

func fetchRemote(url string, timeout time.Duration) (string, error) {
	client := &http.Client{Timeout: timeout}

	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRubricSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	return string(body), nil
}

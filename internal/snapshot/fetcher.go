// Package snapshot fetches event snapshots from the camera API when the
// inbound event references one instead of embedding the image.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Fetcher retrieves snapshot bytes over HTTP.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Fetcher. baseURL may be empty when events always embed
// their image or carry absolute snapshot URLs.
func New(baseURL string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch downloads the snapshot at url. Relative URLs are resolved against
// the configured camera API base URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		if f.baseURL == "" {
			return nil, fmt.Errorf("relative snapshot url %q without a configured base url", url)
		}
		url = f.baseURL + "/" + strings.TrimLeft(url, "/")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot response status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty snapshot body")
	}

	return data, nil
}

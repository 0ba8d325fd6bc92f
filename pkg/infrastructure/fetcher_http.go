package infrastructure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cv-optimizer/pkg/htmltext"
	"cv-optimizer/pkg/retry"
)

const maxPageBytes = 5 << 20

// HTTPPageFetcher downloads a job posting and returns its visible text.
type HTTPPageFetcher struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPPageFetcher() *HTTPPageFetcher {
	return &HTTPPageFetcher{
		Client:    &http.Client{Timeout: 45 * time.Second},
		UserAgent: "Mozilla/5.0 (compatible; cv-optimizer/1.0)",
	}
}

func (f *HTTPPageFetcher) FetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("job page returned %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(err)
		}
		return "", err
	}
	return htmltext.Extract(io.LimitReader(resp.Body, maxPageBytes))
}

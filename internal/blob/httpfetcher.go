package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPFetcher is the default Fetcher: a plain HTTP GET against a shard's
// endpoint URL, with a bounded timeout so one unreachable storage peer
// can't stall an entire blob reassembly past the handler's own deadline.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher with a 10s per-shard timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 10 * time.Second}}
}

// FetchShard retrieves the full body of a GET to endpointURL.
func (f *HTTPFetcher) FetchShard(ctx context.Context, endpointURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shard fetch %s: status %d", endpointURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

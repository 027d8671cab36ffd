package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	cache "github.com/RobsonDevCode/advidex/internal/caching"
	"github.com/sony/gobreaker"
)

// FeedClient is the outbound HTTP surface shared by every feed source. The
// circuit breaker keeps a rate limited or melting feed mirror from being
// hammered for the rest of the run.
type FeedClient struct {
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	cache  *cache.Cache
}

func NewFeedClient(metadataCache *cache.Cache) *FeedClient {
	client := &http.Client{
		Timeout: 15 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	cbSettings := gobreaker.Settings{
		Name:        "feed-client",
		MaxRequests: 5,
		Interval:    3 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &FeedClient{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
		cache:  metadataCache,
	}
}

// Download streams the body of the given URL. The caller owns the closer.
func (c *FeedClient) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	cbResult, err := c.cb.Execute(func() (interface{}, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create http request: %w", err)
		}

		response, err := c.client.Do(request)
		if err != nil {
			return nil, fmt.Errorf("client response error: %w", err)
		}

		if response.StatusCode != http.StatusOK {
			response.Body.Close()
			return nil, fmt.Errorf("unexpected status %d fetching %s", response.StatusCode, url)
		}

		return response.Body, nil
	})
	if err != nil {
		return nil, err
	}

	body, ok := cbResult.(io.ReadCloser)
	if !ok {
		return nil, fmt.Errorf("unexpected response type when converting response")
	}

	return body, nil
}

// GetJSON fetches and decodes a small metadata document, memoized for the
// duration of the run.
func (c *FeedClient) GetJSON(ctx context.Context, url string, out any) error {
	fetch := func() ([]byte, error) {
		body, err := c.Download(ctx, url)
		if err != nil {
			return nil, err
		}
		defer body.Close()

		return io.ReadAll(body)
	}

	var data []byte
	if c.cache != nil {
		cached, err := c.cache.GetOrCreate(url, func(entry *cache.CacheEntry) (interface{}, error) {
			return fetch()
		})
		if err != nil {
			return err
		}
		data = cached.([]byte)
	} else {
		fetched, err := fetch()
		if err != nil {
			return err
		}
		data = fetched
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error unmarshalling metadata from %s: %w", url, err)
	}

	return nil
}

package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client fetches and decodes a GTFS-RT trip updates feed
type Client struct {
	url    string
	apiKey string
	client *http.Client
}

// NewClient creates a feed client. apiKey is sent as x-api-key when set.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the feed endpoint
func (c *Client) URL() string {
	return c.url
}

// Fetch downloads and decodes the feed. Errors wrap ErrFetch or ErrDecode.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	body, err := c.fetchBytes(ctx)
	if err != nil {
		return nil, err
	}
	return Decode(body)
}

func (c *Client) fetchBytes(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrFetch, err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch feed: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: feed returned status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrFetch, err)
	}

	return body, nil
}

package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Client is an http.Client that tags every request with the collector's
// User-Agent, so scraped sites can identify and contact us.
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient builds a Client with the given timeout and User-Agent.
func NewClient(timeout time.Duration, userAgent string) *Client {
	return &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Get issues a GET for url. The caller owns the response body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	return resp, nil
}

// Post issues a fire-and-forget POST with no body, used for build hooks.
func (c *Client) Post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

// Package adprovider talks to the URL-shortening ad network that users pass
// through before receiving a token.
package adprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/devi-sudo/zbox/internal/metrics"
)

// Shortener wraps a long URL behind the ad redirect.
type Shortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
}

type shortenResponse struct {
	Status       string `json:"status"`
	ShortenedURL string `json:"shortenedUrl"`
	Message      string `json:"message"`
}

// Client calls GET https://<host>/api?api=<token>&url=<long url>.
// Every failure is reported as domain.ErrUpstreamUnavailable; there is no
// automatic retry.
type Client struct {
	baseURL  string
	apiToken string
	client   *http.Client
	logger   *slog.Logger
}

func NewClient(host, apiToken string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  "https://" + host,
		apiToken: apiToken,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "ad_provider"),
	}
}

// WithBaseURL overrides the scheme and host, for tests against httptest.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

func (c *Client) Shorten(ctx context.Context, longURL string) (string, error) {
	start := time.Now()
	short, err := c.shorten(ctx, longURL)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		c.logger.WarnContext(ctx, "shorten url", "error", err)
	}
	metrics.AdProviderRequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return short, err
}

func (c *Client) shorten(ctx context.Context, longURL string) (string, error) {
	q := url.Values{}
	q.Set("api", c.apiToken)
	q.Set("url", longURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w: %w", domain.ErrUpstreamUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("unexpected status code %d: %w", resp.StatusCode, domain.ErrUpstreamUnavailable)
	}

	var body shortenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	if body.Status != "success" || body.ShortenedURL == "" {
		return "", fmt.Errorf("provider said %q (%s): %w", body.Status, body.Message, domain.ErrUpstreamUnavailable)
	}
	return body.ShortenedURL, nil
}

// Package scraperapi fetches target pages through the ScraperAPI proxy.
package scraperapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// =============================================================================
// Fetcher Interface
// =============================================================================

// Fetcher returns the raw body of a target page.
type Fetcher interface {
	Fetch(ctx context.Context, targetURL string) ([]byte, error)
}

// =============================================================================
// Client Implementation
// =============================================================================

// DefaultBaseURL is the ScraperAPI endpoint.
const DefaultBaseURL = "https://api.scraperapi.com"

// Client implements Fetcher against ScraperAPI.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// Config holds ScraperAPI client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// RetryMax is the number of retries after the first attempt.
	RetryMax  int
	RetryWait time.Duration

	// RequestsPerSecond caps outgoing requests across all callers sharing the
	// client. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Timeout:           70 * time.Second,
		RetryMax:          3,
		RetryWait:         2 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
	}
}

// NewClient creates a ScraperAPI client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaults.RetryWait
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)

	logger = logger.With("component", "scraperapi")

	// The request URL carries the API key, so retryablehttp's own logging is
	// replaced by a hook that only logs the target page.
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("retrying page", "url", req.URL.Query().Get("url"), "attempt", attempt)
		}
	}
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWait
	rc.RetryWaitMax = cfg.RetryWait
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.HTTPClient.Transport = &limitedTransport{
		base:    rc.HTTPClient.Transport,
		limiter: rate.NewLimiter(limit, burst),
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    rc,
		logger:  logger,
	}, nil
}

// Fetch downloads targetURL through the proxy. Transport errors, 429 and 5xx
// responses are retried; a final status of 400 or above is an error.
func (c *Client) Fetch(ctx context.Context, targetURL string) ([]byte, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("url", targetURL)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, NewFetchError("Fetch", targetURL, 0, err.Error(), ErrRequestFailed)
	}

	start := time.Now()
	// Once retries run out the last response is passed through together with
	// a "giving up" error; the status check below reports it.
	resp, err := c.http.Do(req)
	if resp == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, NewFetchError("Fetch", targetURL, 0, "cancelled", ctxErr)
		}
		msg := "no response"
		if err != nil {
			msg = c.redact(err, targetURL)
		}
		return nil, NewFetchError("Fetch", targetURL, 0, msg, ErrRequestFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewFetchError("Fetch", targetURL, resp.StatusCode, "failed to read body", ErrRequestFailed)
	}

	if resp.StatusCode >= 400 {
		return nil, NewFetchError("Fetch", targetURL, resp.StatusCode, snippet(body), ErrUpstreamStatus)
	}

	c.logger.Debug("page fetched",
		"url", targetURL,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)
	return body, nil
}

// redact renders err without the proxy URL, which holds the API key.
func (c *Client) redact(err error, targetURL string) string {
	var uErr *url.Error
	if errors.As(err, &uErr) {
		redacted := *uErr
		redacted.URL = targetURL
		err = &redacted
	}
	return strings.ReplaceAll(err.Error(), c.apiKey, "REDACTED")
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// limitedTransport waits on a shared limiter before every attempt, retries
// included.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

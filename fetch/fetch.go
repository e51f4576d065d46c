// Package fetch implements bounded HTTP page retrieval for source adapters:
// per-request timeout inherited from the caller's context, response size cap,
// redirect cap, and a private-address guard applied to the initial URL and
// every redirect hop.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result contains the outcome of a page fetch.
type Result struct {
	Body       []byte
	StatusCode int
	FinalURL   string // after redirects
}

// Config configures the client.
type Config struct {
	Timeout  time.Duration // per-request ceiling. Default: 30s.
	MaxBytes int64         // max response body size. Default: 10MB.
	// UserAgent sent with requests.
	UserAgent string
	// URLValidator validates URLs before fetch and on each redirect.
	// Default: ValidateURL (private-address guard).
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "yadowatch/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = ValidateURL
	}
}

// Client performs HTTP GETs against external availability sources.
type Client struct {
	hc     *http.Client
	config Config
}

// New creates a Client. Redirects are capped at 5 hops and each hop is
// re-validated against the URL guard.
func New(cfg Config) *Client {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Client{
		hc: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Get retrieves a page. Non-2xx statuses return a *StatusError alongside the
// Result so callers can classify the failure.
func (c *Client) Get(ctx context.Context, url string) (*Result, error) {
	if err := c.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("fetch: URL blocked: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: get %s: %w", url, err)
	}
	defer resp.Body.Close()

	res := &Result{StatusCode: resp.StatusCode, FinalURL: resp.Request.URL.String()}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	res.Body = body
	return res, nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s: http %d", e.URL, e.Code)
}

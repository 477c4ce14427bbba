// Package portal is a small JSON client for the Fourfront/CGAP REST API that
// checks query.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("portal: not found")

const (
	defaultTimeout   = 30 * time.Second
	breakerThreshold = 5
	breakerCooldown  = time.Minute
)

// Keys are the portal access credentials. Server overrides the base URL when set.
type Keys struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
	Server string `json:"server"`
}

// StatusError reports a non-2xx portal response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal returned status %d: %s", e.Code, e.Body)
}

// Client talks to one portal server.
type Client struct {
	baseURL string
	keys    Keys
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. keys.Server, when present, takes precedence over baseURL.
func New(baseURL string, keys Keys, opts ...Option) (*Client, error) {
	if keys.Server != "" {
		baseURL = keys.Server
	}
	if baseURL == "" {
		return nil, fmt.Errorf("portal: server URL is required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		keys:    keys,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "portal",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		// Only transport failures and 5xx count against the portal.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("portal circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// BaseURL returns the server the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Get fetches path and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, withFormat(path), nil, out)
}

// Search runs a portal search query (the part after "/search/?") and returns
// the "@graph" items. A search with no hits returns an empty slice.
func (c *Client) Search(ctx context.Context, query string) ([]map[string]interface{}, error) {
	q, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, fmt.Errorf("portal: bad search query %q: %w", query, err)
	}
	if q.Get("limit") == "" {
		q.Set("limit", "all")
	}
	var resp struct {
		Graph []map[string]interface{} `json:"@graph"`
	}
	err = c.do(ctx, http.MethodGet, withFormat("/search/?"+q.Encode()), nil, &resp)
	if errors.Is(err, ErrNotFound) {
		return []map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Graph == nil {
		resp.Graph = []map[string]interface{}{}
	}
	return resp.Graph, nil
}

// Patch sends a JSON PATCH to path and returns the decoded response.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("portal: marshaling patch body: %w", err)
	}
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodPatch, path, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health returns the portal's /health document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.Get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return fmt.Errorf("portal: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.keys.Key != "" {
		req.SetBasicAuth(c.keys.Key, c.keys.Secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("portal: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("portal: reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("portal: parsing response: %w", err)
	}
	return nil
}

func withFormat(path string) string {
	if strings.Contains(path, "format=json") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&format=json"
	}
	return path + "?format=json"
}

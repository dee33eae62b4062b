package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reconcile/internal/api"
	"reconcile/internal/authority"
	"reconcile/internal/config"
	"reconcile/internal/reconcile"
)

// Client talks to a reconcile daemon.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient has no overall timeout; streams are bounded by ctx.
	streamClient *http.Client
	minQuery     int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the client used for request/response calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithStreamClient overrides the client used for progress streams.
func WithStreamClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.streamClient = client
		}
	}
}

// WithMinQueryLength raises the shortest query Search will send.
func WithMinQueryLength(n int) Option {
	return func(c *Client) {
		if n > c.minQuery {
			c.minQuery = n
		}
	}
}

// New creates a client for baseURL, e.g. http://127.0.0.1:7590.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("daemon base URL required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse daemon base URL: %w", err)
	}
	c := &Client{
		baseURL:      baseURL,
		token:        strings.TrimSpace(token),
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		streamClient: &http.Client{},
		minQuery:     config.MinSearchLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromConfig targets the daemon configured in cfg.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	base := []Option{WithMinQueryLength(cfg.Reconcile.SearchMinLength)}
	return New(cfg.APIBaseURL(), cfg.Paths.APIToken, append(base, opts...)...)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends the request and decodes a JSON response into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func fieldPath(entity, field string, rest ...string) string {
	parts := []string{"/api/entities", url.PathEscape(entity), "fields", url.PathEscape(field)}
	return strings.Join(append(parts, rest...), "/")
}

func rowPath(entity, field, sourceValue, action string) string {
	return fieldPath(entity, field, "rows", url.PathEscape(sourceValue), action)
}

func entityPath(entity, action string) string {
	return "/api/entities/" + url.PathEscape(entity) + "/" + action
}

// Health checks daemon liveness. It needs no token.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &resp)
	return resp, err
}

// Search runs a free-text authority search through the daemon. Queries
// shorter than the minimum length fail locally with
// authority.ErrQueryTooShort and are never sent.
func (c *Client) Search(ctx context.Context, query string) ([]reconcile.Candidate, error) {
	trimmed, err := authority.ValidateQuery(query, c.minQuery)
	if err != nil {
		return nil, err
	}
	var resp api.SearchResponse
	if err := c.do(ctx, http.MethodGet, "/api/search", url.Values{"query": {trimmed}}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

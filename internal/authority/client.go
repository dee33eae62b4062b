package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"reconcile/internal/config"
	"reconcile/internal/logging"
	"reconcile/internal/metrics"
	"reconcile/internal/reconcile"
)

var (
	// ErrUnavailable reports that the authority could not be reached or is
	// failing (transport errors, 5xx responses, open circuit).
	ErrUnavailable = errors.New("authority unavailable")
	// ErrQueryTooShort is returned without contacting the authority.
	ErrQueryTooShort = errors.New("query too short")
)

// Searcher returns ranked candidates for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]reconcile.Candidate, error)
}

// Client provides access to the authority search endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxResults int
	minLength  int
	logger     *slog.Logger
	metrics    *metrics.Collector
}

var _ Searcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit replaces the request limiter. A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBreaker configures the circuit breaker to open after the given number of
// consecutive failures and probe again after cooldown.
func WithBreaker(failures int, cooldown time.Duration) Option {
	return func(c *Client) {
		c.breaker = newBreaker(failures, cooldown, c.logger)
	}
}

// WithMaxResults caps the number of candidates returned per query.
func WithMaxResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// WithMinQueryLength raises the shortest accepted query.
func WithMinQueryLength(n int) Option {
	return func(c *Client) {
		if n > config.MinSearchLength {
			c.minLength = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logging.NewComponentLogger(logger, "authority")
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// New creates an authority client.
func New(apiKey, baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("authority base url required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse authority base url: %w", err)
	}
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxResults: 10,
		minLength:  config.MinSearchLength,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.breaker == nil {
		client.breaker = newBreaker(5, 30*time.Second, client.logger)
	}
	return client, nil
}

// NewFromConfig builds a client from the [authority] and [reconcile] sections.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, collector *metrics.Collector, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if err := cfg.ValidateAuthorityEndpoint(); err != nil {
		return nil, err
	}
	a := cfg.Authority
	base := []Option{
		WithLogger(logger),
		WithMetrics(collector),
		WithHTTPClient(&http.Client{Timeout: time.Duration(a.TimeoutSeconds) * time.Second}),
		WithRateLimit(a.RequestsPerSecond, a.Burst),
		WithBreaker(a.BreakerFailures, time.Duration(a.BreakerCooldownSeconds)*time.Second),
		WithMaxResults(a.MaxCandidates),
		WithMinQueryLength(cfg.Reconcile.SearchMinLength),
	}
	return New(a.APIKey, a.BaseURL, append(base, opts...)...)
}

// MinQueryLength reports the shortest query the client will send.
func (c *Client) MinQueryLength() int {
	return c.minLength
}

// ValidateQuery trims the query and rejects it when shorter than min runes.
func ValidateQuery(query string, min int) (string, error) {
	trimmed := strings.TrimSpace(query)
	if min < config.MinSearchLength {
		min = config.MinSearchLength
	}
	if utf8.RuneCountInString(trimmed) < min {
		return "", fmt.Errorf("%w: %q needs at least %d characters", ErrQueryTooShort, trimmed, min)
	}
	return trimmed, nil
}

type searchResponse struct {
	Candidates []reconcile.Candidate `json:"candidates"`
}

// Search queries the authority. Candidate order is preserved as ranked by the
// authority; scores are clamped to [0,1].
func (c *Client) Search(ctx context.Context, query string) ([]reconcile.Candidate, error) {
	trimmed, err := ValidateQuery(query, c.minLength)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doSearch(ctx, trimmed)
	})
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: circuit %s", ErrUnavailable, err)
		}
		c.metrics.ObserveLookup(lookupOutcome(err), elapsed)
		return nil, err
	}
	c.metrics.ObserveLookup("ok", elapsed)

	candidates := result.([]reconcile.Candidate)
	c.logger.Debug("authority search complete",
		logging.String("query", trimmed),
		logging.Int("candidates", len(candidates)),
		logging.Duration("latency", elapsed),
	)
	return candidates, nil
}

func (c *Client) doSearch(ctx context.Context, query string) ([]reconcile.Candidate, error) {
	endpoint, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("parse authority url: %w", err)
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(c.maxResults))
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: execute request (latency=%v): %w", ErrUnavailable, latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: search returned %d (latency=%v)", ErrUnavailable, resp.StatusCode, latency)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode authority response: %w", err)
	}
	candidates := payload.Candidates
	if len(candidates) > c.maxResults {
		candidates = candidates[:c.maxResults]
	}
	out := make([]reconcile.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		candidate.Score = reconcile.ClampScore(candidate.Score)
		candidate.Name = reconcile.NormalizeNewlines(candidate.Name)
		out = append(out, candidate)
	}
	return out, nil
}

// StatusError is a non-2xx, non-5xx authority response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("authority search returned %d", e.StatusCode)
	}
	return fmt.Sprintf("authority search returned %d: %s", e.StatusCode, e.Body)
}

func lookupOutcome(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func newBreaker(failures int, cooldown time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if failures < 1 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	threshold := uint32(failures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "authority",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.WarnWithContext(logger, "authority circuit breaker state changed", "authority_breaker",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
				logging.String(logging.FieldErrorHint, "check authority base_url and service health"),
				logging.String(logging.FieldImpact, "candidate lookups fail fast while the breaker is open"),
			)
		},
	})
}

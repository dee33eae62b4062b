package authority_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"reconcile/internal/authority"
	"reconcile/internal/config"
)

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := authority.New("key", ""); err == nil {
		t.Fatal("expected error when base url missing")
	}
}

func TestSearchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("query") != "Oslo" || r.URL.Query().Get("limit") != "2" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[
			{"id":"https://authority.example/entity/Q585","name":"Oslo","score":0.97},
			{"id":"https://authority.example/entity/Q1","name":"Oslo Municipality","score":1.4},
			{"id":"https://authority.example/entity/Q2","name":"Extra","score":0.1}
		]}`))
	}))
	t.Cleanup(server.Close)

	client, err := authority.New("key", server.URL+"/", authority.WithMaxResults(2), authority.WithRateLimit(0, 0))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	candidates, err := client.Search(context.Background(), "  Oslo ")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Name != "Oslo" || candidates[1].Score != 1 {
		t.Fatalf("unexpected candidates: %#v", candidates)
	}
}

func TestSearchShortQueryNeverCallsAuthority(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	t.Cleanup(server.Close)

	client, err := authority.New("", server.URL)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	for _, query := range []string{"", "a", " b ", "é"} {
		if _, err := client.Search(context.Background(), query); !errors.Is(err, authority.ErrQueryTooShort) {
			t.Fatalf("query %q: expected ErrQueryTooShort, got %v", query, err)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no authority calls, got %d", calls.Load())
	}
	if _, err := client.Search(context.Background(), "ab"); err != nil {
		t.Fatalf("two-character query failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one authority call, got %d", calls.Load())
	}
}

func TestSearchServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client, err := authority.New("key", server.URL)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := client.Search(context.Background(), "fail"); !errors.Is(err, authority.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSearchClientErrorIsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad key"))
	}))
	t.Cleanup(server.Close)

	client, err := authority.New("key", server.URL)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	_, err = client.Search(context.Background(), "query")
	var statusErr *authority.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected StatusError 401, got %v", err)
	}
	if errors.Is(err, authority.ErrUnavailable) {
		t.Fatal("4xx must not be reported as unavailable")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client, err := authority.New("key", server.URL, authority.WithBreaker(2, time.Minute))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := client.Search(context.Background(), "query"); !errors.Is(err, authority.ErrUnavailable) {
			t.Fatalf("attempt %d: expected ErrUnavailable, got %v", i, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, got %d calls", calls.Load())
	}
}

func TestNewFromConfigRequiresEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Authority.BaseURL = ""
	if _, err := authority.NewFromConfig(&cfg, nil, nil); err == nil {
		t.Fatal("expected error without base url")
	}
	cfg.Authority.BaseURL = "https://authority.example"
	client, err := authority.NewFromConfig(&cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if client.MinQueryLength() != cfg.Reconcile.SearchMinLength {
		t.Fatalf("MinQueryLength = %d", client.MinQueryLength())
	}
}

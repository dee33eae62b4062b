package review_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"reconcile/internal/reconcile"
	"reconcile/internal/review"
)

type countingSearcher struct {
	mu      sync.Mutex
	queries []string
	gate    map[string]chan struct{}
	started chan string
}

func (s *countingSearcher) Search(ctx context.Context, query string) ([]reconcile.Candidate, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	gate := s.gate[query]
	s.mu.Unlock()
	if s.started != nil {
		s.started <- query
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []reconcile.Candidate{{ID: "Q1", Name: query, Score: 0.5}}, nil
}

func (s *countingSearcher) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func receive(t *testing.T, d *review.Debouncer) review.SearchResult {
	t.Helper()
	select {
	case result := <-d.Results():
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("no debounced result delivered")
		return review.SearchResult{}
	}
}

func TestDebouncerNeverSendsSingleCharacterQueries(t *testing.T) {
	searcher := &countingSearcher{}
	d := review.NewDebouncer(context.Background(), searcher, 10*time.Millisecond, 2)
	defer d.Close()

	d.Submit("a")
	time.Sleep(60 * time.Millisecond)
	if calls := searcher.calls(); len(calls) != 0 {
		t.Fatalf("single-character query sent: %v", calls)
	}
}

func TestDebouncerCoalescesTyping(t *testing.T) {
	searcher := &countingSearcher{}
	d := review.NewDebouncer(context.Background(), searcher, 50*time.Millisecond, 2)
	defer d.Close()

	var last uint64
	for _, query := range []string{"O", "Os", "Osl", "Oslo", "Oslo "} {
		last = d.Submit(query)
	}
	result := receive(t, d)
	if result.Token != last || result.Query != "Oslo" || result.Err != nil {
		t.Fatalf("unexpected result %+v (last token %d)", result, last)
	}
	time.Sleep(100 * time.Millisecond)
	if calls := searcher.calls(); len(calls) != 1 || calls[0] != "Oslo" {
		t.Fatalf("expected exactly one call for the final query, got %v", calls)
	}
}

func TestDebouncerDiscardsStaleResolution(t *testing.T) {
	release := make(chan struct{})
	searcher := &countingSearcher{
		gate:    map[string]chan struct{}{"Christiania": release},
		started: make(chan string, 4),
	}
	d := review.NewDebouncer(context.Background(), searcher, 5*time.Millisecond, 2)
	defer d.Close()

	d.Submit("Christiania")
	if started := <-searcher.started; started != "Christiania" {
		t.Fatalf("unexpected first query %q", started)
	}
	latest := d.Submit("Oslo")
	result := receive(t, d)
	close(release)
	if result.Token != latest || result.Query != "Oslo" {
		t.Fatalf("expected latest result, got %+v", result)
	}

	select {
	case stale, ok := <-d.Results():
		if ok {
			t.Fatalf("stale resolution delivered: %+v", stale)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncerDropsUndeliveredResultOnNewSubmit(t *testing.T) {
	release := make(chan struct{})
	searcher := &countingSearcher{
		gate:    map[string]chan struct{}{"Oslo": release},
		started: make(chan string, 4),
	}
	d := review.NewDebouncer(context.Background(), searcher, 5*time.Millisecond, 2)
	defer d.Close()

	d.Submit("Bergen")
	if started := <-searcher.started; started != "Bergen" {
		t.Fatalf("unexpected first query %q", started)
	}
	time.Sleep(30 * time.Millisecond)
	latest := d.Submit("Oslo")

	select {
	case result := <-d.Results():
		t.Fatalf("superseded result delivered: %+v", result)
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	if result := receive(t, d); result.Token != latest || result.Query != "Oslo" {
		t.Fatalf("expected latest result, got %+v", result)
	}
}

func TestDebouncerCloseStopsPendingQuery(t *testing.T) {
	searcher := &countingSearcher{}
	d := review.NewDebouncer(context.Background(), searcher, time.Hour, 2)
	d.Submit("Oslo")
	d.Close()

	if _, ok := <-d.Results(); ok {
		t.Fatal("results channel must be closed")
	}
	if calls := searcher.calls(); len(calls) != 0 {
		t.Fatalf("pending query ran after close: %v", calls)
	}
	d.Submit("Bergen")
	d.Close()
}

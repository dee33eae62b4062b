package review

import (
	"context"
	"sync"
	"time"

	"reconcile/internal/authority"
	"reconcile/internal/config"
	"reconcile/internal/reconcile"
)

// SearchResult is the outcome of the latest debounced query.
type SearchResult struct {
	Token      uint64
	Query      string
	Candidates []reconcile.Candidate
	Err        error
}

// Debouncer coalesces rapid query edits into one authority call issued after
// the input has been quiet for the configured delay. Only the result for the
// most recent submission is delivered; older resolutions are discarded by
// token.
type Debouncer struct {
	searcher  authority.Searcher
	delay     time.Duration
	minLength int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	token   uint64
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup
	results chan SearchResult
}

// NewDebouncer starts a debouncer bound to ctx.
func NewDebouncer(ctx context.Context, searcher authority.Searcher, delay time.Duration, minLength int) *Debouncer {
	if minLength < config.MinSearchLength {
		minLength = config.MinSearchLength
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Debouncer{
		searcher:  searcher,
		delay:     delay,
		minLength: minLength,
		ctx:       ctx,
		cancel:    cancel,
		results:   make(chan SearchResult, 1),
	}
}

// Results delivers the result of each query that was still current when it
// resolved. The channel is closed by Close.
func (d *Debouncer) Results() <-chan SearchResult {
	return d.results
}

// Submit supersedes any pending query. Queries below the minimum length are
// accepted but never sent. The returned token identifies the submission.
func (d *Debouncer) Submit(query string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return d.token
	}
	d.token++
	token := d.token
	d.discardPending()
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.timer = nil

	trimmed, err := authority.ValidateQuery(query, d.minLength)
	if err != nil {
		return token
	}
	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.fire(token, trimmed)
	})
	return token
}

func (d *Debouncer) current(token uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && d.token == token
}

func (d *Debouncer) fire(token uint64, query string) {
	if !d.current(token) {
		return
	}
	candidates, err := d.searcher.Search(d.ctx, query)
	d.publish(SearchResult{Token: token, Query: query, Candidates: candidates, Err: err})
}

// publish delivers result only while its token is still the latest. The
// check and the send happen under d.mu so a newer Submit cannot interleave.
func (d *Debouncer) publish(result SearchResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.token != result.Token {
		return
	}
	d.discardPending()
	d.results <- result
}

// discardPending drops an undelivered older result. Callers hold d.mu, so the
// buffer has room for exactly one send afterwards.
func (d *Debouncer) discardPending() {
	select {
	case <-d.results:
	default:
	}
}

// Close stops pending timers, waits for in-flight searches, and closes Results.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.timer = nil
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	close(d.results)
}

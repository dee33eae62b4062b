package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"reconcile/internal/reconcile"
)

// Authority is a scripted authority service backed by httptest.
type Authority struct {
	URL string

	mu      sync.Mutex
	results map[string][]reconcile.Candidate
	fail    map[string]int
	queries []string
	hook    func(query string)
}

// NewAuthority starts a fake authority. Queries without a scripted result
// return an empty candidate list.
func NewAuthority(t testing.TB) *Authority {
	t.Helper()

	a := &Authority{results: map[string][]reconcile.Candidate{}, fail: map[string]int{}}
	server := httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(server.Close)
	a.URL = server.URL
	return a
}

// Respond scripts the candidates returned for query.
func (a *Authority) Respond(query string, candidates ...reconcile.Candidate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[query] = candidates
}

// FailWith makes every request for query answer with status.
func (a *Authority) FailWith(query string, status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail[query] = status
}

// OnQuery registers a callback run before each response.
func (a *Authority) OnQuery(fn func(query string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hook = fn
}

// Queries returns the queries received so far.
func (a *Authority) Queries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.queries...)
}

func (a *Authority) serve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	a.mu.Lock()
	a.queries = append(a.queries, query)
	status, failing := a.fail[query]
	candidates := a.results[query]
	hook := a.hook
	a.mu.Unlock()

	if hook != nil {
		hook(query)
	}
	if failing {
		http.Error(w, "scripted failure", status)
		return
	}
	if candidates == nil {
		candidates = []reconcile.Candidate{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"candidates": candidates})
}

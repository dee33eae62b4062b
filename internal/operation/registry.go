package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reconcile/internal/logging"
	"reconcile/internal/metrics"
)

const defaultRetained = 128

// Registry hands out trackers and enforces one active operation per key.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	active   map[Key]string
	finished []string
	retained int

	store   Store
	clock   func() time.Time
	newID   func() string
	logger  *slog.Logger
	metrics *metrics.Collector
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStore persists snapshots at start and on terminal transitions.
func WithStore(store Store) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithIDGenerator overrides operation ID allocation.
func WithIDGenerator(fn func() string) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logging.NewComponentLogger(logger, "operations")
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) RegistryOption {
	return func(r *Registry) { r.metrics = collector }
}

// WithRetained bounds how many finished trackers stay in memory.
func WithRetained(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.retained = n
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		trackers: make(map[string]*Tracker),
		active:   make(map[Key]string),
		retained: defaultRetained,
		clock:    time.Now,
		newID:    uuid.NewString,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start allocates a pending operation for key. It fails with *ActiveError
// when another operation for the same key has not finished.
func (r *Registry) Start(ctx context.Context, key Key, message string) (*Tracker, error) {
	key.Entity = strings.TrimSpace(key.Entity)
	key.TargetField = strings.TrimSpace(key.TargetField)
	if key.Entity == "" || key.TargetField == "" {
		return nil, errors.New("entity and target field are required")
	}

	r.mu.Lock()
	if id, ok := r.active[key]; ok {
		r.mu.Unlock()
		return nil, &ActiveError{Key: key, OperationID: id}
	}
	id := r.newID()
	tracker := newTracker(id, key, message, r.clock, func(final Operation) {
		r.finish(final)
	})
	r.trackers[id] = tracker
	r.active[key] = id
	r.mu.Unlock()

	r.metrics.OperationStarted()
	r.persist(ctx, tracker.Snapshot())
	r.logger.Info("operation started",
		logging.String(logging.FieldOperationID, id),
		logging.String(logging.FieldEntity, key.Entity),
		logging.String(logging.FieldTargetField, key.TargetField),
	)
	return tracker, nil
}

func (r *Registry) finish(final Operation) {
	r.mu.Lock()
	if r.active[final.Key()] == final.ID {
		delete(r.active, final.Key())
	}
	r.finished = append(r.finished, final.ID)
	for len(r.finished) > r.retained {
		delete(r.trackers, r.finished[0])
		r.finished = r.finished[1:]
	}
	r.mu.Unlock()

	r.metrics.OperationFinished(string(final.Status))
	r.persist(context.Background(), final)

	attrs := []logging.Attr{
		logging.String(logging.FieldOperationID, final.ID),
		logging.String(logging.FieldEntity, final.Entity),
		logging.String(logging.FieldTargetField, final.TargetField),
		logging.String("status", string(final.Status)),
		logging.Int("current", final.Current),
		logging.Int("total", final.Total),
		logging.Float64("elapsed_seconds", final.ElapsedSeconds),
	}
	if final.Status == StatusFailed {
		logging.ErrorWithContext(r.logger, "operation failed", "operation_failed",
			append(attrs, logging.String("error", final.Error),
				logging.String(logging.FieldErrorHint, "check authority availability and rerun"))...)
		return
	}
	r.logger.Info("operation finished", logging.Args(attrs...)...)
}

func (r *Registry) persist(ctx context.Context, op Operation) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveOperation(ctx, op); err != nil {
		logging.WarnWithContext(r.logger, "persist operation snapshot", "operation_persist_failed",
			logging.String(logging.FieldOperationID, op.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "operation history may be stale after restart"),
		)
	}
}

// Get returns the in-memory tracker for id.
func (r *Registry) Get(id string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tracker, ok := r.trackers[id]
	return tracker, ok
}

// Active returns the tracker currently pending or running for key.
func (r *Registry) Active(key Key) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[key]
	if !ok {
		return nil, false
	}
	tracker, ok := r.trackers[id]
	return tracker, ok
}

// IsActive reports whether an operation is pending or running for key.
func (r *Registry) IsActive(key Key) bool {
	_, ok := r.Active(key)
	return ok
}

// Lookup returns the latest snapshot for id from memory or the store.
func (r *Registry) Lookup(ctx context.Context, id string) (Operation, error) {
	if tracker, ok := r.Get(id); ok {
		return tracker.Snapshot(), nil
	}
	if r.store != nil {
		op, err := r.store.GetOperation(ctx, id)
		if err != nil {
			return Operation{}, fmt.Errorf("load operation %s: %w", id, err)
		}
		if op != nil {
			return *op, nil
		}
	}
	return Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Cancel cancels id. Unknown IDs fail with ErrNotFound; terminal operations
// are returned unchanged.
func (r *Registry) Cancel(ctx context.Context, id string) (Operation, error) {
	tracker, ok := r.Get(id)
	if !ok {
		return r.Lookup(ctx, id)
	}
	snapshot, changed := tracker.Cancel()
	if changed {
		r.logger.Info("operation cancel requested",
			logging.String(logging.FieldOperationID, id),
			logging.Int("current", snapshot.Current),
			logging.Int("total", snapshot.Total),
		)
	}
	return snapshot, nil
}

// List returns snapshots of every tracker held in memory, newest first.
func (r *Registry) List() []Operation {
	r.mu.Lock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, tracker := range r.trackers {
		trackers = append(trackers, tracker)
	}
	r.mu.Unlock()

	out := make([]Operation, 0, len(trackers))
	for _, tracker := range trackers {
		out = append(out, tracker.Snapshot())
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].StartedAt.Equal(ops[j].StartedAt) {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].StartedAt.After(ops[j].StartedAt)
	})
}

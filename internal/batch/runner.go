// Package batch drives a reconciliation pass over every row of an entity
// field: look up candidates, classify, auto-accept, and report progress
// through an operation tracker.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"reconcile/internal/authority"
	"reconcile/internal/config"
	"reconcile/internal/logging"
	"reconcile/internal/metrics"
	"reconcile/internal/operation"
	"reconcile/internal/reconcile"
	"reconcile/internal/store"
)

// Rows is the slice of the mapping store a batch run needs.
type Rows interface {
	LoadRows(ctx context.Context, entity, field string) ([]reconcile.PreviewRow, error)
	SaveCandidates(ctx context.Context, entity, field, sourceValue string, candidates []reconcile.Candidate) error
	UpdateMapping(ctx context.Context, entity, field string, update store.MappingUpdate) (store.MappingResult, error)
}

// Request names what to reconcile and with which thresholds.
type Request struct {
	Entity      string               `json:"entity"`
	TargetField string               `json:"target_field"`
	Thresholds  reconcile.Thresholds `json:"thresholds"`
}

// Key returns the operation key for the request.
func (r Request) Key() operation.Key {
	return operation.Key{Entity: r.Entity, TargetField: r.TargetField}
}

// Runner executes batch passes.
type Runner struct {
	rows        Rows
	searcher    authority.Searcher
	registry    *operation.Registry
	concurrency int
	minLength   int
	tieBreak    string
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds the number of lookups in flight.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithTieBreak selects the ordering of equally scored candidates.
func WithTieBreak(policy string) Option {
	return func(r *Runner) { r.tieBreak = policy }
}

// WithMinQueryLength sets the shortest source value that is looked up.
func WithMinQueryLength(n int) Option {
	return func(r *Runner) {
		if n > r.minLength {
			r.minLength = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logging.NewComponentLogger(logger, "batch")
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = collector }
}

// NewRunner constructs a Runner.
func NewRunner(rows Rows, searcher authority.Searcher, registry *operation.Registry, opts ...Option) *Runner {
	r := &Runner{
		rows:        rows,
		searcher:    searcher,
		registry:    registry,
		concurrency: 1,
		minLength:   config.MinSearchLength,
		tieBreak:    config.TieBreakNone,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OptionsFromConfig maps the [reconcile] section onto runner options.
func OptionsFromConfig(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	return []Option{
		WithConcurrency(cfg.Reconcile.Concurrency),
		WithTieBreak(cfg.Reconcile.TieBreak),
		WithMinQueryLength(cfg.Reconcile.SearchMinLength),
	}
}

// Start registers an operation for req and runs it in the background until
// it finishes or ctx ends. It fails with operation.ErrActive when the key is
// already being reconciled.
func (r *Runner) Start(ctx context.Context, req Request) (*operation.Tracker, error) {
	if err := req.Thresholds.Validate(); err != nil {
		return nil, err
	}
	tracker, err := r.registry.Start(ctx, req.Key(), "queued")
	if err != nil {
		return nil, err
	}
	go r.Run(ctx, tracker, req)
	return tracker, nil
}

type tally struct {
	mu             sync.Mutex
	summary        reconcile.Summary
	cascadeBlocked int
	sampler        *logging.ProgressSampler
}

// Run executes the pass synchronously. The first row error fails the whole
// operation; rows already written stay written.
func (r *Runner) Run(ctx context.Context, tracker *operation.Tracker, req Request) {
	logger := logging.WithContext(
		logging.WithEntityField(logging.WithOperationID(ctx, tracker.ID()), req.Entity, req.TargetField),
		r.logger,
	)

	rows, err := r.rows.LoadRows(ctx, req.Entity, req.TargetField)
	if err != nil {
		tracker.Fail(fmt.Errorf("load rows: %w", err))
		return
	}
	if !tracker.Begin(len(rows), fmt.Sprintf("reconciling %d rows", len(rows))) {
		return
	}
	logger.Info("batch run started", logging.Int("rows", len(rows)), logging.Int("concurrency", r.concurrency))

	t := &tally{sampler: logging.NewProgressSampler(10)}
	var (
		group   errgroup.Group
		stopped atomic.Bool
	)
	group.SetLimit(r.concurrency)

	for _, row := range rows {
		row := row
		if stopped.Load() || tracker.Cancelled() || ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			if stopped.Load() || tracker.Cancelled() {
				return nil
			}
			if err := r.processRow(ctx, tracker, req, row, t, logger); err != nil {
				stopped.Store(true)
				return err
			}
			return nil
		})
	}
	err = group.Wait()

	switch {
	case err != nil:
		logging.ErrorWithContext(logger, "batch run failed", "batch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, errorHint(err)),
		)
		tracker.Fail(err)
	case tracker.Cancelled():
		snapshot := tracker.Snapshot()
		logger.Info("batch run cancelled", logging.Int("current", snapshot.Current), logging.Int("total", snapshot.Total))
	case ctx.Err() != nil:
		tracker.Fail(fmt.Errorf("batch run interrupted: %w", ctx.Err()))
	default:
		t.mu.Lock()
		metadata := t.summary.Metadata()
		metadata["cascade_blocked"] = t.cascadeBlocked
		summary := t.summary
		t.mu.Unlock()
		tracker.Complete(fmt.Sprintf("reconciled %d rows", summary.Total), metadata)
		logger.Info("batch run completed",
			logging.Int("auto_accepted", summary.AutoAccepted),
			logging.Int("needs_review", summary.NeedsReview),
			logging.Int("unmatched", summary.Unmatched),
			logging.Int("will_not_match", summary.WillNotMatch),
		)
	}
}

func (r *Runner) processRow(ctx context.Context, tracker *operation.Tracker, req Request, row reconcile.PreviewRow, t *tally, logger *slog.Logger) error {
	status, blocked, err := r.classifyRow(ctx, tracker, req, row, logger)
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}
	r.metrics.RowClassified(string(status))

	t.mu.Lock()
	t.summary.Add(status)
	if blocked {
		t.cascadeBlocked++
	}
	t.mu.Unlock()

	if tracker.Advance(fmt.Sprintf("%s: %s", row.SourceValue, status)) {
		snapshot := tracker.Snapshot()
		t.mu.Lock()
		emit := t.sampler.ShouldLog(snapshot.ProgressPercent, "lookup")
		t.mu.Unlock()
		if emit {
			logger.Info("batch progress",
				logging.Int("current", snapshot.Current),
				logging.Int("total", snapshot.Total),
				logging.Float64("percent", snapshot.ProgressPercent),
			)
		}
	}
	return nil
}

// classifyRow returns an empty status when the result must be dropped
// because the operation was cancelled while the lookup was in flight.
func (r *Runner) classifyRow(ctx context.Context, tracker *operation.Tracker, req Request, row reconcile.PreviewRow, logger *slog.Logger) (reconcile.Status, bool, error) {
	if row.WillNotMatch {
		return reconcile.StatusWillNotMatch, false, nil
	}

	query, err := authority.ValidateQuery(row.SourceValue, r.minLength)
	if err != nil {
		return req.Thresholds.ClassifyRow(reconcile.PreviewRow{Confidence: row.Confidence}), false, nil
	}
	candidates, err := r.searcher.Search(ctx, query)
	if err != nil {
		return "", false, fmt.Errorf("lookup %q: %w", row.SourceValue, err)
	}
	if tracker.Cancelled() {
		return "", false, nil
	}
	if r.tieBreak == config.TieBreakName {
		candidates = reconcile.SortCandidates(candidates)
	}
	if err := r.rows.SaveCandidates(ctx, req.Entity, req.TargetField, row.SourceValue, candidates); err != nil {
		return "", false, fmt.Errorf("save candidates for %q: %w", row.SourceValue, err)
	}

	row.Candidates = candidates
	status := req.Thresholds.ClassifyRow(row)
	if status != reconcile.StatusAutoAccepted || row.TargetID != nil || len(candidates) == 0 {
		return status, false, nil
	}

	top := candidates[0]
	id, err := reconcile.ParseIdentifier(top.ID)
	if err != nil {
		return "", false, fmt.Errorf("auto-accept %q: %w", row.SourceValue, err)
	}
	confidence := top.Confidence()
	_, err = r.rows.UpdateMapping(ctx, req.Entity, req.TargetField, store.MappingUpdate{
		SourceValue: row.SourceValue,
		TargetID:    &id,
		MatchedName: top.Name,
		Confidence:  &confidence,
		Notes:       row.Notes,
	})
	var cascadeErr *store.CascadeError
	switch {
	case errors.As(err, &cascadeErr):
		r.metrics.MappingWrite("conflict")
		logging.WarnWithContext(logger, "auto-accept deferred to review", "auto_accept_cascade_blocked",
			logging.String(logging.FieldSourceValue, row.SourceValue),
			logging.Any("affected_entities", cascadeErr.AffectedEntities),
			logging.String(logging.FieldErrorHint, "accept manually with cascade to unmaterialize dependents"),
			logging.String(logging.FieldImpact, "row left for review"),
		)
		return reconcile.StatusNeedsReview, true, nil
	case err != nil:
		r.metrics.MappingWrite("error")
		return "", false, fmt.Errorf("auto-accept %q: %w", row.SourceValue, err)
	}
	r.metrics.MappingWrite("changed")
	return status, false, nil
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, authority.ErrUnavailable):
		return "check authority base_url and service health, then rerun"
	case errors.Is(err, reconcile.ErrMalformedReference):
		return "the authority returned a candidate without a usable identifier"
	default:
		return "check logs for details and rerun"
	}
}

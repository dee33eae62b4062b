package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"reconcile/internal/authority"
	"reconcile/internal/config"
	"reconcile/internal/logging"
	"reconcile/internal/metrics"
	"reconcile/internal/operation"
	"reconcile/internal/reconcile"
	"reconcile/internal/store"
)

var (
	// ErrBatchActive is returned for writes attempted while a batch run owns the rows.
	ErrBatchActive = errors.New("a batch run is active for this entity field")
	// ErrCandidateNotFound is returned when an alternative search does not
	// contain the chosen candidate.
	ErrCandidateNotFound = errors.New("candidate not found in search results")
)

// Store is the persistence the coordinator works against.
type Store interface {
	LoadRows(ctx context.Context, entity, field string) ([]reconcile.PreviewRow, error)
	GetRow(ctx context.Context, entity, field, sourceValue string) (*reconcile.PreviewRow, error)
	UpdateMapping(ctx context.Context, entity, field string, update store.MappingUpdate) (store.MappingResult, error)
	GetSpec(ctx context.Context, entity, field string) (*reconcile.EntitySpec, error)
	SaveSpec(ctx context.Context, spec reconcile.EntitySpec) error
}

// Coordinator applies operator decisions to the mapping store.
type Coordinator struct {
	store         Store
	searcher      authority.Searcher
	registry      *operation.Registry
	defaults      reconcile.Thresholds
	unmatchedNote string
	minLength     int
	tieBreak      string
	logger        *slog.Logger
	metrics       *metrics.Collector
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRegistry enables the active-batch guard.
func WithRegistry(registry *operation.Registry) Option {
	return func(c *Coordinator) { c.registry = registry }
}

// WithDefaultThresholds sets the thresholds used when no spec is stored.
func WithDefaultThresholds(t reconcile.Thresholds) Option {
	return func(c *Coordinator) { c.defaults = t }
}

// WithUnmatchedNote sets the note recorded when will-not-match is marked without one.
func WithUnmatchedNote(note string) Option {
	return func(c *Coordinator) {
		if strings.TrimSpace(note) != "" {
			c.unmatchedNote = note
		}
	}
}

// WithMinQueryLength raises the free-text search floor.
func WithMinQueryLength(n int) Option {
	return func(c *Coordinator) {
		if n > c.minLength {
			c.minLength = n
		}
	}
}

// WithTieBreak selects how bulk accept orders equally scored candidates.
func WithTieBreak(policy string) Option {
	return func(c *Coordinator) { c.tieBreak = policy }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logging.NewComponentLogger(logger, "review")
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = collector }
}

// OptionsFromConfig maps the [reconcile] section onto coordinator options.
func OptionsFromConfig(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	r := cfg.Reconcile
	return []Option{
		WithDefaultThresholds(reconcile.Thresholds{AutoAccept: r.AutoAcceptThreshold, Review: r.ReviewThreshold}),
		WithUnmatchedNote(r.DefaultUnmatchedNote),
		WithMinQueryLength(r.SearchMinLength),
		WithTieBreak(r.TieBreak),
	}
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(st Store, searcher authority.Searcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         st,
		searcher:      searcher,
		defaults:      reconcile.Thresholds{AutoAccept: 0.95, Review: 0.70},
		unmatchedNote: "No matching record in authority",
		minLength:     config.MinSearchLength,
		tieBreak:      config.TieBreakNone,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) guard(key operation.Key) error {
	if c.registry != nil && c.registry.IsActive(key) {
		return fmt.Errorf("%w: %s", ErrBatchActive, key)
	}
	return nil
}

func (c *Coordinator) row(ctx context.Context, key operation.Key, sourceValue string) (*reconcile.PreviewRow, error) {
	row, err := c.store.GetRow(ctx, key.Entity, key.TargetField, sourceValue)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %q", store.ErrRowNotFound, sourceValue)
	}
	return row, nil
}

func (c *Coordinator) write(ctx context.Context, key operation.Key, update store.MappingUpdate) (store.MappingResult, error) {
	result, err := c.store.UpdateMapping(ctx, key.Entity, key.TargetField, update)
	var cascadeErr *store.CascadeError
	switch {
	case errors.As(err, &cascadeErr):
		c.metrics.MappingWrite("conflict")
	case err != nil:
		c.metrics.MappingWrite("error")
	case result.Changed:
		c.metrics.MappingWrite("changed")
	default:
		c.metrics.MappingWrite("noop")
	}
	if len(result.Unmaterialized) > 0 {
		c.logger.Info("cascade unmaterialized dependents",
			logging.String(logging.FieldEntity, key.Entity),
			logging.String(logging.FieldSourceValue, update.SourceValue),
			logging.Any("entities", result.Unmaterialized),
		)
	}
	return result, err
}

// Search runs a free-text candidate query. Queries shorter than the minimum
// length fail with authority.ErrQueryTooShort without reaching the authority.
func (c *Coordinator) Search(ctx context.Context, query string) ([]reconcile.Candidate, error) {
	trimmed, err := authority.ValidateQuery(query, c.minLength)
	if err != nil {
		return nil, err
	}
	return c.searcher.Search(ctx, trimmed)
}

// FetchCandidates searches for a row, using its source value when query is
// empty. The row is not modified.
func (c *Coordinator) FetchCandidates(ctx context.Context, key operation.Key, sourceValue, query string) ([]reconcile.Candidate, error) {
	row, err := c.row(ctx, key, sourceValue)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		query = row.SourceValue
	}
	return c.Search(ctx, query)
}

// Accept maps a row to candidate. The candidate reference must yield an
// identifier; the row's notes are kept and will-not-match is cleared.
func (c *Coordinator) Accept(ctx context.Context, key operation.Key, sourceValue string, candidate reconcile.Candidate, cascade bool) (store.MappingResult, error) {
	if err := c.guard(key); err != nil {
		return store.MappingResult{}, err
	}
	row, err := c.row(ctx, key, sourceValue)
	if err != nil {
		return store.MappingResult{}, err
	}
	return c.accept(ctx, key, *row, candidate, cascade)
}

func (c *Coordinator) accept(ctx context.Context, key operation.Key, row reconcile.PreviewRow, candidate reconcile.Candidate, cascade bool) (store.MappingResult, error) {
	id, err := reconcile.ParseIdentifier(candidate.ID)
	if err != nil {
		return store.MappingResult{}, err
	}
	confidence := candidate.Confidence()
	result, err := c.write(ctx, key, store.MappingUpdate{
		SourceValue: row.SourceValue,
		TargetID:    &id,
		MatchedName: candidate.Name,
		Confidence:  &confidence,
		Notes:       row.Notes,
		Cascade:     cascade,
	})
	if err != nil {
		return result, err
	}
	if result.Changed {
		c.logger.Info("candidate accepted",
			logging.String(logging.FieldEntity, key.Entity),
			logging.String(logging.FieldTargetField, key.TargetField),
			logging.String(logging.FieldSourceValue, row.SourceValue),
			logging.String("target_id", id.String()),
			logging.Float64("confidence", confidence),
		)
	}
	return result, nil
}

// Reject records that the operator declined candidate. Nothing is persisted.
func (c *Coordinator) Reject(ctx context.Context, key operation.Key, sourceValue string, candidate reconcile.Candidate) error {
	row, err := c.row(ctx, key, sourceValue)
	if err != nil {
		return err
	}
	c.metrics.CandidateRejected()
	c.logger.Info("candidate rejected",
		logging.String(logging.FieldEventType, "candidate_rejected"),
		logging.String(logging.FieldEntity, key.Entity),
		logging.String(logging.FieldTargetField, key.TargetField),
		logging.String(logging.FieldSourceValue, row.SourceValue),
		logging.String("candidate_id", candidate.ID),
		logging.Float64("score", candidate.Score),
	)
	return nil
}

// MarkWillNotMatch flags a row as having no counterpart. Any accepted target
// and stored candidates are cleared. The mark never fails on a cascade
// conflict: dependents materialized from the old target are unmaterialized in
// the same write and reported in the result.
func (c *Coordinator) MarkWillNotMatch(ctx context.Context, key operation.Key, sourceValue string, notes *string) (store.MappingResult, error) {
	if err := c.guard(key); err != nil {
		return store.MappingResult{}, err
	}
	row, err := c.row(ctx, key, sourceValue)
	if err != nil {
		return store.MappingResult{}, err
	}
	if notes == nil || strings.TrimSpace(*notes) == "" {
		note := c.unmatchedNote
		notes = &note
	}
	result, err := c.write(ctx, key, store.MappingUpdate{
		SourceValue:     row.SourceValue,
		Notes:           notes,
		WillNotMatch:    true,
		ClearCandidates: true,
		Cascade:         true,
	})
	if err == nil && len(result.Unmaterialized) > 0 {
		logging.WarnWithContext(c.logger, "will-not-match unmaterialized dependents", "will_not_match_cascade",
			logging.String(logging.FieldEntity, key.Entity),
			logging.String(logging.FieldTargetField, key.TargetField),
			logging.String(logging.FieldSourceValue, row.SourceValue),
			logging.Any("entities", result.Unmaterialized),
			logging.String(logging.FieldErrorHint, "re-materialize the listed entities once their data is settled"),
			logging.String(logging.FieldImpact, "dependent entities are no longer materialized"),
		)
	}
	return result, err
}

// ClearWillNotMatch returns a flagged row to the unmatched pool so later
// batch runs look it up again.
func (c *Coordinator) ClearWillNotMatch(ctx context.Context, key operation.Key, sourceValue string, cascade bool) (store.MappingResult, error) {
	if err := c.guard(key); err != nil {
		return store.MappingResult{}, err
	}
	row, err := c.row(ctx, key, sourceValue)
	if err != nil {
		return store.MappingResult{}, err
	}
	if !row.WillNotMatch {
		return store.MappingResult{}, nil
	}
	return c.write(ctx, key, store.MappingUpdate{
		SourceValue: row.SourceValue,
		Notes:       row.Notes,
		Cascade:     cascade,
	})
}

// AcceptAlternative searches with a free-text query and accepts the result
// whose reference equals candidateID.
func (c *Coordinator) AcceptAlternative(ctx context.Context, key operation.Key, sourceValue, query, candidateID string, cascade bool) (store.MappingResult, error) {
	if err := c.guard(key); err != nil {
		return store.MappingResult{}, err
	}
	row, err := c.row(ctx, key, sourceValue)
	if err != nil {
		return store.MappingResult{}, err
	}
	candidates, err := c.Search(ctx, query)
	if err != nil {
		return store.MappingResult{}, err
	}
	for _, candidate := range candidates {
		if candidate.ID == candidateID {
			return c.accept(ctx, key, *row, candidate, cascade)
		}
	}
	return store.MappingResult{}, fmt.Errorf("%w: %s", ErrCandidateNotFound, candidateID)
}

// MappingRequest is a direct mapping edit. A nil TargetID clears the target.
// A nil Notes keeps the stored notes.
type MappingRequest struct {
	SourceValue string  `json:"source_value"`
	TargetID    *string `json:"target_id"`
	Notes       *string `json:"notes,omitempty"`
	Cascade     bool    `json:"cascade,omitempty"`
}

// UpdateMapping applies a direct edit. When the target matches one of the
// row's candidates its name and score are recorded with it.
func (c *Coordinator) UpdateMapping(ctx context.Context, key operation.Key, req MappingRequest) (store.MappingResult, error) {
	if err := c.guard(key); err != nil {
		return store.MappingResult{}, err
	}
	row, err := c.row(ctx, key, req.SourceValue)
	if err != nil {
		return store.MappingResult{}, err
	}
	update := store.MappingUpdate{
		SourceValue:  row.SourceValue,
		Notes:        row.Notes,
		WillNotMatch: row.WillNotMatch,
		Cascade:      req.Cascade,
	}
	if req.Notes != nil {
		update.Notes = req.Notes
	}
	if req.TargetID != nil && strings.TrimSpace(*req.TargetID) != "" {
		id, err := reconcile.ParseIdentifier(*req.TargetID)
		if err != nil {
			return store.MappingResult{}, err
		}
		update.TargetID = &id
		update.WillNotMatch = false
		for _, candidate := range row.Candidates {
			if parsed, err := reconcile.ParseIdentifier(candidate.ID); err == nil && parsed == id {
				confidence := candidate.Confidence()
				update.MatchedName = candidate.Name
				update.Confidence = &confidence
				break
			}
		}
	}
	return c.write(ctx, key, update)
}

// Thresholds returns the stored thresholds for key, or the defaults.
func (c *Coordinator) Thresholds(ctx context.Context, key operation.Key) (reconcile.Thresholds, error) {
	spec, err := c.Spec(ctx, key)
	if err != nil {
		return reconcile.Thresholds{}, err
	}
	return spec.Thresholds, nil
}

// Spec returns the stored spec for key, or a spec carrying the default thresholds.
func (c *Coordinator) Spec(ctx context.Context, key operation.Key) (reconcile.EntitySpec, error) {
	spec, err := c.store.GetSpec(ctx, key.Entity, key.TargetField)
	if err != nil {
		return reconcile.EntitySpec{}, err
	}
	if spec == nil {
		return reconcile.EntitySpec{
			Entity:           key.Entity,
			TargetField:      key.TargetField,
			Thresholds:       c.defaults,
			PropertyMappings: map[string]string{},
		}, nil
	}
	return *spec, nil
}

// UpdateSpec stores thresholds and property mappings. Classification of the
// row set follows immediately; no candidates are re-queried.
func (c *Coordinator) UpdateSpec(ctx context.Context, spec reconcile.EntitySpec) error {
	if err := spec.Thresholds.Validate(); err != nil {
		return err
	}
	if err := c.store.SaveSpec(ctx, spec); err != nil {
		return err
	}
	c.logger.Info("entity spec updated",
		logging.String(logging.FieldEntity, spec.Entity),
		logging.String(logging.FieldTargetField, spec.TargetField),
		logging.Float64("auto_accept_threshold", spec.Thresholds.AutoAccept),
		logging.Float64("review_threshold", spec.Thresholds.Review),
	)
	return nil
}

// RowsResult is a classified projection of the row set.
type RowsResult struct {
	Thresholds reconcile.Thresholds      `json:"thresholds"`
	Summary    reconcile.Summary         `json:"summary"`
	Rows       []reconcile.ClassifiedRow `json:"rows"`
}

// Rows classifies the row set with override, or the stored thresholds when
// override is nil, and filters it. The summary covers every row.
func (c *Coordinator) Rows(ctx context.Context, key operation.Key, override *reconcile.Thresholds, filter reconcile.Filter) (RowsResult, error) {
	thresholds, err := c.Thresholds(ctx, key)
	if err != nil {
		return RowsResult{}, err
	}
	if override != nil {
		if err := override.Validate(); err != nil {
			return RowsResult{}, err
		}
		thresholds = *override
	}
	rows, err := c.store.LoadRows(ctx, key.Entity, key.TargetField)
	if err != nil {
		return RowsResult{}, err
	}
	return RowsResult{
		Thresholds: thresholds,
		Summary:    reconcile.Summarize(rows, thresholds),
		Rows:       reconcile.View(rows, thresholds, filter),
	}, nil
}

// Export writes the classified row set as CSV.
func (c *Coordinator) Export(ctx context.Context, key operation.Key, w io.Writer) error {
	spec, err := c.Spec(ctx, key)
	if err != nil {
		return err
	}
	rows, err := c.store.LoadRows(ctx, key.Entity, key.TargetField)
	if err != nil {
		return err
	}
	return reconcile.WriteCSV(w, rows, spec)
}

package review

import (
	"context"
	"errors"
	"slices"

	"reconcile/internal/config"
	"reconcile/internal/logging"
	"reconcile/internal/operation"
	"reconcile/internal/reconcile"
	"reconcile/internal/store"
)

// BulkFailure is a row a bulk action could not apply.
type BulkFailure struct {
	SourceValue string `json:"source_value"`
	Error       string `json:"error"`
}

// BulkResult reports the per-row outcome of a bulk action.
type BulkResult struct {
	Actioned []string      `json:"actioned"`
	Skipped  []string      `json:"skipped"`
	Failed   []BulkFailure `json:"failed"`
	// RequiresCascade is set when at least one row failed because
	// materialized dependents would be orphaned.
	RequiresCascade  bool     `json:"requires_cascade"`
	AffectedEntities []string `json:"affected_entities,omitempty"`
}

func newBulkResult() BulkResult {
	return BulkResult{Actioned: []string{}, Skipped: []string{}, Failed: []BulkFailure{}}
}

func (r *BulkResult) fail(sourceValue string, err error) {
	r.Failed = append(r.Failed, BulkFailure{SourceValue: sourceValue, Error: err.Error()})
	var cascadeErr *store.CascadeError
	if errors.As(err, &cascadeErr) {
		r.RequiresCascade = true
		for _, name := range cascadeErr.AffectedEntities {
			if !slices.Contains(r.AffectedEntities, name) {
				r.AffectedEntities = append(r.AffectedEntities, name)
			}
		}
		slices.Sort(r.AffectedEntities)
	}
}

// BulkAccept accepts the top candidate of every selected row. Rows without
// candidates and rows flagged will-not-match are skipped. Rows are applied
// one by one; a failed row does not undo earlier ones.
func (c *Coordinator) BulkAccept(ctx context.Context, key operation.Key, sourceValues []string, cascade bool) (BulkResult, error) {
	if err := c.guard(key); err != nil {
		return BulkResult{}, err
	}
	result := newBulkResult()
	for _, value := range sourceValues {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		row, err := c.row(ctx, key, value)
		if err != nil {
			if errors.Is(err, store.ErrRowNotFound) {
				result.fail(value, err)
				continue
			}
			return result, err
		}
		if row.WillNotMatch || len(row.Candidates) == 0 {
			result.Skipped = append(result.Skipped, value)
			continue
		}
		candidates := row.Candidates
		if c.tieBreak == config.TieBreakName {
			candidates = reconcile.SortCandidates(candidates)
		}
		if _, err := c.accept(ctx, key, *row, candidates[0], cascade); err != nil {
			result.fail(value, err)
			continue
		}
		result.Actioned = append(result.Actioned, value)
	}
	c.logBulk("bulk accept", key, result)
	return result, nil
}

// BulkReject clears target, confidence and candidates for every selected
// row. The will-not-match flag is left as it is.
func (c *Coordinator) BulkReject(ctx context.Context, key operation.Key, sourceValues []string, cascade bool) (BulkResult, error) {
	if err := c.guard(key); err != nil {
		return BulkResult{}, err
	}
	result := newBulkResult()
	for _, value := range sourceValues {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		row, err := c.row(ctx, key, value)
		if err != nil {
			if errors.Is(err, store.ErrRowNotFound) {
				result.fail(value, err)
				continue
			}
			return result, err
		}
		_, err = c.write(ctx, key, store.MappingUpdate{
			SourceValue:     row.SourceValue,
			Notes:           row.Notes,
			WillNotMatch:    row.WillNotMatch,
			ClearCandidates: true,
			Cascade:         cascade,
		})
		if err != nil {
			result.fail(value, err)
			continue
		}
		result.Actioned = append(result.Actioned, value)
	}
	c.logBulk("bulk reject", key, result)
	return result, nil
}

func (c *Coordinator) logBulk(msg string, key operation.Key, result BulkResult) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEntity, key.Entity),
		logging.String(logging.FieldTargetField, key.TargetField),
		logging.Int("actioned", len(result.Actioned)),
		logging.Int("skipped", len(result.Skipped)),
		logging.Int("failed", len(result.Failed)),
	}
	if result.RequiresCascade {
		logging.WarnWithContext(c.logger, msg+" blocked by materialized dependents", "bulk_cascade_required",
			append(attrs,
				logging.Any("affected_entities", result.AffectedEntities),
				logging.String(logging.FieldErrorHint, "retry with cascade to unmaterialize dependents"),
			)...,
		)
		return
	}
	c.logger.Info(msg, logging.Args(attrs...)...)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reconcile/internal/reconcile"
)

// MappingUpdate replaces the mapping for one source value.
type MappingUpdate struct {
	SourceValue  string
	TargetID     *reconcile.Identifier
	MatchedName  string
	Confidence   *float64
	Notes        *string
	WillNotMatch bool
	// ClearCandidates also empties the row's stored candidate set.
	ClearCandidates bool
	// Cascade unmaterializes affected dependents instead of refusing the write.
	Cascade bool
}

// MappingResult describes what a write did.
type MappingResult struct {
	Changed        bool     `json:"changed"`
	Unmaterialized []string `json:"unmaterialized,omitempty"`
}

type storedMapping struct {
	exists       bool
	targetID     *reconcile.Identifier
	matchedName  string
	confidence   *float64
	notes        *string
	willNotMatch bool
}

func (m storedMapping) equals(u MappingUpdate) bool {
	return m.exists &&
		equalIdentifier(m.targetID, u.TargetID) &&
		m.matchedName == u.MatchedName &&
		equalFloat(m.confidence, u.Confidence) &&
		equalString(m.notes, u.Notes) &&
		m.willNotMatch == u.WillNotMatch
}

// identityChanged reports whether the write changes what the row resolves to.
func (m storedMapping) identityChanged(u MappingUpdate) bool {
	return !equalIdentifier(m.targetID, u.TargetID) || m.willNotMatch != u.WillNotMatch
}

// UpdateMapping writes a mapping in a single transaction. Writes identical to
// the stored mapping are no-ops. A write that changes the target or the
// will-not-match flag fails with *CascadeError while materialized entities
// depend on entity, unless update.Cascade is set.
func (s *Store) UpdateMapping(ctx context.Context, entity, field string, update MappingUpdate) (MappingResult, error) {
	var result MappingResult
	update.MatchedName = reconcile.NormalizeNewlines(update.MatchedName)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = MappingResult{}
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM source_records WHERE entity = ? AND target_field = ? AND source_value = ?`,
			entity, field, update.SourceValue,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check source row: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s.%s %q", ErrRowNotFound, entity, field, update.SourceValue)
		}

		current, err := loadMapping(ctx, tx, entity, field, update.SourceValue)
		if err != nil {
			return err
		}
		candidatesPresent := false
		if update.ClearCandidates {
			if err := tx.QueryRowContext(ctx,
				`SELECT candidates_json IS NOT NULL AND candidates_json != '[]' FROM source_records
				 WHERE entity = ? AND target_field = ? AND source_value = ?`,
				entity, field, update.SourceValue,
			).Scan(&candidatesPresent); err != nil {
				return fmt.Errorf("check candidates: %w", err)
			}
		}
		if current.equals(update) && !candidatesPresent {
			return nil
		}
		if !current.exists && update.TargetID == nil && !update.WillNotMatch &&
			update.Notes == nil && update.Confidence == nil && !candidatesPresent {
			return nil
		}

		if current.identityChanged(update) {
			affected, err := materializedDependents(ctx, tx, entity)
			if err != nil {
				return err
			}
			if len(affected) > 0 {
				if !update.Cascade {
					return &CascadeError{Entity: entity, AffectedEntities: affected}
				}
				if err := unmaterializeAll(ctx, tx, affected); err != nil {
					return err
				}
				result.Unmaterialized = affected
			}
		}

		var targetID any
		if update.TargetID != nil {
			targetID = update.TargetID.String()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mappings (entity, target_field, source_value, target_id, matched_name, confidence, notes, will_not_match, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity, target_field, source_value) DO UPDATE SET
				target_id = excluded.target_id,
				matched_name = excluded.matched_name,
				confidence = excluded.confidence,
				notes = excluded.notes,
				will_not_match = excluded.will_not_match,
				updated_at = excluded.updated_at`,
			entity, field, update.SourceValue, targetID, nullableString(update.MatchedName),
			nullableFloat(update.Confidence), nullableStringPtr(update.Notes), boolToInt(update.WillNotMatch),
			formatTime(time.Now()),
		); err != nil {
			return fmt.Errorf("write mapping: %w", err)
		}
		if update.ClearCandidates {
			if _, err := tx.ExecContext(ctx,
				`UPDATE source_records SET candidates_json = '[]' WHERE entity = ? AND target_field = ? AND source_value = ?`,
				entity, field, update.SourceValue,
			); err != nil {
				return fmt.Errorf("clear candidates: %w", err)
			}
		}
		result.Changed = true
		return nil
	})
	return result, err
}

// GetMapping returns the stored mapping, or nil when none was written.
func (s *Store) GetMapping(ctx context.Context, entity, field, sourceValue string) (*reconcile.Mapping, error) {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	current, err := loadMapping(ctx, tx, entity, field, sourceValue)
	if err != nil || !current.exists {
		return nil, err
	}
	return &reconcile.Mapping{
		SourceValue:  sourceValue,
		TargetID:     current.targetID,
		MatchedName:  current.matchedName,
		Confidence:   current.confidence,
		Notes:        current.notes,
		WillNotMatch: current.willNotMatch,
	}, nil
}

func loadMapping(ctx context.Context, tx *sql.Tx, entity, field, sourceValue string) (storedMapping, error) {
	var (
		m            storedMapping
		targetID     sql.NullString
		matchedName  sql.NullString
		confidence   sql.NullFloat64
		notes        sql.NullString
		willNotMatch int
	)
	err := tx.QueryRowContext(ctx, `
		SELECT target_id, matched_name, confidence, notes, will_not_match
		FROM mappings WHERE entity = ? AND target_field = ? AND source_value = ?`,
		entity, field, sourceValue,
	).Scan(&targetID, &matchedName, &confidence, &notes, &willNotMatch)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("load mapping: %w", err)
	}
	m.exists = true
	if targetID.Valid {
		id := reconcile.Identifier(targetID.String)
		m.targetID = &id
	}
	m.matchedName = matchedName.String
	if confidence.Valid {
		v := confidence.Float64
		m.confidence = &v
	}
	if notes.Valid {
		v := notes.String
		m.notes = &v
	}
	m.willNotMatch = willNotMatch != 0
	return m, nil
}

func equalIdentifier(a, b *reconcile.Identifier) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reconcile/internal/reconcile"
)

// SaveSpec upserts the thresholds and property mappings for an entity field.
func (s *Store) SaveSpec(ctx context.Context, spec reconcile.EntitySpec) error {
	if spec.Entity == "" || spec.TargetField == "" {
		return errors.New("entity and target field are required")
	}
	if err := spec.Thresholds.Validate(); err != nil {
		return err
	}
	mappings := spec.PropertyMappings
	if mappings == nil {
		mappings = map[string]string{}
	}
	encoded, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("encode property mappings: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureEntity(ctx, tx, spec.Entity); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_specs (entity, target_field, auto_accept_threshold, review_threshold, property_mappings_json, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity, target_field) DO UPDATE SET
				auto_accept_threshold = excluded.auto_accept_threshold,
				review_threshold = excluded.review_threshold,
				property_mappings_json = excluded.property_mappings_json,
				updated_at = excluded.updated_at`,
			spec.Entity, spec.TargetField, spec.Thresholds.AutoAccept, spec.Thresholds.Review,
			string(encoded), formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("save spec: %w", err)
		}
		return nil
	})
}

// GetSpec returns the stored spec, or nil when none exists.
func (s *Store) GetSpec(ctx context.Context, entity, field string) (*reconcile.EntitySpec, error) {
	var (
		spec    = reconcile.EntitySpec{Entity: entity, TargetField: field}
		rawJSON string
	)
	err := s.db.QueryRowContext(ensureContext(ctx), `
		SELECT auto_accept_threshold, review_threshold, property_mappings_json
		FROM entity_specs WHERE entity = ? AND target_field = ?`, entity, field,
	).Scan(&spec.Thresholds.AutoAccept, &spec.Thresholds.Review, &rawJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get spec: %w", err)
	}
	if err := json.Unmarshal([]byte(rawJSON), &spec.PropertyMappings); err != nil {
		return nil, fmt.Errorf("decode property mappings: %w", err)
	}
	return &spec, nil
}

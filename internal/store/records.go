package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"reconcile/internal/reconcile"
)

// SourceRecord is one imported source row.
type SourceRecord struct {
	SourceValue string
	Key         []string
	Values      map[string]string
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Blank      int `json:"blank"`
}

// ImportRecords appends records for entity.field. Records sharing a source
// value collapse into the first one seen; blank source values are skipped.
func (s *Store) ImportRecords(ctx context.Context, entity, field string, records []SourceRecord) (ImportResult, error) {
	var result ImportResult
	if entity == "" || field == "" {
		return result, errors.New("entity and target field are required")
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = ImportResult{}
		if err := ensureEntity(ctx, tx, entity); err != nil {
			return err
		}
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM source_records WHERE entity = ? AND target_field = ?`,
			entity, field,
		).Scan(&next); err != nil {
			return fmt.Errorf("read next position: %w", err)
		}
		now := formatTime(time.Now())
		for _, record := range records {
			value := strings.TrimSpace(reconcile.NormalizeNewlines(record.SourceValue))
			if value == "" {
				result.Blank++
				continue
			}
			keyJSON, err := json.Marshal(normalizeKey(record.Key))
			if err != nil {
				return fmt.Errorf("encode key: %w", err)
			}
			valuesJSON, err := json.Marshal(normalizeValues(record.Values))
			if err != nil {
				return fmt.Errorf("encode values: %w", err)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO source_records (entity, target_field, source_value, position, key_json, values_json, imported_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(entity, target_field, source_value) DO NOTHING`,
				entity, field, value, next, string(keyJSON), string(valuesJSON), now,
			)
			if err != nil {
				return fmt.Errorf("insert source record %q: %w", value, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				result.Duplicates++
				continue
			}
			result.Inserted++
			next++
		}
		return nil
	})
	return result, err
}

const rowColumns = `r.source_value, r.key_json, r.values_json, r.candidates_json,
	m.target_id, m.matched_name, m.confidence, m.notes, COALESCE(m.will_not_match, 0)`

const rowFrom = `FROM source_records r
	LEFT JOIN mappings m ON m.entity = r.entity AND m.target_field = r.target_field AND m.source_value = r.source_value`

func scanRow(scanner interface{ Scan(dest ...any) error }) (reconcile.PreviewRow, error) {
	var (
		row          reconcile.PreviewRow
		keyJSON      string
		valuesJSON   string
		candidates   sql.NullString
		targetID     sql.NullString
		matchedName  sql.NullString
		confidence   sql.NullFloat64
		notes        sql.NullString
		willNotMatch int
	)
	if err := scanner.Scan(&row.SourceValue, &keyJSON, &valuesJSON, &candidates,
		&targetID, &matchedName, &confidence, &notes, &willNotMatch); err != nil {
		return row, err
	}
	if err := json.Unmarshal([]byte(keyJSON), &row.Key); err != nil {
		return row, fmt.Errorf("decode key for %q: %w", row.SourceValue, err)
	}
	if err := json.Unmarshal([]byte(valuesJSON), &row.Values); err != nil {
		return row, fmt.Errorf("decode values for %q: %w", row.SourceValue, err)
	}
	row.Candidates = []reconcile.Candidate{}
	if candidates.Valid && candidates.String != "" {
		if err := json.Unmarshal([]byte(candidates.String), &row.Candidates); err != nil {
			return row, fmt.Errorf("decode candidates for %q: %w", row.SourceValue, err)
		}
	}
	if targetID.Valid {
		id := reconcile.Identifier(targetID.String)
		row.TargetID = &id
	}
	row.MatchedName = matchedName.String
	if confidence.Valid {
		value := confidence.Float64
		row.Confidence = &value
	}
	if notes.Valid {
		value := notes.String
		row.Notes = &value
	}
	row.WillNotMatch = willNotMatch != 0
	return row, nil
}

// LoadRows returns every row for entity.field in import order.
func (s *Store) LoadRows(ctx context.Context, entity, field string) ([]reconcile.PreviewRow, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+rowColumns+` `+rowFrom+` WHERE r.entity = ? AND r.target_field = ? ORDER BY r.position`,
		entity, field,
	)
	if err != nil {
		return nil, fmt.Errorf("load rows: %w", err)
	}
	defer rows.Close()

	out := []reconcile.PreviewRow{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// GetRow returns one row, or nil when the source value is unknown.
func (s *Store) GetRow(ctx context.Context, entity, field, sourceValue string) (*reconcile.PreviewRow, error) {
	row, err := scanRow(s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+rowColumns+` `+rowFrom+` WHERE r.entity = ? AND r.target_field = ? AND r.source_value = ?`,
		entity, field, sourceValue,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get row: %w", err)
	}
	return &row, nil
}

// SaveCandidates replaces the last fetched candidate set for a row.
func (s *Store) SaveCandidates(ctx context.Context, entity, field, sourceValue string, candidates []reconcile.Candidate) error {
	encoded, err := json.Marshal(nonNilCandidates(candidates))
	if err != nil {
		return fmt.Errorf("encode candidates: %w", err)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE source_records SET candidates_json = ? WHERE entity = ? AND target_field = ? AND source_value = ?`,
		string(encoded), entity, field, sourceValue,
	)
	if err != nil {
		return fmt.Errorf("save candidates: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s.%s %q", ErrRowNotFound, entity, field, sourceValue)
	}
	return nil
}

func nonNilCandidates(values []reconcile.Candidate) []reconcile.Candidate {
	if values == nil {
		return []reconcile.Candidate{}
	}
	return values
}

func normalizeKey(values []string) []string {
	out := make([]string, len(values))
	for i, value := range values {
		out[i] = reconcile.NormalizeNewlines(value)
	}
	return out
}

func normalizeValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for column, value := range values {
		out[column] = reconcile.NormalizeNewlines(value)
	}
	return out
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reconcile/internal/operation"
)

var _ operation.Store = (*Store)(nil)

// interruptedMessage is recorded on operations the daemon abandoned.
const interruptedMessage = "daemon stopped before the operation finished"

// SaveOperation upserts an operation snapshot.
func (s *Store) SaveOperation(ctx context.Context, op operation.Operation) error {
	encoded, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation: %w", err)
	}
	_, err = s.execWithRetry(ctx, `
		INSERT INTO operations (id, entity, target_field, status, snapshot_json, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			snapshot_json = excluded.snapshot_json,
			updated_at = excluded.updated_at`,
		op.ID, op.Entity, op.TargetField, string(op.Status), string(encoded),
		formatTime(op.StartedAt), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save operation %s: %w", op.ID, err)
	}
	return nil
}

// GetOperation returns a persisted snapshot, or nil when unknown.
func (s *Store) GetOperation(ctx context.Context, id string) (*operation.Operation, error) {
	var raw string
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT snapshot_json FROM operations WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	var op operation.Operation
	if err := json.Unmarshal([]byte(raw), &op); err != nil {
		return nil, fmt.Errorf("decode operation %s: %w", id, err)
	}
	return &op, nil
}

// ListOperations returns the most recent snapshots, newest first.
func (s *Store) ListOperations(ctx context.Context, limit int) ([]operation.Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT snapshot_json FROM operations ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var out []operation.Operation
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		var op operation.Operation
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			return nil, fmt.Errorf("decode operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// FailInterrupted marks operations left pending or running by a previous
// daemon as failed and returns how many were updated.
func (s *Store) FailInterrupted(ctx context.Context) (int, error) {
	count := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		count = 0
		rows, err := tx.QueryContext(ctx, `SELECT snapshot_json FROM operations WHERE status IN (?, ?)`,
			string(operation.StatusPending), string(operation.StatusRunning))
		if err != nil {
			return fmt.Errorf("query interrupted operations: %w", err)
		}
		var stale []operation.Operation
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				rows.Close()
				return fmt.Errorf("scan operation: %w", err)
			}
			var op operation.Operation
			if err := json.Unmarshal([]byte(raw), &op); err != nil {
				rows.Close()
				return fmt.Errorf("decode operation: %w", err)
			}
			stale = append(stale, op)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, op := range stale {
			op.Status = operation.StatusFailed
			op.Error = interruptedMessage
			op.Message = "failed"
			op.CompletedAt = &now
			op.EstimatedRemainingSeconds = nil
			encoded, err := json.Marshal(op)
			if err != nil {
				return fmt.Errorf("encode operation: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE operations SET status = ?, snapshot_json = ?, updated_at = ? WHERE id = ?`,
				string(op.Status), string(encoded), formatTime(now), op.ID,
			); err != nil {
				return fmt.Errorf("fail operation %s: %w", op.ID, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

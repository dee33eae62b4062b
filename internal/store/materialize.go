package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EntityState is one node of the materialization graph.
type EntityState struct {
	Name           string     `json:"name"`
	Materialized   bool       `json:"materialized"`
	MaterializedAt *time.Time `json:"materialized_at,omitempty"`
	DependsOn      []string   `json:"depends_on"`
}

// Dependent is an entity that transitively depends on another.
type Dependent struct {
	Name         string `json:"name"`
	Materialized bool   `json:"materialized"`
}

func ensureEntity(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO entities (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return fmt.Errorf("register entity %s: %w", name, err)
	}
	return nil
}

// DependOn records that entity is derived from dependsOn. Cycles are refused.
func (s *Store) DependOn(ctx context.Context, entity, dependsOn string) error {
	entity = strings.TrimSpace(entity)
	dependsOn = strings.TrimSpace(dependsOn)
	if entity == "" || dependsOn == "" {
		return fmt.Errorf("%w: both entities are required", ErrInvalidDependency)
	}
	if entity == dependsOn {
		return fmt.Errorf("%w: entity %s cannot depend on itself", ErrInvalidDependency, entity)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureEntity(ctx, tx, entity); err != nil {
			return err
		}
		if err := ensureEntity(ctx, tx, dependsOn); err != nil {
			return err
		}
		dependents, err := transitiveDependents(ctx, tx, entity)
		if err != nil {
			return err
		}
		for _, d := range dependents {
			if d.Name == dependsOn {
				return fmt.Errorf("%w: %s -> %s would create a cycle", ErrInvalidDependency, entity, dependsOn)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_dependencies (entity, depends_on) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			entity, dependsOn,
		); err != nil {
			return fmt.Errorf("record dependency: %w", err)
		}
		return nil
	})
}

// Materialize marks entity as frozen.
func (s *Store) Materialize(ctx context.Context, entity string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureEntity(ctx, tx, entity); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE entities SET materialized = 1, materialized_at = ? WHERE name = ? AND materialized = 0`,
			formatTime(time.Now()), entity,
		); err != nil {
			return fmt.Errorf("materialize %s: %w", entity, err)
		}
		return nil
	})
}

// Unmaterialize unfreezes entity. Materialized dependents make the call fail
// with *CascadeError unless cascade is set, in which case entity and all of
// them are unmaterialized together. The returned list names every entity
// that changed state.
func (s *Store) Unmaterialize(ctx context.Context, entity string, cascade bool) ([]string, error) {
	var changed []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		changed = nil
		affected, err := materializedDependents(ctx, tx, entity)
		if err != nil {
			return err
		}
		if len(affected) > 0 && !cascade {
			return &CascadeError{Entity: entity, AffectedEntities: affected}
		}
		var materialized bool
		err = tx.QueryRowContext(ctx, `SELECT materialized FROM entities WHERE name = ?`, entity).Scan(&materialized)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read entity %s: %w", entity, err)
		}
		targets := affected
		if materialized {
			targets = append([]string{entity}, affected...)
		}
		if err := unmaterializeAll(ctx, tx, targets); err != nil {
			return err
		}
		changed = targets
		return nil
	})
	return changed, err
}

// Dependents lists every entity that transitively depends on entity.
func (s *Store) Dependents(ctx context.Context, entity string) ([]Dependent, error) {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return transitiveDependents(ctx, tx, entity)
}

// Entities returns every known entity with its direct dependencies.
func (s *Store) Entities(ctx context.Context) ([]EntityState, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.name, e.materialized, e.materialized_at, d.depends_on
		FROM entities e LEFT JOIN entity_dependencies d ON d.entity = e.name
		ORDER BY e.name, d.depends_on`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []EntityState
	for rows.Next() {
		var (
			name         string
			materialized bool
			at           sql.NullString
			dependsOn    sql.NullString
		)
		if err := rows.Scan(&name, &materialized, &at, &dependsOn); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Name != name {
			state := EntityState{Name: name, Materialized: materialized, DependsOn: []string{}}
			if at.Valid {
				if parsed, err := time.Parse(time.RFC3339Nano, at.String); err == nil {
					state.MaterializedAt = &parsed
				}
			}
			out = append(out, state)
		}
		if dependsOn.Valid {
			last := &out[len(out)-1]
			last.DependsOn = append(last.DependsOn, dependsOn.String)
		}
	}
	return out, rows.Err()
}

func transitiveDependents(ctx context.Context, tx *sql.Tx, entity string) ([]Dependent, error) {
	rows, err := tx.QueryContext(ctx, `
		WITH RECURSIVE dependents(name) AS (
			SELECT entity FROM entity_dependencies WHERE depends_on = ?
			UNION
			SELECT d.entity FROM entity_dependencies d JOIN dependents ON d.depends_on = dependents.name
		)
		SELECT e.name, e.materialized FROM dependents JOIN entities e ON e.name = dependents.name
		ORDER BY e.name`, entity)
	if err != nil {
		return nil, fmt.Errorf("query dependents of %s: %w", entity, err)
	}
	defer rows.Close()

	var out []Dependent
	for rows.Next() {
		var d Dependent
		if err := rows.Scan(&d.Name, &d.Materialized); err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func materializedDependents(ctx context.Context, tx *sql.Tx, entity string) ([]string, error) {
	dependents, err := transitiveDependents(ctx, tx, entity)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, d := range dependents {
		if d.Materialized && d.Name != entity {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func unmaterializeAll(ctx context.Context, tx *sql.Tx, names []string) error {
	for _, name := range names {
		if _, err := tx.ExecContext(ctx,
			`UPDATE entities SET materialized = 0, materialized_at = NULL WHERE name = ?`, name,
		); err != nil {
			return fmt.Errorf("unmaterialize %s: %w", name, err)
		}
	}
	return nil
}

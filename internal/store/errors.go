package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRowNotFound is returned when a mapping names a source value that was never imported.
var ErrRowNotFound = errors.New("source row not found")

// ErrInvalidDependency is returned for self-references and cycles in the
// materialization graph.
var ErrInvalidDependency = errors.New("invalid dependency")

// ErrCascadeRequired matches every *CascadeError.
var ErrCascadeRequired = errors.New("cascade required")

// CascadeError reports materialized entities that a write would orphan.
type CascadeError struct {
	Entity           string
	AffectedEntities []string
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("changing %s requires unmaterializing dependent entities: %s",
		e.Entity, strings.Join(e.AffectedEntities, ", "))
}

func (e *CascadeError) Unwrap() error { return ErrCascadeRequired }

// Suggestion is the operator-facing remediation.
func (e *CascadeError) Suggestion() string {
	return "retry with cascade to unmaterialize " + strings.Join(e.AffectedEntities, ", ")
}

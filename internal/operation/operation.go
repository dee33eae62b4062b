package operation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

var (
	// ErrActive is returned when an operation is already pending or running for a key.
	ErrActive = errors.New("operation already active")
	// ErrNotFound is returned for unknown operation IDs.
	ErrNotFound = errors.New("operation not found")
)

// Key identifies the entity and target field an operation reconciles.
type Key struct {
	Entity      string `json:"entity"`
	TargetField string `json:"target_field"`
}

func (k Key) String() string { return k.Entity + "." + k.TargetField }

// ActiveError carries the identifier of the operation blocking a new start.
type ActiveError struct {
	Key         Key
	OperationID string
}

func (e *ActiveError) Error() string {
	return fmt.Sprintf("%s: %s is being reconciled by %s", ErrActive, e.Key, e.OperationID)
}

func (e *ActiveError) Unwrap() error { return ErrActive }

// Operation is a point-in-time snapshot of a batch run. Total 0 means the
// number of rows is not yet known.
type Operation struct {
	ID                        string         `json:"operation_id"`
	Entity                    string         `json:"entity"`
	TargetField               string         `json:"target_field"`
	Status                    Status         `json:"status"`
	Current                   int            `json:"current"`
	Total                     int            `json:"total"`
	ProgressPercent           float64        `json:"progress_percent"`
	Indeterminate             bool           `json:"indeterminate"`
	Message                   string         `json:"message"`
	StartedAt                 time.Time      `json:"started_at"`
	CompletedAt               *time.Time     `json:"completed_at,omitempty"`
	ElapsedSeconds            float64        `json:"elapsed_seconds"`
	EstimatedRemainingSeconds *float64       `json:"estimated_remaining_seconds,omitempty"`
	Error                     string         `json:"error,omitempty"`
	Metadata                  map[string]int `json:"metadata,omitempty"`
	Sequence                  uint64         `json:"sequence"`
}

// Key returns the operation's entity and target field.
func (o Operation) Key() Key {
	return Key{Entity: o.Entity, TargetField: o.TargetField}
}

// refresh recomputes the derived progress and timing fields as of now.
func (o *Operation) refresh(now time.Time) {
	o.Indeterminate = o.Total <= 0
	if o.Total > 0 {
		o.ProgressPercent = math.Round(float64(o.Current)/float64(o.Total)*10000) / 100
	} else {
		o.ProgressPercent = 0
	}
	end := now
	if o.CompletedAt != nil {
		end = *o.CompletedAt
	}
	if !o.StartedAt.IsZero() {
		o.ElapsedSeconds = roundSeconds(end.Sub(o.StartedAt).Seconds())
	}
	o.EstimatedRemainingSeconds = nil
	if o.Status == StatusRunning && o.Current > 0 && o.Total > 0 {
		remaining := o.ElapsedSeconds / float64(o.Current) * float64(o.Total-o.Current)
		remaining = roundSeconds(math.Max(remaining, 0))
		o.EstimatedRemainingSeconds = &remaining
	}
}

func roundSeconds(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func cloneOperation(o Operation) Operation {
	out := o
	if o.CompletedAt != nil {
		at := *o.CompletedAt
		out.CompletedAt = &at
	}
	if o.EstimatedRemainingSeconds != nil {
		eta := *o.EstimatedRemainingSeconds
		out.EstimatedRemainingSeconds = &eta
	}
	if o.Metadata != nil {
		out.Metadata = make(map[string]int, len(o.Metadata))
		for k, v := range o.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Store persists operation snapshots so lookups survive the in-memory tracker.
type Store interface {
	SaveOperation(ctx context.Context, op Operation) error
	GetOperation(ctx context.Context, id string) (*Operation, error)
}

package operation

import (
	"context"
	"sync"
	"time"
)

// Tracker owns the lifecycle of one operation.
type Tracker struct {
	id  string
	key Key

	mu         sync.Mutex
	cond       *sync.Cond
	op         Operation
	done       chan struct{}
	clock      func() time.Time
	onTerminal func(Operation)
	// closing holds the terminal state while onTerminal runs. It is
	// published to readers only after the hook returns.
	closing *Operation
}

func newTracker(id string, key Key, message string, clock func() time.Time, onTerminal func(Operation)) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	t := &Tracker{
		id:  id,
		key: key,
		op: Operation{
			ID:          id,
			Entity:      key.Entity,
			TargetField: key.TargetField,
			Status:      StatusPending,
			Message:     message,
			StartedAt:   clock().UTC(),
			Sequence:    1,
		},
		done:       make(chan struct{}),
		clock:      clock,
		onTerminal: onTerminal,
	}
	t.op.refresh(t.op.StartedAt)
	t.cond = sync.NewCond(&t.mu)
	return t
}

// ID returns the operation identifier.
func (t *Tracker) ID() string { return t.id }

// Key returns the entity and target field.
func (t *Tracker) Key() Key { return t.key }

// Snapshot returns a copy of the current state with timing refreshed.
func (t *Tracker) Snapshot() Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.op.Status.Terminal() {
		t.op.refresh(t.clock().UTC())
	}
	return cloneOperation(t.op)
}

// Begin moves a pending operation to running with the given total. It
// returns false when the operation is no longer pending.
func (t *Tracker) Begin(total int, message string) bool {
	return t.mutate(func(op *Operation) bool {
		if op.Status != StatusPending {
			return false
		}
		op.Status = StatusRunning
		if total > 0 {
			op.Total = total
		}
		if message != "" {
			op.Message = message
		}
		return true
	})
}

// SetTotal records the row count once it becomes known.
func (t *Tracker) SetTotal(total int) bool {
	return t.mutate(func(op *Operation) bool {
		if op.Status.Terminal() || total < 0 {
			return false
		}
		op.Total = total
		return true
	})
}

// Advance counts one processed row. Updates after a terminal state are dropped.
func (t *Tracker) Advance(message string) bool {
	return t.mutate(func(op *Operation) bool {
		if op.Status != StatusRunning {
			return false
		}
		op.Current++
		if op.Total > 0 && op.Current > op.Total {
			op.Total = op.Current
		}
		if message != "" {
			op.Message = message
		}
		return true
	})
}

// Complete finishes a running operation with per-bucket counts.
func (t *Tracker) Complete(message string, metadata map[string]int) bool {
	return t.finish(func(op *Operation) bool {
		if op.Status != StatusRunning && op.Status != StatusPending {
			return false
		}
		op.Status = StatusCompleted
		if message != "" {
			op.Message = message
		}
		op.Metadata = metadata
		return true
	})
}

// Fail finishes the operation with a human-readable error.
func (t *Tracker) Fail(err error) bool {
	return t.finish(func(op *Operation) bool {
		if op.Status.Terminal() {
			return false
		}
		op.Status = StatusFailed
		if err != nil {
			op.Error = err.Error()
		} else {
			op.Error = "operation failed"
		}
		op.Message = "failed"
		return true
	})
}

// Cancel stops the operation. Cancelling a terminal operation is a no-op; the
// returned snapshot reflects the state after the call.
func (t *Tracker) Cancel() (Operation, bool) {
	changed := t.finish(func(op *Operation) bool {
		if op.Status.Terminal() {
			return false
		}
		op.Status = StatusCancelled
		op.Message = "cancelled by operator"
		return true
	})
	return t.Snapshot(), changed
}

// Cancelled reports whether Cancel has taken effect.
func (t *Tracker) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.op.Status == StatusCancelled || (t.closing != nil && t.closing.Status == StatusCancelled)
}

// Done is closed once the operation reaches a terminal state.
func (t *Tracker) Done() <-chan struct{} { return t.done }

func (t *Tracker) mutate(apply func(*Operation) bool) bool {
	t.mu.Lock()
	if t.closing != nil || !apply(&t.op) {
		t.mu.Unlock()
		return false
	}
	t.op.Sequence++
	t.op.refresh(t.clock().UTC())
	t.cond.Broadcast()
	t.mu.Unlock()
	return true
}

func (t *Tracker) finish(apply func(*Operation) bool) bool {
	t.mu.Lock()
	if t.closing != nil {
		t.mu.Unlock()
		return false
	}
	next := cloneOperation(t.op)
	if !apply(&next) {
		t.mu.Unlock()
		return false
	}
	now := t.clock().UTC()
	next.CompletedAt = &now
	next.Sequence = t.op.Sequence + 1
	next.refresh(now)
	t.closing = &next
	t.mu.Unlock()

	if t.onTerminal != nil {
		t.onTerminal(cloneOperation(next))
	}

	t.mu.Lock()
	t.op = next
	t.closing = nil
	close(t.done)
	t.cond.Broadcast()
	t.mu.Unlock()
	return true
}

// Next blocks until a snapshot newer than since exists and returns it. Once
// the operation is terminal and since has caught up, Next returns the final
// snapshot immediately.
func (t *Tracker) Next(ctx context.Context, since uint64) (Operation, error) {
	stop := make(chan struct{})
	defer close(stop)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				t.mu.Lock()
				t.cond.Broadcast()
				t.mu.Unlock()
			case <-stop:
			}
		}()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if t.op.Sequence > since || t.op.Status.Terminal() {
			if !t.op.Status.Terminal() {
				t.op.refresh(t.clock().UTC())
			}
			return cloneOperation(t.op), nil
		}
		if ctx != nil && ctx.Err() != nil {
			return cloneOperation(t.op), ctx.Err()
		}
		t.cond.Wait()
	}
}

// Subscribe streams snapshots from the current one until the terminal
// snapshot has been delivered or ctx ends. Intermediate updates may be
// coalesced; Current never decreases.
func (t *Tracker) Subscribe(ctx context.Context) <-chan Operation {
	out := make(chan Operation, 1)
	go func() {
		defer close(out)
		var since uint64
		for {
			snapshot, err := t.Next(ctx, since)
			if err != nil {
				return
			}
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
			if snapshot.Status.Terminal() {
				return
			}
			since = snapshot.Sequence
		}
	}()
	return out
}

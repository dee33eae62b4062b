package operation_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"reconcile/internal/operation"
)

type memoryStore struct {
	mu  sync.Mutex
	ops map[string]operation.Operation
}

func (s *memoryStore) SaveOperation(_ context.Context, op operation.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ops == nil {
		s.ops = map[string]operation.Operation{}
	}
	s.ops[op.ID] = op
	return nil
}

func (s *memoryStore) GetOperation(_ context.Context, id string) (*operation.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func TestRegistryRejectsSecondActiveOperation(t *testing.T) {
	registry := operation.NewRegistry()
	key := operation.Key{Entity: "Author", TargetField: "name"}
	ctx := context.Background()

	first, err := registry.Start(ctx, key, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = registry.Start(ctx, key, "")
	var active *operation.ActiveError
	if !errors.Is(err, operation.ErrActive) || !errors.As(err, &active) || active.OperationID != first.ID() {
		t.Fatalf("expected ActiveError for %s, got %v", first.ID(), err)
	}

	other, err := registry.Start(ctx, operation.Key{Entity: "Author", TargetField: "place"}, "")
	if err != nil {
		t.Fatalf("different key must start: %v", err)
	}
	other.Cancel()

	first.Begin(1, "")
	first.Advance("")
	first.Complete("", nil)
	if registry.IsActive(key) {
		t.Fatal("key still active after completion")
	}
	if _, err := registry.Start(ctx, key, ""); err != nil {
		t.Fatalf("restart after completion: %v", err)
	}
}

func TestRegistryPersistsAndLooksUpEvictedOperations(t *testing.T) {
	store := &memoryStore{}
	registry := operation.NewRegistry(operation.WithStore(store), operation.WithRetained(1))
	ctx := context.Background()

	first, _ := registry.Start(ctx, operation.Key{Entity: "A", TargetField: "f"}, "")
	first.Fail(errors.New("boom"))
	second, _ := registry.Start(ctx, operation.Key{Entity: "B", TargetField: "f"}, "")
	second.Cancel()

	if _, ok := registry.Get(first.ID()); ok {
		t.Fatal("expected first tracker to be evicted")
	}
	op, err := registry.Lookup(ctx, first.ID())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if op.Status != operation.StatusFailed || op.Error != "boom" {
		t.Fatalf("persisted op = %+v", op)
	}
	cancelled, err := registry.Cancel(ctx, first.ID())
	if err != nil || cancelled.Status != operation.StatusFailed {
		t.Fatalf("Cancel of evicted terminal op = %+v, %v", cancelled, err)
	}
}

func TestRegistryUnknownOperation(t *testing.T) {
	registry := operation.NewRegistry()
	if _, err := registry.Lookup(context.Background(), "missing"); !errors.Is(err, operation.ErrNotFound) {
		t.Fatalf("Lookup error = %v", err)
	}
	if _, err := registry.Cancel(context.Background(), "missing"); !errors.Is(err, operation.ErrNotFound) {
		t.Fatalf("Cancel error = %v", err)
	}
}

func TestRegistryStartRequiresKey(t *testing.T) {
	if _, err := operation.NewRegistry().Start(context.Background(), operation.Key{Entity: " "}, ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

package store_test

import (
	"context"
	"testing"
	"time"

	"reconcile/internal/operation"
	"reconcile/internal/testsupport"
)

func TestOperationPersistenceAndInterruptRecovery(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	running := operation.Operation{ID: "op-run", Entity: "Author", TargetField: "name", Status: operation.StatusRunning, Current: 3, Total: 10, StartedAt: started}
	done := operation.Operation{ID: "op-done", Entity: "Author", TargetField: "name", Status: operation.StatusCompleted, StartedAt: started.Add(time.Minute)}
	for _, op := range []operation.Operation{running, done} {
		if err := st.SaveOperation(ctx, op); err != nil {
			t.Fatalf("SaveOperation: %v", err)
		}
	}

	n, err := st.FailInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("FailInterrupted = %d, %v", n, err)
	}
	got, err := st.GetOperation(ctx, "op-run")
	if err != nil || got == nil {
		t.Fatalf("GetOperation = %v, %v", got, err)
	}
	if got.Status != operation.StatusFailed || got.Error == "" || got.CompletedAt == nil || got.Current != 3 {
		t.Fatalf("interrupted op = %+v", got)
	}
	untouched, _ := st.GetOperation(ctx, "op-done")
	if untouched.Status != operation.StatusCompleted {
		t.Fatalf("completed op changed: %+v", untouched)
	}

	list, err := st.ListOperations(ctx, 10)
	if err != nil || len(list) != 2 || list[0].ID != "op-done" {
		t.Fatalf("ListOperations = %+v, %v", list, err)
	}
	missing, err := st.GetOperation(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetOperation(missing) = %v, %v", missing, err)
	}
}

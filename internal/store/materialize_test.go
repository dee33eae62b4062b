package store_test

import (
	"context"
	"errors"
	"testing"

	"reconcile/internal/store"
	"reconcile/internal/testsupport"
)

func TestUnmaterializeRefusesWithoutCascade(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	// Site <- Sample <- Analysis, all materialized.
	if err := st.DependOn(ctx, "Sample", "Site"); err != nil {
		t.Fatal(err)
	}
	if err := st.DependOn(ctx, "Analysis", "Sample"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Site", "Sample", "Analysis"} {
		if err := st.Materialize(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	_, err := st.Unmaterialize(ctx, "Site", false)
	var cascadeErr *store.CascadeError
	if !errors.As(err, &cascadeErr) || len(cascadeErr.AffectedEntities) != 2 {
		t.Fatalf("expected cascade error naming two dependents, got %v", err)
	}
	states, _ := st.Entities(ctx)
	for _, s := range states {
		if !s.Materialized {
			t.Fatalf("%s changed despite refusal", s.Name)
		}
	}

	changed, err := st.Unmaterialize(ctx, "Site", true)
	if err != nil {
		t.Fatalf("cascade unmaterialize: %v", err)
	}
	if len(changed) != 3 || changed[0] != "Site" {
		t.Fatalf("changed = %v", changed)
	}
	states, _ = st.Entities(ctx)
	for _, s := range states {
		if s.Materialized {
			t.Fatalf("%s still materialized", s.Name)
		}
	}
}

func TestDependOnRejectsCycles(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	if err := st.DependOn(ctx, "B", "A"); err != nil {
		t.Fatal(err)
	}
	if err := st.DependOn(ctx, "C", "B"); err != nil {
		t.Fatal(err)
	}
	if err := st.DependOn(ctx, "A", "C"); !errors.Is(err, store.ErrInvalidDependency) {
		t.Fatalf("expected cycle to be rejected, got %v", err)
	}
	if err := st.DependOn(ctx, "A", "A"); !errors.Is(err, store.ErrInvalidDependency) {
		t.Fatal("expected self dependency to be rejected")
	}

	dependents, err := st.Dependents(ctx, "A")
	if err != nil {
		t.Fatalf("Dependents: %v", err)
	}
	if len(dependents) != 2 || dependents[0].Name != "B" || dependents[1].Name != "C" {
		t.Fatalf("dependents = %+v", dependents)
	}
	entities, _ := st.Entities(ctx)
	if len(entities) != 3 || len(entities[1].DependsOn) != 1 || entities[1].DependsOn[0] != "A" {
		t.Fatalf("entities = %+v", entities)
	}
}

package store_test

import (
	"context"
	"errors"
	"testing"

	"reconcile/internal/reconcile"
	"reconcile/internal/store"
	"reconcile/internal/testsupport"
)

func id(v string) *reconcile.Identifier {
	out := reconcile.Identifier(v)
	return &out
}

func float(v float64) *float64 { return &v }

func TestUpdateMappingIsIdempotent(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.ImportValues(t, st, "Author", "name", "Oslo")

	update := store.MappingUpdate{SourceValue: "Oslo", TargetID: id("Q585"), MatchedName: "Oslo", Confidence: float(97)}
	first, err := st.UpdateMapping(ctx, "Author", "name", update)
	if err != nil || !first.Changed {
		t.Fatalf("first write = %+v, %v", first, err)
	}
	second, err := st.UpdateMapping(ctx, "Author", "name", update)
	if err != nil || second.Changed {
		t.Fatalf("repeat write = %+v, %v", second, err)
	}

	mapping, err := st.GetMapping(ctx, "Author", "name", "Oslo")
	if err != nil || mapping == nil {
		t.Fatalf("GetMapping = %v, %v", mapping, err)
	}
	if *mapping.TargetID != "Q585" || *mapping.Confidence != 97 || mapping.WillNotMatch {
		t.Fatalf("mapping = %+v", mapping)
	}
}

func TestUpdateMappingUnknownRow(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, err := st.UpdateMapping(context.Background(), "Author", "name", store.MappingUpdate{SourceValue: "ghost", TargetID: id("1")})
	if !errors.Is(err, store.ErrRowNotFound) {
		t.Fatalf("expected ErrRowNotFound, got %v", err)
	}
}

func TestUpdateMappingCascadeConflict(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.ImportValues(t, st, "Author", "name", "Oslo")

	for _, dep := range []string{"Book", "Review"} {
		if err := st.DependOn(ctx, dep, "Author"); err != nil {
			t.Fatalf("DependOn %s: %v", dep, err)
		}
		if err := st.Materialize(ctx, dep); err != nil {
			t.Fatalf("Materialize %s: %v", dep, err)
		}
	}

	update := store.MappingUpdate{SourceValue: "Oslo", TargetID: id("Q585"), Confidence: float(90)}
	_, err := st.UpdateMapping(ctx, "Author", "name", update)
	var cascadeErr *store.CascadeError
	if !errors.As(err, &cascadeErr) {
		t.Fatalf("expected CascadeError, got %v", err)
	}
	if !errors.Is(err, store.ErrCascadeRequired) {
		t.Fatal("CascadeError must match ErrCascadeRequired")
	}
	if len(cascadeErr.AffectedEntities) != 2 || cascadeErr.AffectedEntities[0] != "Book" || cascadeErr.AffectedEntities[1] != "Review" {
		t.Fatalf("affected = %v", cascadeErr.AffectedEntities)
	}
	if mapping, _ := st.GetMapping(ctx, "Author", "name", "Oslo"); mapping != nil {
		t.Fatalf("refused write must not persist, got %+v", mapping)
	}

	update.Cascade = true
	result, err := st.UpdateMapping(ctx, "Author", "name", update)
	if err != nil {
		t.Fatalf("cascade write: %v", err)
	}
	if !result.Changed || len(result.Unmaterialized) != 2 {
		t.Fatalf("result = %+v", result)
	}
	entities, err := st.Entities(ctx)
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	for _, e := range entities {
		if e.Materialized {
			t.Fatalf("%s still materialized after cascade", e.Name)
		}
	}
}

func TestUpdateMappingNotesOnlyDoesNotRequireCascade(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.ImportValues(t, st, "Author", "name", "Oslo")
	if _, err := st.UpdateMapping(ctx, "Author", "name", store.MappingUpdate{SourceValue: "Oslo", TargetID: id("Q585")}); err != nil {
		t.Fatalf("initial write: %v", err)
	}
	if err := st.DependOn(ctx, "Book", "Author"); err != nil {
		t.Fatalf("DependOn: %v", err)
	}
	if err := st.Materialize(ctx, "Book"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	note := "verified"
	result, err := st.UpdateMapping(ctx, "Author", "name", store.MappingUpdate{SourceValue: "Oslo", TargetID: id("Q585"), Notes: &note})
	if err != nil || !result.Changed {
		t.Fatalf("notes update = %+v, %v", result, err)
	}
	if len(result.Unmaterialized) != 0 {
		t.Fatalf("notes update must not cascade: %+v", result)
	}
}

func TestUpdateMappingClearsCandidates(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.ImportValues(t, st, "Author", "name", "Oslo")
	if err := st.SaveCandidates(ctx, "Author", "name", "Oslo", []reconcile.Candidate{{ID: "Q1", Name: "x", Score: 0.5}}); err != nil {
		t.Fatalf("SaveCandidates: %v", err)
	}
	result, err := st.UpdateMapping(ctx, "Author", "name", store.MappingUpdate{SourceValue: "Oslo", ClearCandidates: true})
	if err != nil || !result.Changed {
		t.Fatalf("clear = %+v, %v", result, err)
	}
	row, _ := st.GetRow(ctx, "Author", "name", "Oslo")
	if len(row.Candidates) != 0 {
		t.Fatalf("candidates not cleared: %+v", row.Candidates)
	}
	again, err := st.UpdateMapping(ctx, "Author", "name", store.MappingUpdate{SourceValue: "Oslo", ClearCandidates: true})
	if err != nil || again.Changed {
		t.Fatalf("second clear = %+v, %v", again, err)
	}
}

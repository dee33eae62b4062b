package store_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"reconcile/internal/reconcile"
	"reconcile/internal/store"
	"reconcile/internal/testsupport"
)

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if st.Path() != cfg.DatabasePath() {
		t.Fatalf("Path = %q, want %q", st.Path(), cfg.DatabasePath())
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reopened.Close()
}

func TestOpenPathRequiresPath(t *testing.T) {
	if _, err := store.OpenPath(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "nested", "db.sqlite"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	st.Close()
}

func TestImportRecordsDedupesAndPreservesOrder(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	result, err := st.ImportRecords(ctx, "Author", "name", []store.SourceRecord{
		{SourceValue: "Bergen", Key: []string{"1"}, Values: map[string]string{"country": "NO"}},
		{SourceValue: "Oslo", Key: []string{"2"}},
		{SourceValue: "Bergen", Key: []string{"3"}},
		{SourceValue: "  "},
	})
	if err != nil {
		t.Fatalf("ImportRecords: %v", err)
	}
	if result.Inserted != 2 || result.Duplicates != 1 || result.Blank != 1 {
		t.Fatalf("result = %+v", result)
	}
	if _, err := st.ImportRecords(ctx, "Author", "name", []store.SourceRecord{{SourceValue: "Aalborg"}}); err != nil {
		t.Fatalf("second import: %v", err)
	}

	rows, err := st.LoadRows(ctx, "Author", "name")
	if err != nil {
		t.Fatalf("LoadRows: %v", err)
	}
	got := []string{}
	for _, row := range rows {
		got = append(got, row.SourceValue)
	}
	if len(got) != 3 || got[0] != "Bergen" || got[1] != "Oslo" || got[2] != "Aalborg" {
		t.Fatalf("order = %v", got)
	}
	if rows[0].Values["country"] != "NO" || rows[0].Key[0] != "1" {
		t.Fatalf("first row = %+v", rows[0])
	}
	if rows[0].TargetID != nil || rows[0].Confidence != nil || len(rows[0].Candidates) != 0 {
		t.Fatalf("fresh row should be unresolved: %+v", rows[0])
	}
}

func TestImportedValuesSurviveExport(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	spec := reconcile.EntitySpec{
		Entity:           "Author",
		TargetField:      "name",
		Thresholds:       reconcile.Thresholds{AutoAccept: 0.95, Review: 0.70},
		PropertyMappings: map[string]string{"bio": "bio"},
	}

	if _, err := st.ImportRecords(ctx, "Author", "name", []store.SourceRecord{
		{SourceValue: "a\r\nb", Key: []string{"k\r\n1"}, Values: map[string]string{"bio": "x,\"y\"\r\nz"}},
		{SourceValue: "c\rd"},
	}); err != nil {
		t.Fatalf("ImportRecords: %v", err)
	}
	rows, err := st.LoadRows(ctx, "Author", "name")
	if err != nil {
		t.Fatalf("LoadRows: %v", err)
	}
	if rows[0].SourceValue != "a\nb" || rows[0].Key[0] != "k\n1" || rows[0].Values["bio"] != "x,\"y\"\nz" {
		t.Fatalf("stored row = %+v", rows[0])
	}

	var buf bytes.Buffer
	if err := reconcile.WriteCSV(&buf, rows, spec); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	records, err := reconcile.ParseExport(&buf)
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	for i, row := range rows {
		if records[i].SourceValue != row.SourceValue {
			t.Fatalf("row %d source = %q, want %q", i, records[i].SourceValue, row.SourceValue)
		}
		if records[i].Properties["bio"] != row.Values["bio"] {
			t.Fatalf("row %d bio = %q, want %q", i, records[i].Properties["bio"], row.Values["bio"])
		}
	}
}

func TestSaveCandidatesRoundTrip(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.ImportValues(t, st, "Author", "name", "Oslo")

	candidates := []reconcile.Candidate{{ID: "Q585", Name: "Oslo", Score: 0.9}, {ID: "Q1", Name: "Other", Score: 0.4}}
	if err := st.SaveCandidates(ctx, "Author", "name", "Oslo", candidates); err != nil {
		t.Fatalf("SaveCandidates: %v", err)
	}
	row, err := st.GetRow(ctx, "Author", "name", "Oslo")
	if err != nil || row == nil {
		t.Fatalf("GetRow = %v, %v", row, err)
	}
	if len(row.Candidates) != 2 || row.Candidates[0].ID != "Q585" {
		t.Fatalf("candidates = %+v", row.Candidates)
	}

	if err := st.SaveCandidates(ctx, "Author", "name", "Missing", nil); !errors.Is(err, store.ErrRowNotFound) {
		t.Fatalf("expected ErrRowNotFound, got %v", err)
	}
	missing, err := st.GetRow(ctx, "Author", "name", "Missing")
	if err != nil || missing != nil {
		t.Fatalf("GetRow(missing) = %v, %v", missing, err)
	}
}

func TestSpecRoundTrip(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	spec, err := st.GetSpec(ctx, "Author", "name")
	if err != nil || spec != nil {
		t.Fatalf("GetSpec before save = %v, %v", spec, err)
	}
	want := reconcile.EntitySpec{
		Entity:           "Author",
		TargetField:      "name",
		Thresholds:       reconcile.Thresholds{AutoAccept: 0.9, Review: 0.6},
		PropertyMappings: map[string]string{"born": "birth_year"},
	}
	if err := st.SaveSpec(ctx, want); err != nil {
		t.Fatalf("SaveSpec: %v", err)
	}
	got, err := st.GetSpec(ctx, "Author", "name")
	if err != nil || got == nil {
		t.Fatalf("GetSpec = %v, %v", got, err)
	}
	if got.Thresholds != want.Thresholds || got.PropertyMappings["born"] != "birth_year" {
		t.Fatalf("spec = %+v", got)
	}

	bad := want
	bad.Thresholds = reconcile.Thresholds{AutoAccept: 0.5, Review: 0.6}
	if err := st.SaveSpec(ctx, bad); err == nil {
		t.Fatal("expected inverted thresholds to be rejected")
	}
}

package reconcile_test

import (
	"testing"

	"reconcile/internal/reconcile"
)

func sampleRows() []reconcile.PreviewRow {
	id := reconcile.Identifier("Q1")
	note := "checked by hand"
	return []reconcile.PreviewRow{
		{SourceValue: "Ångström", Confidence: ptr(98), TargetID: &id, MatchedName: "Anders Ångström"},
		{SourceValue: "Bergen", Candidates: []reconcile.Candidate{{ID: "Q26793", Name: "Bergen", Score: 0.8}}},
		{SourceValue: "Xyz", Values: map[string]string{"country": "Norway"}},
		{SourceValue: "Nowhere", WillNotMatch: true, Notes: &note},
	}
}

func TestViewFiltersByBucket(t *testing.T) {
	rows := sampleRows()
	thresholds := reconcile.Thresholds{AutoAccept: 0.95, Review: 0.70}
	got := reconcile.View(rows, thresholds, reconcile.Filter{Buckets: []reconcile.Status{reconcile.StatusNeedsReview, reconcile.StatusWillNotMatch}})
	if len(got) != 2 || got[0].SourceValue != "Bergen" || got[1].SourceValue != "Nowhere" {
		t.Fatalf("unexpected view: %+v", got)
	}
	if got[1].Status != reconcile.StatusWillNotMatch {
		t.Fatalf("status = %s", got[1].Status)
	}
}

func TestViewQueryFoldsCaseAndDiacritics(t *testing.T) {
	rows := sampleRows()
	thresholds := reconcile.Thresholds{AutoAccept: 0.95, Review: 0.70}
	tests := []struct {
		query string
		want  string
	}{
		{"angstrom", "Ångström"},
		{"NORWAY", "Xyz"},
		{"by hand", "Nowhere"},
	}
	for _, tt := range tests {
		got := reconcile.View(rows, thresholds, reconcile.Filter{Query: tt.query})
		if len(got) != 1 || got[0].SourceValue != tt.want {
			t.Fatalf("query %q: got %+v", tt.query, got)
		}
	}
}

func TestViewDoesNotMutateRows(t *testing.T) {
	rows := sampleRows()
	before := rows[1].Candidates[0]
	reconcile.View(rows, reconcile.Thresholds{AutoAccept: 0.5, Review: 0.1}, reconcile.Filter{Query: "bergen"})
	if rows[1].Candidates[0] != before || rows[1].Confidence != nil {
		t.Fatal("view mutated the input rows")
	}
}

func TestReclassifyOnThresholdChange(t *testing.T) {
	rows := sampleRows()
	strict := reconcile.Summarize(rows, reconcile.Thresholds{AutoAccept: 0.95, Review: 0.70})
	loose := reconcile.Summarize(rows, reconcile.Thresholds{AutoAccept: 0.75, Review: 0.50})
	if strict.NeedsReview != 1 || strict.AutoAccepted != 1 {
		t.Fatalf("strict summary = %+v", strict)
	}
	if loose.AutoAccepted != 2 || loose.NeedsReview != 0 {
		t.Fatalf("loose summary = %+v", loose)
	}
	if loose.Total != 4 || loose.WillNotMatch != 1 || loose.Unmatched != 1 {
		t.Fatalf("loose summary = %+v", loose)
	}
}

func TestSortCandidatesTieBreak(t *testing.T) {
	in := []reconcile.Candidate{{ID: "1", Name: "beta", Score: 0.9}, {ID: "2", Name: "Alpha", Score: 0.9}, {ID: "3", Name: "gamma", Score: 0.95}}
	got := reconcile.SortCandidates(in)
	if got[0].ID != "3" || got[1].ID != "2" || got[2].ID != "1" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if in[0].ID != "1" {
		t.Fatal("SortCandidates must not reorder its input")
	}
}

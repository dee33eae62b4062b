package reconcile_test

import (
	"bytes"
	"strings"
	"testing"

	"reconcile/internal/reconcile"
)

func TestExportRoundTrip(t *testing.T) {
	id := reconcile.Identifier("Q42")
	id2 := reconcile.Identifier("77")
	spec := reconcile.EntitySpec{
		Entity:           "Author",
		TargetField:      "name",
		Thresholds:       reconcile.Thresholds{AutoAccept: 0.95, Review: 0.70},
		PropertyMappings: map[string]string{"born": "birth_year", "country": "nation"},
	}
	rows := []reconcile.PreviewRow{
		{SourceValue: "Adams, Douglas", TargetID: &id, MatchedName: `Douglas "DNA" Adams`, Confidence: ptr(98.5), Values: map[string]string{"birth_year": "1952", "nation": "UK"}},
		{SourceValue: "line one\nline two", Candidates: []reconcile.Candidate{{ID: "Q1", Name: "x", Score: 0.8}}},
		{SourceValue: "plain", TargetID: &id2, Confidence: ptr(71)},
		{SourceValue: "never", WillNotMatch: true},
		{SourceValue: "carriage\rreturn", MatchedName: "a,\"b\"\nc"},
	}

	var buf bytes.Buffer
	if err := reconcile.WriteCSV(&buf, rows, spec); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "source_value,born,country,target_id,matched_name,confidence,status\n") {
		t.Fatalf("unexpected header: %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"Douglas ""DNA"" Adams"`) {
		t.Fatalf("expected doubled quotes in %q", buf.String())
	}

	records, err := reconcile.ParseExport(&buf)
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	if len(records) != len(rows) {
		t.Fatalf("got %d records, want %d", len(records), len(rows))
	}
	for i, row := range rows {
		record := records[i]
		if record.SourceValue != row.SourceValue {
			t.Fatalf("row %d source = %q, want %q", i, record.SourceValue, row.SourceValue)
		}
		if (record.TargetID == nil) != (row.TargetID == nil) || (row.TargetID != nil && *record.TargetID != *row.TargetID) {
			t.Fatalf("row %d target mismatch", i)
		}
		if (record.Confidence == nil) != (row.Confidence == nil) || (row.Confidence != nil && *record.Confidence != *row.Confidence) {
			t.Fatalf("row %d confidence mismatch", i)
		}
		if record.MatchedName != row.MatchedName {
			t.Fatalf("row %d matched name = %q, want %q", i, record.MatchedName, row.MatchedName)
		}
		if want := spec.Thresholds.ClassifyRow(row); record.Status != want {
			t.Fatalf("row %d status = %s, want %s", i, record.Status, want)
		}
	}
	if records[0].Properties["born"] != "1952" || records[0].Properties["country"] != "UK" {
		t.Fatalf("properties = %#v", records[0].Properties)
	}
}

func TestNormalizeNewlines(t *testing.T) {
	tests := map[string]string{
		"a\r\nb":   "a\nb",
		"a\rb":     "a\rb",
		"a\nb":     "a\nb",
		"\r\n\r\n": "\n\n",
		"plain":    "plain",
	}
	for in, want := range tests {
		if got := reconcile.NormalizeNewlines(in); got != want {
			t.Errorf("NormalizeNewlines(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseExportRejectsMissingColumns(t *testing.T) {
	if _, err := reconcile.ParseExport(strings.NewReader("source_value,status\nx,unmatched\n")); err == nil {
		t.Fatal("expected error for missing columns")
	}
	if _, err := reconcile.ParseExport(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty export")
	}
}

package reconcile_test

import (
	"math"
	"testing"

	"reconcile/internal/reconcile"
)

func ptr(v float64) *float64 { return &v }

func TestClassifyScenario(t *testing.T) {
	thresholds := reconcile.Thresholds{AutoAccept: 0.95, Review: 0.70}
	confidences := []*float64{ptr(98), ptr(80), ptr(50), nil}
	want := []reconcile.Status{
		reconcile.StatusAutoAccepted,
		reconcile.StatusNeedsReview,
		reconcile.StatusUnmatched,
		reconcile.StatusUnmatched,
	}
	for i, confidence := range confidences {
		if got := thresholds.Classify(confidence); got != want[i] {
			t.Fatalf("row %d: got %s, want %s", i, got, want[i])
		}
	}
}

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		name       string
		confidence *float64
		want       reconcile.Status
	}{
		{"nil", nil, reconcile.StatusUnmatched},
		{"nan", ptr(math.NaN()), reconcile.StatusUnmatched},
		{"below review", ptr(69.999), reconcile.StatusUnmatched},
		{"at review", ptr(70), reconcile.StatusNeedsReview},
		{"below auto", ptr(94.99), reconcile.StatusNeedsReview},
		{"at auto", ptr(95), reconcile.StatusAutoAccepted},
		{"max", ptr(100), reconcile.StatusAutoAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reconcile.Classify(tt.confidence, 95, 70); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestThresholdPercentRounding(t *testing.T) {
	thresholds := reconcile.Thresholds{AutoAccept: 0.95, Review: 0.7}
	if got := thresholds.Classify(ptr(70)); got != reconcile.StatusNeedsReview {
		t.Fatalf("70 with review 0.7 = %s, want needs-review", got)
	}
}

func TestClassifyMonotonic(t *testing.T) {
	rank := map[reconcile.Status]int{
		reconcile.StatusUnmatched:    0,
		reconcile.StatusNeedsReview:  1,
		reconcile.StatusAutoAccepted: 2,
	}
	pairs := [][2]float64{{0, 0}, {50, 50}, {70, 95}, {0, 100}, {100, 100}, {30, 60}}
	for _, pair := range pairs {
		review, auto := pair[0], pair[1]
		previous := -1
		for c := 0.0; c <= 100; c += 0.5 {
			got := rank[reconcile.Classify(ptr(c), auto, review)]
			if got < previous {
				t.Fatalf("review=%v auto=%v: rank dropped at confidence %v", review, auto, c)
			}
			previous = got
		}
	}
}

func TestWillNotMatchOverridesConfidence(t *testing.T) {
	thresholds := reconcile.Thresholds{AutoAccept: 0.95, Review: 0.70}
	for _, confidence := range []*float64{nil, ptr(0), ptr(75), ptr(100)} {
		row := reconcile.PreviewRow{SourceValue: "x", Confidence: confidence, WillNotMatch: true}
		if got := thresholds.ClassifyRow(row); got != reconcile.StatusWillNotMatch {
			t.Fatalf("confidence %v: got %s", confidence, got)
		}
	}
}

func TestClassifyRowUsesTopCandidate(t *testing.T) {
	thresholds := reconcile.Thresholds{AutoAccept: 0.95, Review: 0.70}
	row := reconcile.PreviewRow{
		SourceValue: "Oslo",
		Candidates:  []reconcile.Candidate{{ID: "Q585", Name: "Oslo", Score: 0.82}, {ID: "Q1", Name: "Other", Score: 0.99}},
	}
	if got := thresholds.ClassifyRow(row); got != reconcile.StatusNeedsReview {
		t.Fatalf("ClassifyRow = %s, want needs-review", got)
	}
	row.Confidence = ptr(99)
	if got := thresholds.ClassifyRow(row); got != reconcile.StatusAutoAccepted {
		t.Fatalf("accepted confidence should win, got %s", got)
	}
}

func TestThresholdsValidate(t *testing.T) {
	tests := []struct {
		name    string
		t       reconcile.Thresholds
		wantErr bool
	}{
		{"ok", reconcile.Thresholds{AutoAccept: 0.95, Review: 0.7}, false},
		{"equal", reconcile.Thresholds{AutoAccept: 0.8, Review: 0.8}, false},
		{"inverted", reconcile.Thresholds{AutoAccept: 0.6, Review: 0.7}, true},
		{"out of range", reconcile.Thresholds{AutoAccept: 1.2, Review: 0.7}, true},
		{"negative", reconcile.Thresholds{AutoAccept: 0.9, Review: -0.1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.t.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	got, err := reconcile.ParseStatus("Needs_Review")
	if err != nil || got != reconcile.StatusNeedsReview {
		t.Fatalf("ParseStatus = %q, %v", got, err)
	}
	if _, err := reconcile.ParseStatus("maybe"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

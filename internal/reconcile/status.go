package reconcile

import (
	"fmt"
	"math"
	"strings"
)

// Status is the derived classification of a row.
type Status string

const (
	StatusAutoAccepted Status = "auto-accepted"
	StatusNeedsReview  Status = "needs-review"
	StatusUnmatched    Status = "unmatched"
	StatusWillNotMatch Status = "will-not-match"
)

// Statuses lists every bucket in display order.
var Statuses = []Status{StatusAutoAccepted, StatusNeedsReview, StatusUnmatched, StatusWillNotMatch}

// ParseStatus accepts bucket labels with either dashes or underscores.
func ParseStatus(value string) (Status, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "_", "-")
	for _, status := range Statuses {
		if string(status) == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", value)
}

// Classify maps a confidence on the 0-100 scale to a bucket. Thresholds are
// percentages. A nil or NaN confidence is unmatched.
func Classify(confidence *float64, autoAccept, review float64) Status {
	if confidence == nil || math.IsNaN(*confidence) {
		return StatusUnmatched
	}
	switch c := *confidence; {
	case c >= autoAccept:
		return StatusAutoAccepted
	case c >= review:
		return StatusNeedsReview
	default:
		return StatusUnmatched
	}
}

// Thresholds are the operator-tuned cut-offs as fractions in [0,1].
type Thresholds struct {
	AutoAccept float64 `json:"auto_accept_threshold"`
	Review     float64 `json:"review_threshold"`
}

// Validate enforces range and ordering.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.AutoAccept) || t.AutoAccept < 0 || t.AutoAccept > 1 {
		return fmt.Errorf("auto_accept_threshold must be within [0,1], got %v", t.AutoAccept)
	}
	if math.IsNaN(t.Review) || t.Review < 0 || t.Review > 1 {
		return fmt.Errorf("review_threshold must be within [0,1], got %v", t.Review)
	}
	if t.Review > t.AutoAccept {
		return fmt.Errorf("review_threshold (%v) must not exceed auto_accept_threshold (%v)", t.Review, t.AutoAccept)
	}
	return nil
}

// Classify applies the thresholds to a 0-100 confidence.
func (t Thresholds) Classify(confidence *float64) Status {
	return Classify(confidence, Percent(t.AutoAccept), Percent(t.Review))
}

// ClassifyRow reports will-not-match for flagged rows, otherwise classifies
// the row's best available confidence.
func (t Thresholds) ClassifyRow(row PreviewRow) Status {
	if row.WillNotMatch {
		return StatusWillNotMatch
	}
	return t.Classify(row.BestConfidence())
}

// Percent converts a [0,1] fraction to the 0-100 scale. The result is rounded
// to six decimals so 0.7 compares equal to 70.
func Percent(fraction float64) float64 {
	return math.Round(fraction*100*1e6) / 1e6
}

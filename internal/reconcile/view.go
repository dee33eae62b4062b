package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ClassifiedRow pairs a row with its derived status.
type ClassifiedRow struct {
	PreviewRow
	Status Status `json:"status"`
}

// Filter narrows a view. Zero value matches every row.
type Filter struct {
	Buckets []Status
	Query   string
}

// View classifies rows with t and returns those matching f, preserving input
// order. Rows are copied; the input slice is never modified.
func View(rows []PreviewRow, t Thresholds, f Filter) []ClassifiedRow {
	buckets := make(map[Status]struct{}, len(f.Buckets))
	for _, b := range f.Buckets {
		buckets[b] = struct{}{}
	}
	needle := foldText(f.Query)

	out := make([]ClassifiedRow, 0, len(rows))
	for _, row := range rows {
		status := t.ClassifyRow(row)
		if len(buckets) > 0 {
			if _, ok := buckets[status]; !ok {
				continue
			}
		}
		if needle != "" && !rowMatches(row, needle) {
			continue
		}
		out = append(out, ClassifiedRow{PreviewRow: row, Status: status})
	}
	return out
}

func rowMatches(row PreviewRow, needle string) bool {
	fields := make([]string, 0, 4+len(row.Key)+len(row.Values))
	fields = append(fields, row.SourceValue, row.MatchedName)
	if row.TargetID != nil {
		fields = append(fields, row.TargetID.String())
	}
	if row.Notes != nil {
		fields = append(fields, *row.Notes)
	}
	fields = append(fields, row.Key...)
	for _, value := range row.Values {
		fields = append(fields, value)
	}
	for _, field := range fields {
		if strings.Contains(foldText(field), needle) {
			return true
		}
	}
	return false
}

// foldText lowercases and strips diacritics so "Ångström" matches "angstrom".
func foldText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	folded, _, err := transform.String(chain, value)
	if err != nil {
		return strings.ToLower(value)
	}
	return folded
}

// Summary counts rows per bucket.
type Summary struct {
	Total        int `json:"total"`
	AutoAccepted int `json:"auto_accepted"`
	NeedsReview  int `json:"needs_review"`
	Unmatched    int `json:"unmatched"`
	WillNotMatch int `json:"will_not_match"`
}

// Add counts one status.
func (s *Summary) Add(status Status) {
	s.Total++
	switch status {
	case StatusAutoAccepted:
		s.AutoAccepted++
	case StatusNeedsReview:
		s.NeedsReview++
	case StatusWillNotMatch:
		s.WillNotMatch++
	default:
		s.Unmatched++
	}
}

// Metadata renders the summary as the completion payload of an operation.
func (s Summary) Metadata() map[string]int {
	return map[string]int{
		"auto_accepted":  s.AutoAccepted,
		"needs_review":   s.NeedsReview,
		"unmatched":      s.Unmatched,
		"will_not_match": s.WillNotMatch,
	}
}

// Summarize classifies every row and counts the buckets.
func Summarize(rows []PreviewRow, t Thresholds) Summary {
	var summary Summary
	for _, row := range rows {
		summary.Add(t.ClassifyRow(row))
	}
	return summary
}

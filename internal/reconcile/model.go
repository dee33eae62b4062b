package reconcile

import (
	"sort"
	"strings"
)

// Candidate is one possible match returned by the authority.
type Candidate struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

// Confidence returns the candidate score on the 0-100 scale.
func (c Candidate) Confidence() float64 {
	return Percent(c.Score)
}

// PreviewRow is one source value under reconciliation.
type PreviewRow struct {
	Key          []string          `json:"key,omitempty"`
	Values       map[string]string `json:"values,omitempty"`
	SourceValue  string            `json:"source_value"`
	TargetID     *Identifier       `json:"target_id"`
	MatchedName  string            `json:"matched_name,omitempty"`
	Confidence   *float64          `json:"confidence"`
	Candidates   []Candidate       `json:"candidates"`
	Notes        *string           `json:"notes"`
	WillNotMatch bool              `json:"will_not_match"`
}

// BestConfidence is the accepted confidence when one is recorded, otherwise
// the top candidate's score.
func (r PreviewRow) BestConfidence() *float64 {
	if r.Confidence != nil {
		value := *r.Confidence
		return &value
	}
	if len(r.Candidates) > 0 {
		value := r.Candidates[0].Confidence()
		return &value
	}
	return nil
}

// Mapping is the persisted decision for a source value.
type Mapping struct {
	SourceValue  string      `json:"source_value"`
	TargetID     *Identifier `json:"target_id"`
	MatchedName  string      `json:"matched_name,omitempty"`
	Confidence   *float64    `json:"confidence"`
	Notes        *string     `json:"notes,omitempty"`
	WillNotMatch bool        `json:"will_not_match"`
}

// EntitySpec is the reconciliation configuration for one entity and target field.
// PropertyMappings maps an authority property name to a source column.
type EntitySpec struct {
	Entity           string            `json:"entity"`
	TargetField      string            `json:"target_field"`
	Thresholds       Thresholds        `json:"thresholds"`
	PropertyMappings map[string]string `json:"property_mappings"`
}

// Properties returns the mapped property names in sorted order.
func (s EntitySpec) Properties() []string {
	names := make([]string, 0, len(s.PropertyMappings))
	for name := range s.PropertyMappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortCandidates returns a copy ordered by score descending, then name.
func SortCandidates(candidates []Candidate) []Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})
	return sorted
}

// ClampScore bounds an authority score to [0,1].
func ClampScore(score float64) float64 {
	switch {
	case score != score || score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

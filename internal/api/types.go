package api

import (
	"reconcile/internal/operation"
	"reconcile/internal/reconcile"
	"reconcile/internal/store"
)

// Error types carried in ErrorResponse.Type.
const (
	ErrorTypeInvalidRequest       = "invalid_request"
	ErrorTypeUnauthorized         = "unauthorized"
	ErrorTypeNotFound             = "not_found"
	ErrorTypeRowNotFound          = "row_not_found"
	ErrorTypeCandidateNotFound    = "candidate_not_found"
	ErrorTypeQueryTooShort        = "query_too_short"
	ErrorTypeMalformedReference   = "malformed_reference"
	ErrorTypeCascadeRequired      = "cascade_required"
	ErrorTypeOperationActive      = "operation_active"
	ErrorTypeBatchActive          = "batch_active"
	ErrorTypeAuthorityUnavailable = "authority_unavailable"
	ErrorTypeAuthorityError       = "authority_error"
	ErrorTypeInternal             = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string `json:"error"`
	Type       string `json:"type"`
	Suggestion string `json:"suggestion,omitempty"`
	// RequiresCascade and AffectedEntities are set on cascade conflicts.
	RequiresCascade  bool     `json:"requires_cascade,omitempty"`
	AffectedEntities []string `json:"affected_entities,omitempty"`
	// OperationID names the operation holding an entity field.
	OperationID string `json:"operation_id,omitempty"`
}

// HealthResponse reports daemon liveness.
type HealthResponse struct {
	Status           string `json:"status"`
	DatabasePath     string `json:"database_path"`
	ActiveOperations int    `json:"active_operations"`
}

// StartRequest starts a batch reconciliation. Omitted thresholds fall back to
// the stored entity spec.
type StartRequest struct {
	Entity              string   `json:"entity"`
	TargetField         string   `json:"target_field"`
	AutoAcceptThreshold *float64 `json:"auto_accept_threshold,omitempty"`
	ReviewThreshold     *float64 `json:"review_threshold,omitempty"`
}

// StartResponse identifies the started operation.
type StartResponse struct {
	OperationID string `json:"operation_id"`
}

// OperationsResponse lists known operations, newest first.
type OperationsResponse struct {
	Operations []operation.Operation `json:"operations"`
}

// SearchResponse carries ranked candidates for a query.
type SearchResponse struct {
	Query      string                `json:"query"`
	Candidates []reconcile.Candidate `json:"candidates"`
}

// RowsResponse is a classified and filtered row set.
type RowsResponse struct {
	Entity      string                    `json:"entity"`
	TargetField string                    `json:"target_field"`
	Thresholds  reconcile.Thresholds      `json:"thresholds"`
	Summary     reconcile.Summary         `json:"summary"`
	Rows        []reconcile.ClassifiedRow `json:"rows"`
}

// SpecRequest replaces the thresholds and property mappings of an entity field.
type SpecRequest struct {
	AutoAcceptThreshold float64           `json:"auto_accept_threshold"`
	ReviewThreshold     float64           `json:"review_threshold"`
	PropertyMappings    map[string]string `json:"property_mappings,omitempty"`
}

// MappingRequest edits one mapping directly. A null target_id clears it.
type MappingRequest struct {
	SourceValue string  `json:"source_value"`
	TargetID    *string `json:"target_id"`
	Notes       *string `json:"notes,omitempty"`
	Cascade     bool    `json:"cascade,omitempty"`
}

// MappingResponse reports the effect of a mapping write.
type MappingResponse struct {
	Changed        bool     `json:"changed"`
	Unmaterialized []string `json:"unmaterialized,omitempty"`
}

// FromMappingResult converts a store result.
func FromMappingResult(result store.MappingResult) MappingResponse {
	return MappingResponse{Changed: result.Changed, Unmaterialized: result.Unmaterialized}
}

// AcceptRequest accepts a candidate for a row.
type AcceptRequest struct {
	Candidate reconcile.Candidate `json:"candidate"`
	Cascade   bool                `json:"cascade,omitempty"`
}

// AlternativeAcceptRequest accepts a result of a free-text search.
type AlternativeAcceptRequest struct {
	Query       string `json:"query"`
	CandidateID string `json:"candidate_id"`
	Cascade     bool   `json:"cascade,omitempty"`
}

// RejectRequest records a rejected candidate.
type RejectRequest struct {
	Candidate reconcile.Candidate `json:"candidate"`
}

// UnmatchedRequest marks a row will-not-match.
type UnmatchedRequest struct {
	Notes *string `json:"notes,omitempty"`
}

// BulkRequest selects rows for a bulk action.
type BulkRequest struct {
	SourceValues []string `json:"source_values"`
	Cascade      bool     `json:"cascade,omitempty"`
}

// ImportRecord is one source row to import.
type ImportRecord struct {
	SourceValue string            `json:"source_value"`
	Key         []string          `json:"key,omitempty"`
	Values      map[string]string `json:"values,omitempty"`
}

// ImportRequest appends source rows to an entity field.
type ImportRequest struct {
	Records []ImportRecord `json:"records"`
}

// ImportResponse counts the outcome of an import.
type ImportResponse struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Blank      int `json:"blank"`
}

// EntitiesResponse lists the materialization graph.
type EntitiesResponse struct {
	Entities []store.EntityState `json:"entities"`
}

// DependentsResponse lists the transitive dependents of an entity.
type DependentsResponse struct {
	Entity     string            `json:"entity"`
	Dependents []store.Dependent `json:"dependents"`
}

// DependencyRequest records that an entity is derived from another.
type DependencyRequest struct {
	DependsOn string `json:"depends_on"`
}

// UnmaterializeRequest unmaterializes an entity.
type UnmaterializeRequest struct {
	Cascade bool `json:"cascade,omitempty"`
}

// UnmaterializeResponse lists every entity that was unmaterialized.
type UnmaterializeResponse struct {
	Unmaterialized []string `json:"unmaterialized"`
}

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"reconcile/internal/api"
	"reconcile/internal/reconcile"
	"reconcile/internal/review"
	"reconcile/internal/store"
)

// RowsQuery filters a row listing. Threshold overrides apply to this view
// only and are never persisted.
type RowsQuery struct {
	Buckets    []reconcile.Status
	Query      string
	AutoAccept *float64
	Review     *float64
}

func (q RowsQuery) values() url.Values {
	values := url.Values{}
	if len(q.Buckets) > 0 {
		labels := make([]string, 0, len(q.Buckets))
		for _, bucket := range q.Buckets {
			labels = append(labels, string(bucket))
		}
		values.Set("bucket", strings.Join(labels, ","))
	}
	if strings.TrimSpace(q.Query) != "" {
		values.Set("q", q.Query)
	}
	if q.AutoAccept != nil {
		values.Set("auto_accept", strconv.FormatFloat(*q.AutoAccept, 'f', -1, 64))
	}
	if q.Review != nil {
		values.Set("review", strconv.FormatFloat(*q.Review, 'f', -1, 64))
	}
	return values
}

// Rows lists classified rows of an entity field.
func (c *Client) Rows(ctx context.Context, entity, field string, query RowsQuery) (api.RowsResponse, error) {
	var resp api.RowsResponse
	err := c.do(ctx, http.MethodGet, fieldPath(entity, field, "rows"), query.values(), nil, &resp)
	return resp, err
}

// Import appends source rows to an entity field.
func (c *Client) Import(ctx context.Context, entity, field string, records []api.ImportRecord) (api.ImportResponse, error) {
	var resp api.ImportResponse
	err := c.do(ctx, http.MethodPost, fieldPath(entity, field, "import"), nil, api.ImportRequest{Records: records}, &resp)
	return resp, err
}

// Spec returns the thresholds and property mappings of an entity field.
func (c *Client) Spec(ctx context.Context, entity, field string) (reconcile.EntitySpec, error) {
	var spec reconcile.EntitySpec
	err := c.do(ctx, http.MethodGet, fieldPath(entity, field, "spec"), nil, nil, &spec)
	return spec, err
}

// UpdateSpec replaces the spec of an entity field.
func (c *Client) UpdateSpec(ctx context.Context, entity, field string, req api.SpecRequest) (reconcile.EntitySpec, error) {
	var spec reconcile.EntitySpec
	err := c.do(ctx, http.MethodPut, fieldPath(entity, field, "spec"), nil, req, &spec)
	return spec, err
}

// UpdateMapping edits one mapping directly.
func (c *Client) UpdateMapping(ctx context.Context, entity, field string, req api.MappingRequest) (api.MappingResponse, error) {
	var resp api.MappingResponse
	err := c.do(ctx, http.MethodPut, fieldPath(entity, field, "mappings"), nil, req, &resp)
	return resp, err
}

// Candidates looks up candidates for a row without changing it. An empty
// query searches for the row's source value.
func (c *Client) Candidates(ctx context.Context, entity, field, sourceValue, query string) (api.SearchResponse, error) {
	var values url.Values
	if strings.TrimSpace(query) != "" {
		values = url.Values{"query": {query}}
	}
	var resp api.SearchResponse
	err := c.do(ctx, http.MethodGet, rowPath(entity, field, sourceValue, "candidates"), values, nil, &resp)
	return resp, err
}

// Accept maps a row to a candidate.
func (c *Client) Accept(ctx context.Context, entity, field, sourceValue string, candidate reconcile.Candidate, cascade bool) (api.MappingResponse, error) {
	var resp api.MappingResponse
	err := c.do(ctx, http.MethodPost, rowPath(entity, field, sourceValue, "accept"), nil, api.AcceptRequest{Candidate: candidate, Cascade: cascade}, &resp)
	return resp, err
}

// AcceptAlternative maps a row to a result of a free-text search.
func (c *Client) AcceptAlternative(ctx context.Context, entity, field, sourceValue string, req api.AlternativeAcceptRequest) (api.MappingResponse, error) {
	var resp api.MappingResponse
	err := c.do(ctx, http.MethodPost, rowPath(entity, field, sourceValue, "accept-alternative"), nil, req, &resp)
	return resp, err
}

// Reject records that a candidate is wrong for a row. The row is unchanged.
func (c *Client) Reject(ctx context.Context, entity, field, sourceValue string, candidate reconcile.Candidate) error {
	return c.do(ctx, http.MethodPost, rowPath(entity, field, sourceValue, "reject"), nil, api.RejectRequest{Candidate: candidate}, nil)
}

// MarkUnmatched marks a row will-not-match. A nil note keeps the default.
func (c *Client) MarkUnmatched(ctx context.Context, entity, field, sourceValue string, notes *string) (api.MappingResponse, error) {
	var resp api.MappingResponse
	err := c.do(ctx, http.MethodPost, rowPath(entity, field, sourceValue, "unmatched"), nil, api.UnmatchedRequest{Notes: notes}, &resp)
	return resp, err
}

// ClearUnmatched returns a will-not-match row to classification.
func (c *Client) ClearUnmatched(ctx context.Context, entity, field, sourceValue string, cascade bool) (api.MappingResponse, error) {
	var values url.Values
	if cascade {
		values = url.Values{"cascade": {"true"}}
	}
	var resp api.MappingResponse
	err := c.do(ctx, http.MethodDelete, rowPath(entity, field, sourceValue, "unmatched"), values, nil, &resp)
	return resp, err
}

// BulkAccept accepts the top candidate of each named row.
func (c *Client) BulkAccept(ctx context.Context, entity, field string, sourceValues []string, cascade bool) (review.BulkResult, error) {
	return c.bulk(ctx, fieldPath(entity, field, "bulk-accept"), sourceValues, cascade)
}

// BulkReject clears the mapping and candidates of each named row.
func (c *Client) BulkReject(ctx context.Context, entity, field string, sourceValues []string, cascade bool) (review.BulkResult, error) {
	return c.bulk(ctx, fieldPath(entity, field, "bulk-reject"), sourceValues, cascade)
}

func (c *Client) bulk(ctx context.Context, path string, sourceValues []string, cascade bool) (review.BulkResult, error) {
	var result review.BulkResult
	err := c.do(ctx, http.MethodPost, path, nil, api.BulkRequest{SourceValues: sourceValues, Cascade: cascade}, &result)
	return result, err
}

// Export writes the CSV export of an entity field to w.
func (c *Client) Export(ctx context.Context, entity, field string, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, fieldPath(entity, field, "export.csv"), nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/csv")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// Entities lists the materialization graph.
func (c *Client) Entities(ctx context.Context) ([]store.EntityState, error) {
	var resp api.EntitiesResponse
	if err := c.do(ctx, http.MethodGet, "/api/entities", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entities, nil
}

// Dependents lists the transitive dependents of an entity.
func (c *Client) Dependents(ctx context.Context, entity string) ([]store.Dependent, error) {
	var resp api.DependentsResponse
	if err := c.do(ctx, http.MethodGet, entityPath(entity, "dependents"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Dependents, nil
}

// AddDependency records that entity is derived from dependsOn.
func (c *Client) AddDependency(ctx context.Context, entity, dependsOn string) error {
	return c.do(ctx, http.MethodPost, entityPath(entity, "dependencies"), nil, api.DependencyRequest{DependsOn: dependsOn}, nil)
}

// Materialize marks an entity as materialized.
func (c *Client) Materialize(ctx context.Context, entity string) error {
	return c.do(ctx, http.MethodPost, entityPath(entity, "materialize"), nil, nil, nil)
}

// Unmaterialize unmaterializes an entity, and with cascade its materialized
// dependents. Without cascade a materialized dependent yields a
// *CascadeConflict.
func (c *Client) Unmaterialize(ctx context.Context, entity string, cascade bool) ([]string, error) {
	var resp api.UnmaterializeResponse
	if err := c.do(ctx, http.MethodPost, entityPath(entity, "unmaterialize"), nil, api.UnmaterializeRequest{Cascade: cascade}, &resp); err != nil {
		return nil, err
	}
	return resp.Unmaterialized, nil
}

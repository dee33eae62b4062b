package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"reconcile/internal/api"
	"reconcile/internal/operation"
	"reconcile/internal/reconcile"
	"reconcile/internal/review"
	"reconcile/internal/store"
)

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	key, err := operationKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query := r.URL.Query()

	var filter reconcile.Filter
	for _, raw := range query["bucket"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := reconcile.ParseStatus(part)
			if err != nil {
				s.writeError(w, r, badRequest("%v", err))
				return
			}
			filter.Buckets = append(filter.Buckets, status)
		}
	}
	filter.Query = query.Get("q")

	var override *reconcile.Thresholds
	autoRaw, reviewRaw := query.Get("auto_accept"), query.Get("review")
	if autoRaw != "" || reviewRaw != "" {
		thresholds, err := s.coordinator.Thresholds(r.Context(), key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if thresholds.AutoAccept, err = floatQuery(autoRaw, thresholds.AutoAccept); err != nil {
			s.writeError(w, r, badRequest("auto_accept: %v", err))
			return
		}
		if thresholds.Review, err = floatQuery(reviewRaw, thresholds.Review); err != nil {
			s.writeError(w, r, badRequest("review: %v", err))
			return
		}
		if err := thresholds.Validate(); err != nil {
			s.writeError(w, r, badRequest("%v", err))
			return
		}
		override = &thresholds
	}

	result, err := s.coordinator.Rows(r.Context(), key, override, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RowsResponse{
		Entity:      key.Entity,
		TargetField: key.TargetField,
		Thresholds:  result.Thresholds,
		Summary:     result.Summary,
		Rows:        result.Rows,
	})
}

func floatQuery(raw string, fallback float64) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	key, err := operationKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.ImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	records := make([]store.SourceRecord, 0, len(req.Records))
	for _, record := range req.Records {
		records = append(records, store.SourceRecord{SourceValue: record.SourceValue, Key: record.Key, Values: record.Values})
	}
	result, err := s.store.ImportRecords(r.Context(), key.Entity, key.TargetField, records)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ImportResponse{Inserted: result.Inserted, Duplicates: result.Duplicates, Blank: result.Blank})
}

func (s *Server) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	key, err := operationKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spec, err := s.coordinator.Spec(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handlePutSpec(w http.ResponseWriter, r *http.Request) {
	key, err := operationKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.SpecRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	spec := reconcile.EntitySpec{
		Entity:           key.Entity,
		TargetField:      key.TargetField,
		Thresholds:       reconcile.Thresholds{AutoAccept: req.AutoAcceptThreshold, Review: req.ReviewThreshold},
		PropertyMappings: req.PropertyMappings,
	}
	if err := spec.Thresholds.Validate(); err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	if err := s.coordinator.UpdateSpec(r.Context(), spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	if spec.PropertyMappings == nil {
		spec.PropertyMappings = map[string]string{}
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	key, err := operationKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.MappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.SourceValue) == "" {
		s.writeError(w, r, badRequest("source_value is required"))
		return
	}
	result, err := s.coordinator.UpdateMapping(r.Context(), key, review.MappingRequest{
		SourceValue: req.SourceValue,
		TargetID:    req.TargetID,
		Notes:       req.Notes,
		Cascade:     req.Cascade,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromMappingResult(result))
}

func (s *Server) handleBulkAccept(w http.ResponseWriter, r *http.Request) {
	s.handleBulk(w, r, s.coordinator.BulkAccept)
}

func (s *Server) handleBulkReject(w http.ResponseWriter, r *http.Request) {
	s.handleBulk(w, r, s.coordinator.BulkReject)
}

type bulkFunc func(ctx context.Context, key operation.Key, sourceValues []string, cascade bool) (review.BulkResult, error)

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request, apply bulkFunc) {
	key, err := operationKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.BulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.SourceValues) == 0 {
		s.writeError(w, r, badRequest("source_values must not be empty"))
		return
	}
	result, err := apply(r.Context(), key, req.SourceValues, req.Cascade)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	key, err := operationKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := s.coordinator.Export(r.Context(), key, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", key.Entity+"-"+key.TargetField+".csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

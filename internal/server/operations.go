package server

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"reconcile/internal/api"
	"reconcile/internal/batch"
	"reconcile/internal/operation"
	"reconcile/internal/reconcile"
)

const operationHistoryLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := 0
	for _, op := range s.registry.List() {
		if !op.Status.Terminal() {
			active++
		}
	}
	writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:           "ok",
		DatabasePath:     s.store.Path(),
		ActiveOperations: active,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req api.StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key := operation.Key{Entity: strings.TrimSpace(req.Entity), TargetField: strings.TrimSpace(req.TargetField)}
	if key.Entity == "" || key.TargetField == "" {
		s.writeError(w, r, badRequest("entity and target_field are required"))
		return
	}
	thresholds, err := s.coordinator.Thresholds(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.AutoAcceptThreshold != nil {
		thresholds.AutoAccept = *req.AutoAcceptThreshold
	}
	if req.ReviewThreshold != nil {
		thresholds.Review = *req.ReviewThreshold
	}
	if err := thresholds.Validate(); err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}

	tracker, err := s.runner.Start(s.runCtx, batch.Request{
		Entity:      key.Entity,
		TargetField: key.TargetField,
		Thresholds:  thresholds,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, api.StartResponse{OperationID: tracker.ID()})
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	ops := s.registry.List()
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		seen[op.ID] = struct{}{}
	}
	stored, err := s.store.ListOperations(r.Context(), operationHistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, op := range stored {
		if _, ok := seen[op.ID]; !ok {
			ops = append(ops, op)
		}
	}
	slices.SortStableFunc(ops, func(a, b operation.Operation) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if ops == nil {
		ops = []operation.Operation{}
	}
	writeJSON(w, http.StatusOK, api.OperationsResponse{Operations: ops})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.registry.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	op, err := s.registry.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	candidates, err := s.coordinator.Search(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []reconcile.Candidate{}
	}
	writeJSON(w, http.StatusOK, api.SearchResponse{Query: strings.TrimSpace(query), Candidates: candidates})
}

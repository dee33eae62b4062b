package server

import (
	"net/http"
	"strings"

	"reconcile/internal/api"
	"reconcile/internal/operation"
	"reconcile/internal/reconcile"
)

func rowTarget(r *http.Request) (operation.Key, string, error) {
	key, err := operationKey(r)
	if err != nil {
		return operation.Key{}, "", err
	}
	value, err := pathParam(r, "value")
	if err != nil {
		return operation.Key{}, "", err
	}
	return key, value, nil
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	key, value, err := rowTarget(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query := r.URL.Query().Get("query")
	candidates, err := s.coordinator.FetchCandidates(r.Context(), key, value, query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []reconcile.Candidate{}
	}
	if strings.TrimSpace(query) == "" {
		query = value
	}
	writeJSON(w, http.StatusOK, api.SearchResponse{Query: strings.TrimSpace(query), Candidates: candidates})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	key, value, err := rowTarget(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.AcceptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.coordinator.Accept(r.Context(), key, value, req.Candidate, req.Cascade)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromMappingResult(result))
}

func (s *Server) handleAcceptAlternative(w http.ResponseWriter, r *http.Request) {
	key, value, err := rowTarget(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.AlternativeAcceptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.CandidateID) == "" {
		s.writeError(w, r, badRequest("candidate_id is required"))
		return
	}
	result, err := s.coordinator.AcceptAlternative(r.Context(), key, value, req.Query, req.CandidateID, req.Cascade)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromMappingResult(result))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	key, value, err := rowTarget(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.RejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.coordinator.Reject(r.Context(), key, value, req.Candidate); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkUnmatched(w http.ResponseWriter, r *http.Request) {
	key, value, err := rowTarget(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.UnmatchedRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	result, err := s.coordinator.MarkWillNotMatch(r.Context(), key, value, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromMappingResult(result))
}

func (s *Server) handleClearUnmatched(w http.ResponseWriter, r *http.Request) {
	key, value, err := rowTarget(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.coordinator.ClearWillNotMatch(r.Context(), key, value, boolQuery(r, "cascade"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromMappingResult(result))
}

package server

import (
	"net/http"
	"strings"

	"reconcile/internal/api"
	"reconcile/internal/store"
)

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.store.Entities(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entities == nil {
		entities = []store.EntityState{}
	}
	writeJSON(w, http.StatusOK, api.EntitiesResponse{Entities: entities})
}

func (s *Server) handleDependents(w http.ResponseWriter, r *http.Request) {
	entity, err := pathParam(r, "entity")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dependents, err := s.store.Dependents(r.Context(), entity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if dependents == nil {
		dependents = []store.Dependent{}
	}
	writeJSON(w, http.StatusOK, api.DependentsResponse{Entity: entity, Dependents: dependents})
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	entity, err := pathParam(r, "entity")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.DependencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	dependsOn := strings.TrimSpace(req.DependsOn)
	if dependsOn == "" {
		s.writeError(w, r, badRequest("depends_on is required"))
		return
	}
	if err := s.store.DependOn(r.Context(), entity, dependsOn); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	entity, err := pathParam(r, "entity")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.Materialize(r.Context(), entity); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnmaterialize(w http.ResponseWriter, r *http.Request) {
	entity, err := pathParam(r, "entity")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.UnmaterializeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	changed, err := s.store.Unmaterialize(r.Context(), entity, req.Cascade)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if changed == nil {
		changed = []string{}
	}
	writeJSON(w, http.StatusOK, api.UnmaterializeResponse{Unmaterialized: changed})
}

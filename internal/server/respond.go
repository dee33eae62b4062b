package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"reconcile/internal/api"
	"reconcile/internal/authority"
	"reconcile/internal/logging"
	"reconcile/internal/operation"
	"reconcile/internal/reconcile"
	"reconcile/internal/review"
	"reconcile/internal/store"
)

const maxBodyBytes = 16 << 20

// requestError is a client mistake answered with 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("request failed",
			logging.String("path", r.URL.Path),
			logging.String("type", body.Type),
			logging.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, api.ErrorResponse) {
	var (
		reqErr     *requestError
		cascadeErr *store.CascadeError
		activeErr  *operation.ActiveError
		parseErr   *reconcile.ParseError
		statusErr  *authority.StatusError
	)
	body := api.ErrorResponse{Error: err.Error()}
	switch {
	case errors.As(err, &reqErr):
		body.Type = api.ErrorTypeInvalidRequest
		return http.StatusBadRequest, body
	case errors.As(err, &cascadeErr):
		body.Type = api.ErrorTypeCascadeRequired
		body.Suggestion = cascadeErr.Suggestion()
		body.RequiresCascade = true
		body.AffectedEntities = cascadeErr.AffectedEntities
		return http.StatusConflict, body
	case errors.As(err, &activeErr):
		body.Type = api.ErrorTypeOperationActive
		body.OperationID = activeErr.OperationID
		body.Suggestion = "wait for operation " + activeErr.OperationID + " to finish or cancel it"
		return http.StatusConflict, body
	case errors.Is(err, review.ErrBatchActive):
		body.Type = api.ErrorTypeBatchActive
		body.Suggestion = "wait for the batch run to finish or cancel it"
		return http.StatusConflict, body
	case errors.Is(err, operation.ErrNotFound):
		body.Type = api.ErrorTypeNotFound
		return http.StatusNotFound, body
	case errors.Is(err, store.ErrInvalidDependency):
		body.Type = api.ErrorTypeInvalidRequest
		return http.StatusBadRequest, body
	case errors.Is(err, store.ErrRowNotFound):
		body.Type = api.ErrorTypeRowNotFound
		body.Suggestion = "import the source rows before mapping them"
		return http.StatusNotFound, body
	case errors.Is(err, review.ErrCandidateNotFound):
		body.Type = api.ErrorTypeCandidateNotFound
		return http.StatusNotFound, body
	case errors.Is(err, authority.ErrQueryTooShort):
		body.Type = api.ErrorTypeQueryTooShort
		return http.StatusBadRequest, body
	case errors.As(err, &parseErr):
		body.Type = api.ErrorTypeMalformedReference
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, authority.ErrUnavailable):
		body.Type = api.ErrorTypeAuthorityUnavailable
		body.Suggestion = "check the authority service and retry"
		return http.StatusBadGateway, body
	case errors.As(err, &statusErr):
		body.Type = api.ErrorTypeAuthorityError
		return http.StatusBadGateway, body
	default:
		body.Type = api.ErrorTypeInternal
		return http.StatusInternalServerError, body
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func operationKey(r *http.Request) (operation.Key, error) {
	entity, err := pathParam(r, "entity")
	if err != nil {
		return operation.Key{}, err
	}
	field, err := pathParam(r, "field")
	if err != nil {
		return operation.Key{}, err
	}
	return operation.Key{Entity: entity, TargetField: field}, nil
}

func pathParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	value := raw
	// chi matches on RawPath when the request carried escaped slashes.
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(raw)
		if err != nil {
			return "", badRequest("invalid %s %q", name, raw)
		}
		value = unescaped
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", badRequest("%s is required", name)
	}
	return value, nil
}

func boolQuery(r *http.Request, name string) bool {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	return value == "1" || strings.EqualFold(value, "true")
}

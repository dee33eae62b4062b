package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"reconcile/internal/api"
)

var (
	// ErrStreamDisrupted reports a progress stream that closed before a
	// terminal status. The outcome of the operation is unknown.
	ErrStreamDisrupted = errors.New("progress stream ended before the operation finished")
	// ErrMalformedConflict reports a cascade conflict whose payload does
	// not list the affected entities.
	ErrMalformedConflict = errors.New("malformed cascade conflict payload")
)

// APIError is a non-2xx daemon response.
type APIError struct {
	StatusCode int
	api.ErrorResponse
}

func (e *APIError) Error() string {
	msg := e.ErrorResponse.Error
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Type != "" {
		msg = e.Type + ": " + msg
	}
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

// CascadeConflict is a write refused because materialized entities depend
// on the data it changes. Retrying with cascade set unmaterializes them.
type CascadeConflict struct {
	Message          string
	Suggestion       string
	AffectedEntities []string
}

func (e *CascadeConflict) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "cascade required: " + strings.Join(e.AffectedEntities, ", ")
}

// AsCascadeConflict unwraps a *CascadeConflict from err.
func AsCascadeConflict(err error) (*CascadeConflict, bool) {
	var conflict *CascadeConflict
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// IsType reports whether err is an *APIError of the given type.
func IsType(err error, errorType string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == errorType
}

type conflictPayload struct {
	RequiresCascade  bool      `json:"requires_cascade"`
	AffectedEntities *[]string `json:"affected_entities"`
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		apiErr.ErrorResponse.Error = fmt.Sprintf("%s: %s", http.StatusText(resp.StatusCode), strings.TrimSpace(string(raw)))
		if len(raw) == 0 {
			apiErr.ErrorResponse.Error = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusConflict && strings.Contains(string(raw), "requires_cascade") {
			return fmt.Errorf("%w: %s", ErrMalformedConflict, strings.TrimSpace(string(raw)))
		}
		return apiErr
	}

	if resp.StatusCode == http.StatusConflict && (body.RequiresCascade || body.Type == api.ErrorTypeCascadeRequired) {
		var payload conflictPayload
		_ = json.Unmarshal(raw, &payload)
		if payload.AffectedEntities == nil || len(*payload.AffectedEntities) == 0 {
			return fmt.Errorf("%w: %s", ErrMalformedConflict, body.Error)
		}
		return &CascadeConflict{
			Message:          body.Error,
			Suggestion:       body.Suggestion,
			AffectedEntities: *payload.AffectedEntities,
		}
	}
	return &APIError{StatusCode: resp.StatusCode, ErrorResponse: body}
}

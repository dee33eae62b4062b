package reconcile

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrMalformedReference marks candidate references with no extractable identifier.
var ErrMalformedReference = errors.New("malformed candidate reference")

// Identifier is the authority's record identifier (e.g. "Q42" or "12345").
type Identifier string

func (id Identifier) String() string { return string(id) }

// ParseError describes why a reference could not be parsed.
type ParseError struct {
	Ref    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed candidate reference %q: %s", e.Ref, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrMalformedReference }

var identifierPattern = regexp.MustCompile(`^[A-Za-z]*[0-9]+$`)

// ParseIdentifier extracts the identifier embedded in a candidate reference.
// URIs yield their fragment, or else their last path segment; URNs yield the
// part after the final colon; anything else must itself be an identifier.
func ParseIdentifier(ref string) (Identifier, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", &ParseError{Ref: ref, Reason: "empty reference"}
	}

	segment := trimmed
	switch {
	case strings.Contains(trimmed, "://"):
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", &ParseError{Ref: ref, Reason: err.Error()}
		}
		if parsed.Fragment != "" {
			segment = parsed.Fragment
		} else {
			segment = lastSegment(parsed.Path)
		}
	case strings.Contains(trimmed, ":"):
		segment = trimmed[strings.LastIndex(trimmed, ":")+1:]
	}

	if segment == "" {
		return "", &ParseError{Ref: ref, Reason: "no identifier segment"}
	}
	if !identifierPattern.MatchString(segment) {
		return "", &ParseError{Ref: ref, Reason: fmt.Sprintf("segment %q is not an identifier", segment)}
	}
	return Identifier(segment), nil
}

func lastSegment(path string) string {
	path = strings.TrimRight(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

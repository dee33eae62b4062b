package reconcile_test

import (
	"errors"
	"testing"

	"reconcile/internal/reconcile"
)

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		ref  string
		want reconcile.Identifier
	}{
		{"https://www.wikidata.org/entity/Q42", "Q42"},
		{"https://authority.example/record/12345/", "12345"},
		{"https://authority.example/record?page=1#Q7", "Q7"},
		{"urn:authority:site:881", "881"},
		{"Q99", "Q99"},
		{"  2048 ", "2048"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := reconcile.ParseIdentifier(tt.ref)
			if err != nil {
				t.Fatalf("ParseIdentifier(%q) error: %v", tt.ref, err)
			}
			if got != tt.want {
				t.Fatalf("ParseIdentifier(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestParseIdentifierMalformed(t *testing.T) {
	for _, ref := range []string{"", "   ", "https://authority.example/", "https://authority.example/record/abc", "not an id", "urn:authority:"} {
		t.Run(ref, func(t *testing.T) {
			_, err := reconcile.ParseIdentifier(ref)
			if !errors.Is(err, reconcile.ErrMalformedReference) {
				t.Fatalf("expected ErrMalformedReference, got %v", err)
			}
			var parseErr *reconcile.ParseError
			if !errors.As(err, &parseErr) || parseErr.Ref != ref {
				t.Fatalf("expected *ParseError carrying ref, got %#v", err)
			}
		})
	}
}

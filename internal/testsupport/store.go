package testsupport

import (
	"context"
	"testing"

	"reconcile/internal/config"
	"reconcile/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// ImportValues imports one record per source value for entity.field.
func ImportValues(t testing.TB, st *store.Store, entity, field string, values ...string) {
	t.Helper()

	records := make([]store.SourceRecord, 0, len(values))
	for _, value := range values {
		records = append(records, store.SourceRecord{SourceValue: value, Key: []string{value}})
	}
	if _, err := st.ImportRecords(context.Background(), entity, field, records); err != nil {
		t.Fatalf("store.ImportRecords: %v", err)
	}
}

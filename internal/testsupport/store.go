package testsupport

import (
	"context"
	"testing"

	"radiologger/internal/catalog"
	"radiologger/internal/config"
)

// MustOpenStore opens a catalog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewStation inserts a station for tests using the provided store.
func NewStation(t testing.TB, store *catalog.Store, st catalog.Station) *catalog.Station {
	t.Helper()

	saved, err := store.UpsertStation(context.Background(), &st)
	if err != nil {
		t.Fatalf("store.UpsertStation: %v", err)
	}
	return saved
}

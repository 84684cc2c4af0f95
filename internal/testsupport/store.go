package testsupport

import (
	"testing"

	"tether/internal/config"
	"tether/internal/failures"
)

// MustOpenFailures opens a failures.Store for tests and registers cleanup.
func MustOpenFailures(t testing.TB, cfg *config.Config) *failures.Store {
	t.Helper()

	store, err := failures.Open(cfg)
	if err != nil {
		t.Fatalf("failures.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

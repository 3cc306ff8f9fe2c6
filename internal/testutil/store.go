package testutil

import (
	"testing"

	"github.com/HerbHall/hubnet/internal/store"
)

// NewStore creates an in-memory SQLiteStore that is closed when the test
// completes.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("testutil.NewStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

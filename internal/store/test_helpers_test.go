package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/handoff/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestOperation creates a pending operation with minimal fields.
func createTestOperation(id string, kind ir.Kind) ir.Operation {
	return ir.Operation{
		ID:        id,
		Kind:      kind,
		CreatedAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		Status:    ir.StatusPending,
	}
}

package testutil

import (
	"testing"

	"vitalsync/internal/chunk"
	"vitalsync/internal/database"
	"vitalsync/internal/vital"
)

// NewTestBuffer creates an in-memory edge buffer with migrations applied.
// It is closed when the test completes.
func NewTestBuffer(t *testing.T, clock vital.Clock) *database.SQLiteBuffer {
	t.Helper()

	b, err := database.OpenBuffer(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open buffer: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// NewTestCentralStore creates an in-memory central store with migrations
// applied, using hook for tier writes and zstd for compaction.
func NewTestCentralStore(t *testing.T, hook vital.TierHook, clock vital.Clock) *database.CentralStore {
	t.Helper()

	s, err := database.OpenCentralStore(":memory:", true, database.CentralOptions{
		Hook:  hook,
		Codec: chunk.CodecZstd,
		Clock: clock,
	})
	if err != nil {
		t.Fatalf("failed to open central store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

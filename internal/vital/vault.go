package vital

import (
	"context"
	"io"
)

// Vault stores opaque archive objects. All operations stream so large
// chunks are never held twice in memory.
type Vault interface {
	// PutContent stores content under key. Storing the same key twice is safe.
	// size is the number of bytes that will be read from r.
	PutContent(ctx context.Context, key string, r io.Reader, size int64) error

	// GetContent writes the content stored under key to w.
	GetContent(ctx context.Context, key string, w io.Writer) error

	// DeleteContent removes key. Deleting a missing key is not an error.
	DeleteContent(ctx context.Context, key string) error

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

package vital

import (
	"context"
	"iter"
	"time"
)

// SampleBuffer is the durable on-device queue of samples awaiting upload.
// A sample leaves the buffer only through Remove (after the server
// confirmed it) or PruneBefore (local retention).
type SampleBuffer interface {
	// Append stores a sample. Re-appending an existing composite key is a no-op.
	Append(ctx context.Context, s *Sample) error

	// Pending yields up to limit buffered, non-quarantined samples in
	// insertion order. Each range over the sequence starts from the oldest.
	Pending(ctx context.Context, limit int) iter.Seq2[Sample, error]

	// Remove deletes exactly the given keys and reports how many rows went.
	Remove(ctx context.Context, keys []SampleKey) (int64, error)

	// Quarantine parks samples the server rejected so they no longer take
	// up batch slots. Quarantined samples stay in the buffer.
	Quarantine(ctx context.Context, rejects []ValidationError) (int64, error)

	// Requeue returns every quarantined sample to the pending queue.
	Requeue(ctx context.Context) (int64, error)

	// Stats summarises the buffer contents.
	Stats(ctx context.Context) (*BufferStats, error)

	// PruneBefore drops buffered samples with a timestamp before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BufferStats describes the state of a SampleBuffer.
type BufferStats struct {
	Pending     int64
	Quarantined int64
	Oldest      *time.Time // nil when the buffer is empty
}

// ProfileStore keeps the device's cached view of the user's tier.
type ProfileStore interface {
	Tier(ctx context.Context) (Tier, error)
	SetTier(ctx context.Context, tier Tier) error
}

// SyncHistory records the outcome of each sync attempt on the device.
type SyncHistory interface {
	RecordSyncRun(ctx context.Context, r *SyncReport) error
	ListSyncRuns(ctx context.Context, limit int) ([]*SyncReport, error)
}

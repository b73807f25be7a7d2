package vital

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// RetentionWriter persists a user's retention record. It is handed to a
// TierHook so the record is written in the caller's transaction.
type RetentionWriter interface {
	UpsertRetention(ctx context.Context, userID int64, days int, at time.Time) error
}

// TierHook is invoked whenever a user's tier is written, inside the same
// transaction as the tier write.
type TierHook interface {
	OnTierWrite(ctx context.Context, w RetentionWriter, userID int64, tier Tier) error
}

// UserDirectory resolves authenticated principals to users.
type UserDirectory interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	GetUser(ctx context.Context, userID int64) (*User, *RetentionRecord, error)
}

// DeviceDirectory answers device ownership questions.
type DeviceDirectory interface {
	DeviceOwner(ctx context.Context, deviceID int64) (int64, error)
}

// SampleWriter stores one sample atomically. It reports false when the
// composite key already existed.
type SampleWriter interface {
	InsertSample(ctx context.Context, s *Sample) (bool, error)
}

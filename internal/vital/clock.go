package vital

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces sample IDs on the device.
type IDGenerator interface {
	NewID() int64
}

// UUIDGenerator derives positive int64 IDs from random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint64(u[:8]) >> 1)
}

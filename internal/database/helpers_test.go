package database

import (
	"context"
	"testing"
	"time"

	"vitalsync/internal/chunk"
	"vitalsync/internal/vital"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

// daysHook maps tiers to retention days the way the production
// propagator does.
type daysHook struct {
	clock vital.Clock
	calls int
}

func (h *daysHook) OnTierWrite(ctx context.Context, w vital.RetentionWriter, userID int64, tier vital.Tier) error {
	h.calls++
	days := 60
	if tier == vital.TierPremium {
		days = 365
	}
	return w.UpsertRetention(ctx, userID, days, h.clock.Now())
}

func newTestBuffer(t *testing.T) *SQLiteBuffer {
	t.Helper()

	b, err := OpenBuffer(":memory:", &testClock{now: testNow})
	if err != nil {
		t.Fatalf("OpenBuffer() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func newTestCentral(t *testing.T) (*CentralStore, *testClock, *daysHook) {
	t.Helper()

	clock := &testClock{now: testNow}
	hook := &daysHook{clock: clock}
	s, err := OpenCentralStore(":memory:", true, CentralOptions{Hook: hook, Codec: chunk.CodecZstd, Clock: clock})
	if err != nil {
		t.Fatalf("OpenCentralStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock, hook
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func newSample(id, userID, deviceID int64, ts time.Time) *vital.Sample {
	return &vital.Sample{
		ID:           id,
		UserID:       userID,
		DeviceID:     deviceID,
		Timestamp:    ts,
		HeartRate:    intPtr(72),
		HRVRMSSD:     floatPtr(41.5),
		ModelVersion: "v1.0",
		RawFeatures:  vital.Payload{"schema_version": float64(1)},
	}
}

// seedUser creates a user with one device.
func seedUser(t *testing.T, s *CentralStore, name string, tier vital.Tier) (*vital.User, *vital.Device) {
	t.Helper()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, name, name+"@example.com", tier)
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	d, err := s.RegisterDevice(ctx, u.ID, name+"-watch", "watch", "wearable")
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	return u, d
}

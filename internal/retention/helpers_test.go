package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vitalsync/internal/database"
	"vitalsync/internal/testutil"
	"vitalsync/internal/vault"
	"vitalsync/internal/vital"
)

const day = 24 * time.Hour

type fixture struct {
	clock *testutil.StubClock
	store *database.CentralStore
	vault *vault.MemoryVault
	enc   vital.Encryptor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.FixedClock()
	prop := NewPropagator(clock, vital.NewNopLogger())
	return &fixture{
		clock: clock,
		store: testutil.NewTestCentralStore(t, prop, clock),
		vault: testutil.NewTestVault(),
		enc:   testutil.NewTestEncryptor(),
	}
}

func (f *fixture) engine(withArchive bool) *Engine {
	opts := EngineOptions{Clock: f.clock}
	if withArchive {
		opts.Archiver = NewArchiver(f.vault, f.enc, vital.NewNopLogger())
	}
	return NewEngine(f.store, opts)
}

// seed creates a user with a device and one sample per age, aged back
// from the fixture's clock.
func (f *fixture) seed(t *testing.T, name string, tier vital.Tier, ages ...time.Duration) *vital.User {
	t.Helper()
	ctx := context.Background()

	u, err := f.store.CreateUser(ctx, name, name+"@example.com", tier)
	require.NoError(t, err)
	d, err := f.store.RegisterDevice(ctx, u.ID, name+"-band", "band", "wearable")
	require.NoError(t, err)

	for i, age := range ages {
		s := testutil.NewSample(u.ID*1000+int64(i), u.ID, d.ID, f.clock.Now().Add(-age))
		inserted, err := f.store.InsertSample(ctx, &s)
		require.NoError(t, err)
		require.True(t, inserted)
	}
	return u
}

func (f *fixture) all(t *testing.T, userID int64) []vital.Sample {
	t.Helper()
	out, err := f.store.ListSamples(context.Background(), userID, time.Unix(0, 0), f.clock.Now().Add(day))
	require.NoError(t, err)
	return out
}

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vitalsync/internal/auth"
	"vitalsync/internal/database"
	"vitalsync/internal/retention"
	"vitalsync/internal/testutil"
	"vitalsync/internal/vital"
)

type fixture struct {
	clock   *testutil.StubClock
	store   *database.CentralStore
	devices map[string]int64
	users   map[string]*vital.User
}

// newFixture creates alice (premium), bob (free) and carol (premium),
// each with one device named after them.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.FixedClock()
	f := &fixture{
		clock:   clock,
		store:   testutil.NewTestCentralStore(t, retention.NewPropagator(clock, vital.NewNopLogger()), clock),
		devices: map[string]int64{},
		users:   map[string]*vital.User{},
	}

	ctx := context.Background()
	for name, tier := range map[string]vital.Tier{
		"alice": vital.TierPremium,
		"bob":   vital.TierFree,
		"carol": vital.TierPremium,
	} {
		u, err := f.store.CreateUser(ctx, name, name+"@example.com", tier)
		require.NoError(t, err)
		d, err := f.store.RegisterDevice(ctx, u.ID, name+"-band", "band", "wearable")
		require.NoError(t, err)
		f.users[name] = u
		f.devices[name] = d.ID
	}
	return f
}

func (f *fixture) ingestor() *Ingestor {
	return NewIngestor(f.store, f.store, f.store, nil, vital.NewNopLogger())
}

func (f *fixture) verifier() auth.StaticVerifier {
	return auth.StaticVerifier{
		"alice-token": "alice",
		"bob-token":   "bob",
		"carol-token": "carol",
		"ghost-token": "ghost",
	}
}

// batch returns n valid samples for name, one second apart.
func (f *fixture) batch(name string, n int) []vital.Sample {
	u := f.users[name]
	out := make([]vital.Sample, n)
	for i := range out {
		ts := f.clock.Now().Add(-time.Duration(n-i) * time.Second)
		out[i] = testutil.NewSample(int64(i+1), u.ID, f.devices[name], ts)
	}
	return out
}

func (f *fixture) hotCount(t *testing.T, name string) int64 {
	t.Helper()
	hot, _, err := f.store.CountSamples(context.Background(), f.users[name].ID)
	require.NoError(t, err)
	return hot
}

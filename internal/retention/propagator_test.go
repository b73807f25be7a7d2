package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsync/internal/testutil"
	"vitalsync/internal/vital"
)

type recordingWriter struct {
	userID int64
	days   int
	at     time.Time
	err    error
}

func (w *recordingWriter) UpsertRetention(_ context.Context, userID int64, days int, at time.Time) error {
	w.userID, w.days, w.at = userID, days, at
	return w.err
}

func TestPropagator_OnTierWrite(t *testing.T) {
	clock := testutil.FixedClock()
	p := NewPropagator(clock, vital.NewNopLogger())

	tests := []struct {
		tier vital.Tier
		days int
	}{
		{vital.TierFree, 60},
		{vital.TierPremium, 365},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			w := &recordingWriter{}
			require.NoError(t, p.OnTierWrite(context.Background(), w, 42, tt.tier))
			assert.EqualValues(t, 42, w.userID)
			assert.Equal(t, tt.days, w.days)
			assert.Equal(t, clock.Now(), w.at)
		})
	}
}

func TestPropagator_OnTierWrite_WriterError(t *testing.T) {
	p := NewPropagator(testutil.FixedClock(), vital.NewNopLogger())
	w := &recordingWriter{err: errors.New("locked")}

	err := p.OnTierWrite(context.Background(), w, 1, vital.TierPremium)
	assert.ErrorContains(t, err, "locked")
}

func TestPropagator_KeepsStoreConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.store.CreateUser(ctx, "hana", "hana@example.com", vital.TierFree)
	require.NoError(t, err)

	_, rec, err := f.store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 60, rec.RetentionDays)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.store.SetUserTier(ctx, u.ID, vital.TierPremium))

	got, rec, err := f.store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, vital.TierPremium, got.Tier)
	assert.Equal(t, 365, rec.RetentionDays)
	assert.Equal(t, f.clock.Now(), rec.UpdatedAt)

	require.NoError(t, f.store.SetUserTier(ctx, u.ID, vital.TierFree))
	got, rec, err = f.store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, vital.TierFree, got.Tier)
	assert.Equal(t, 60, rec.RetentionDays)
}

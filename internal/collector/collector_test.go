package collector

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

func TestCollectOnce(t *testing.T) {
	clock := testutil.FixedClock()
	buffer := testutil.NewTestBuffer(t, clock)
	c := New(buffer, NewSyntheticSource(1), Options{
		UserID:   7,
		DeviceID: 3,
		IDs:      testutil.NewStubIDGenerator(),
		Clock:    clock,
	})
	ctx := context.Background()

	s, err := c.CollectOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.ID)
	assert.Equal(t, int64(7), s.UserID)
	assert.Equal(t, int64(3), s.DeviceID)
	assert.True(t, clock.Now().Equal(s.Timestamp))
	assert.Equal(t, SyntheticModelVersion, s.ModelVersion)
	assert.Equal(t, vital.PayloadSchemaVersion, s.RawFeatures["schema_version"])

	clock.Advance(5 * time.Second)
	_, err = c.CollectOnce(ctx)
	require.NoError(t, err)

	var got []vital.Sample
	for s, err := range buffer.Pending(ctx, 10) {
		require.NoError(t, err)
		got = append(got, s)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[1].ID)
	assert.Equal(t, float64(vital.PayloadSchemaVersion), got[0].RawFeatures["schema_version"])
}

func TestSyntheticSource_Ranges(t *testing.T) {
	src := NewSyntheticSource(42)
	for range 200 {
		s, err := src.Read(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, *s.HeartRate, 60)
		assert.LessOrEqual(t, *s.HeartRate, 100)
		assert.GreaterOrEqual(t, *s.SpO2, 95)
		assert.LessOrEqual(t, *s.SpO2, 100)
		assert.GreaterOrEqual(t, *s.StressLevel, 0.0)
		assert.LessOrEqual(t, *s.StressLevel, 1.0)
		assert.GreaterOrEqual(t, *s.ConfidenceScore, 0.7)
		assert.LessOrEqual(t, *s.ConfidenceScore, 0.99)
	}
}

type brokenSource struct{}

func (brokenSource) Read(context.Context) (vital.Sample, error) {
	return vital.Sample{}, errors.New("sensor offline")
}

func TestCollectOnce_SourceError(t *testing.T) {
	clock := testutil.FixedClock()
	buffer := testutil.NewTestBuffer(t, clock)
	c := New(buffer, brokenSource{}, Options{UserID: 1, DeviceID: 1, Clock: clock})

	_, err := c.CollectOnce(context.Background())
	assert.ErrorContains(t, err, "sensor offline")

	st, err := buffer.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Pending)
}

func TestRun_StopsOnCancel(t *testing.T) {
	buffer := testutil.NewTestBuffer(t, vital.RealClock{})
	c := New(buffer, NewSyntheticSource(1), Options{UserID: 1, DeviceID: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		st, err := buffer.Stats(context.Background())
		return err == nil && st.Pending >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

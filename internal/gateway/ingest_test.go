package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsync/internal/vital"
)

func TestIngest_PartialBatch(t *testing.T) {
	f := newFixture(t)
	batch := f.batch("alice", 5)
	batch[2].ModelVersion = ""

	res, err := f.ingestor().Ingest(context.Background(), "alice", batch)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Accepted)
	assert.Equal(t, 0, res.Duplicates)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 2, res.Rejected[0].Index)
	assert.Equal(t, batch[2].Key(), res.Rejected[0].Key)
	assert.Contains(t, res.Rejected[0].Reason, "model_version")
	assert.Equal(t, int64(4), f.hotCount(t, "alice"))

	resp := res.Response()
	assert.Equal(t, 4, resp.Count)
	assert.Len(t, resp.Errors, 1)
}

func TestIngest_Idempotent(t *testing.T) {
	f := newFixture(t)
	ing := f.ingestor()
	batch := f.batch("alice", 3)

	first, err := ing.Ingest(context.Background(), "alice", batch)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Accepted)

	second, err := ing.Ingest(context.Background(), "alice", f.batch("alice", 3))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Accepted)
	assert.Equal(t, 3, second.Duplicates)
	assert.Empty(t, second.Rejected)
	assert.Equal(t, int64(3), f.hotCount(t, "alice"))
}

func TestIngest_SameIDDifferentTimestamp(t *testing.T) {
	f := newFixture(t)
	batch := f.batch("alice", 2)
	batch[1].ID = batch[0].ID

	res, err := f.ingestor().Ingest(context.Background(), "alice", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
}

func TestIngest_RejectsWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetUserActive(ctx, f.users["carol"].ID, false))

	tests := []struct {
		name      string
		principal string
		batchOf   string
		want      error
	}{
		{"free tier", "bob", "bob", vital.ErrNotEntitled},
		{"inactive user", "carol", "carol", vital.ErrUnauthenticated},
		{"unknown user", "ghost", "alice", vital.ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.ingestor().Ingest(ctx, tt.principal, f.batch(tt.batchOf, 2))
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int64(0), f.hotCount(t, "bob"))
	assert.Equal(t, int64(0), f.hotCount(t, "carol"))
}

func TestIngest_ItemValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(s *vital.Sample)
		reason string
	}{
		{"missing timestamp", func(s *vital.Sample) { s.Timestamp = time.Time{} }, "timestamp"},
		{"missing model version", func(s *vital.Sample) { s.ModelVersion = "" }, "model_version"},
		{"other user's id", func(s *vital.Sample) { s.UserID = f.users["carol"].ID }, "does not match"},
		{"unregistered device", func(s *vital.Sample) { s.DeviceID = 9999 }, "not registered"},
		{"other user's device", func(s *vital.Sample) { s.DeviceID = f.devices["carol"] }, "does not belong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := f.batch("alice", 1)
			tt.mutate(&batch[0])

			res, err := f.ingestor().Ingest(context.Background(), "alice", batch)
			require.NoError(t, err)
			assert.Equal(t, 0, res.Accepted)
			require.Len(t, res.Rejected, 1)
			assert.Contains(t, res.Rejected[0].Reason, tt.reason)

			var ve *vital.ValidationError
			require.ErrorAs(t, &res.Rejected[0], &ve)
			assert.ErrorIs(t, ve, vital.ErrValidationFailed)
		})
	}
	assert.Equal(t, int64(0), f.hotCount(t, "alice"))
}

type failingWriter struct {
	after int
	calls int
}

func (w *failingWriter) InsertSample(ctx context.Context, s *vital.Sample) (bool, error) {
	w.calls++
	if w.calls > w.after {
		return false, errors.New("disk I/O error")
	}
	return true, nil
}

func TestIngest_StorageFailure(t *testing.T) {
	f := newFixture(t)
	ing := NewIngestor(f.store, f.store, &failingWriter{after: 2}, nil, vital.NewNopLogger())

	res, err := ing.Ingest(context.Background(), "alice", f.batch("alice", 5))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, vital.ErrStorageFailure)
}

package syncclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vitalsync/internal/database"
	"vitalsync/internal/testutil"
	"vitalsync/internal/vital"
)

type fakeTransport struct {
	mu         sync.Mutex
	post       func(batch []vital.Sample) (*vital.IngestResponse, error)
	profile    *vital.Profile
	profileErr error
	posts      [][]vital.Sample
}

func (f *fakeTransport) PostBatch(ctx context.Context, batch []vital.Sample) (*vital.IngestResponse, error) {
	f.mu.Lock()
	f.posts = append(f.posts, append([]vital.Sample(nil), batch...))
	post := f.post
	f.mu.Unlock()

	if post == nil {
		return acceptAll(batch)
	}
	return post(batch)
}

func (f *fakeTransport) FetchProfile(ctx context.Context) (*vital.Profile, error) {
	return f.profile, f.profileErr
}

func (f *fakeTransport) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func acceptAll(batch []vital.Sample) (*vital.IngestResponse, error) {
	return &vital.IngestResponse{Count: len(batch), Errors: []string{}, Rejected: []vital.RejectedItem{}}, nil
}

type fixture struct {
	clock     *testutil.StubClock
	buffer    *database.SQLiteBuffer
	transport *fakeTransport
}

func newFixture(t *testing.T, tier vital.Tier) *fixture {
	t.Helper()
	clock := testutil.FixedClock()
	f := &fixture{
		clock:     clock,
		buffer:    testutil.NewTestBuffer(t, clock),
		transport: &fakeTransport{},
	}
	require.NoError(t, f.buffer.SetTier(context.Background(), tier))
	return f
}

func (f *fixture) syncer(batchSize int) *Syncer {
	return NewSyncer(f.buffer, f.buffer, f.buffer, f.transport, Options{BatchSize: batchSize, Clock: f.clock})
}

// fill appends n samples for user 1 on device 1, one second apart.
func (f *fixture) fill(t *testing.T, n int) []vital.Sample {
	t.Helper()
	out := make([]vital.Sample, n)
	for i := range out {
		out[i] = testutil.NewSample(int64(i+1), 1, 1, f.clock.Now().Add(-time.Duration(n-i)*time.Second))
		require.NoError(t, f.buffer.Append(context.Background(), &out[i]))
	}
	return out
}

func (f *fixture) stats(t *testing.T) *vital.BufferStats {
	t.Helper()
	st, err := f.buffer.Stats(context.Background())
	require.NoError(t, err)
	return st
}

package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vitalsync/internal/vital"
)

func collectPending(t *testing.T, b *SQLiteBuffer, limit int) []vital.Sample {
	t.Helper()
	var out []vital.Sample
	for s, err := range b.Pending(context.Background(), limit) {
		if err != nil {
			t.Fatalf("Pending() error = %v", err)
		}
		out = append(out, s)
	}
	return out
}

func TestSQLiteBuffer_AppendAndPending(t *testing.T) {
	t.Run("yields samples in insertion order", func(t *testing.T) {
		b := newTestBuffer(t)
		ctx := context.Background()

		// Later timestamp appended first: order follows insertion, not time.
		if err := b.Append(ctx, newSample(2, 1, 1, testNow.Add(time.Minute))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := b.Append(ctx, newSample(1, 1, 1, testNow)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		got := collectPending(t, b, 10)
		if len(got) != 2 {
			t.Fatalf("Pending() returned %d samples, want 2", len(got))
		}
		if got[0].ID != 2 || got[1].ID != 1 {
			t.Errorf("Pending() order = [%d %d], want [2 1]", got[0].ID, got[1].ID)
		}
		if *got[0].HeartRate != 72 || got[0].ModelVersion != "v1.0" {
			t.Errorf("Pending() sample fields not preserved: %+v", got[0])
		}
	})

	t.Run("re-appending the same key is a no-op", func(t *testing.T) {
		b := newTestBuffer(t)
		ctx := context.Background()

		s := newSample(1, 1, 1, testNow)
		for i := 0; i < 3; i++ {
			if err := b.Append(ctx, s); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		if got := collectPending(t, b, 10); len(got) != 1 {
			t.Errorf("Pending() returned %d samples, want 1", len(got))
		}
	})

	t.Run("same id with a different timestamp is a different sample", func(t *testing.T) {
		b := newTestBuffer(t)
		ctx := context.Background()

		b.Append(ctx, newSample(1, 1, 1, testNow))
		b.Append(ctx, newSample(1, 1, 1, testNow.Add(time.Second)))

		if got := collectPending(t, b, 10); len(got) != 2 {
			t.Errorf("Pending() returned %d samples, want 2", len(got))
		}
	})

	t.Run("rejects nil sample", func(t *testing.T) {
		b := newTestBuffer(t)
		if err := b.Append(context.Background(), nil); err == nil {
			t.Error("Append(nil) expected error")
		}
	})

	t.Run("honours the limit across pages", func(t *testing.T) {
		b := newTestBuffer(t)
		ctx := context.Background()

		for i := 1; i <= pendingPageSize+50; i++ {
			if err := b.Append(ctx, newSample(int64(i), 1, 1, testNow.Add(time.Duration(i)*time.Second))); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		if got := collectPending(t, b, 10); len(got) != 10 {
			t.Errorf("Pending(10) returned %d samples", len(got))
		}
		all := collectPending(t, b, 1000)
		if len(all) != pendingPageSize+50 {
			t.Fatalf("Pending(1000) returned %d samples, want %d", len(all), pendingPageSize+50)
		}
		for i, s := range all {
			if s.ID != int64(i+1) {
				t.Fatalf("Pending()[%d].ID = %d, want %d", i, s.ID, i+1)
			}
		}
	})

	t.Run("every range starts from the oldest sample", func(t *testing.T) {
		b := newTestBuffer(t)
		ctx := context.Background()
		b.Append(ctx, newSample(1, 1, 1, testNow))
		b.Append(ctx, newSample(2, 1, 1, testNow.Add(time.Second)))

		seq := b.Pending(ctx, 10)
		for range 2 {
			var ids []int64
			for s, err := range seq {
				if err != nil {
					t.Fatalf("Pending() error = %v", err)
				}
				ids = append(ids, s.ID)
			}
			if len(ids) != 2 || ids[0] != 1 {
				t.Errorf("range over Pending() = %v, want [1 2]", ids)
			}
		}
	})

	t.Run("normalises timestamps to UTC microseconds", func(t *testing.T) {
		b := newTestBuffer(t)
		ctx := context.Background()

		loc := time.FixedZone("UTC+2", 2*3600)
		ts := time.Date(2024, 6, 15, 14, 0, 0, 123456789, loc)
		b.Append(ctx, newSample(1, 1, 1, ts))

		got := collectPending(t, b, 1)
		want := time.Date(2024, 6, 15, 12, 0, 0, 123456000, time.UTC)
		if !got[0].Timestamp.Equal(want) || got[0].Timestamp.Location() != time.UTC {
			t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, want)
		}
	})
}

func TestSQLiteBuffer_Remove(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	var keys []vital.SampleKey
	for i := 1; i <= 5; i++ {
		s := newSample(int64(i), 1, 1, testNow.Add(time.Duration(i)*time.Second))
		b.Append(ctx, s)
		keys = append(keys, s.Key())
	}

	removed, err := b.Remove(ctx, []vital.SampleKey{keys[0], keys[2]})
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Remove() = %d, want 2", removed)
	}

	// A key whose timestamp differs does not match.
	stale := keys[1]
	stale.Timestamp = stale.Timestamp.Add(time.Microsecond)
	if removed, _ := b.Remove(ctx, []vital.SampleKey{stale}); removed != 0 {
		t.Errorf("Remove(mismatched key) = %d, want 0", removed)
	}

	got := collectPending(t, b, 10)
	var ids []int64
	for _, s := range got {
		ids = append(ids, s.ID)
	}
	if len(ids) != 3 || ids[0] != 2 || ids[1] != 4 || ids[2] != 5 {
		t.Errorf("remaining ids = %v, want [2 4 5]", ids)
	}

	if removed, err := b.Remove(ctx, nil); err != nil || removed != 0 {
		t.Errorf("Remove(nil) = %d, %v; want 0, nil", removed, err)
	}
}

func TestSQLiteBuffer_QuarantineAndRequeue(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	s1 := newSample(1, 1, 1, testNow)
	s2 := newSample(2, 1, 1, testNow.Add(time.Second))
	b.Append(ctx, s1)
	b.Append(ctx, s2)

	parked, err := b.Quarantine(ctx, []vital.ValidationError{{Index: 0, Key: s1.Key(), Reason: "model_version is required"}})
	if err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}
	if parked != 1 {
		t.Errorf("Quarantine() = %d, want 1", parked)
	}

	got := collectPending(t, b, 10)
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("Pending() after quarantine = %v, want only sample 2", got)
	}

	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 1 || stats.Quarantined != 1 {
		t.Errorf("Stats() = %+v, want 1 pending, 1 quarantined", stats)
	}
	if stats.Oldest == nil || !stats.Oldest.Equal(testNow) {
		t.Errorf("Stats().Oldest = %v, want %v", stats.Oldest, testNow)
	}

	q, err := b.ListQuarantined(ctx, 10)
	if err != nil {
		t.Fatalf("ListQuarantined() error = %v", err)
	}
	if len(q) != 1 || q[0].Reason != "model_version is required" || q[0].Key.ID != 1 {
		t.Errorf("ListQuarantined() = %+v", q)
	}

	n, err := b.Requeue(ctx)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Requeue() = %d, want 1", n)
	}
	if got := collectPending(t, b, 10); len(got) != 2 {
		t.Errorf("Pending() after requeue returned %d samples, want 2", len(got))
	}
}

func TestSQLiteBuffer_Stats_empty(t *testing.T) {
	b := newTestBuffer(t)

	stats, err := b.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 0 || stats.Quarantined != 0 || stats.Oldest != nil {
		t.Errorf("Stats() = %+v, want empty", stats)
	}
}

func TestSQLiteBuffer_PruneBefore(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	b.Append(ctx, newSample(1, 1, 1, testNow.AddDate(0, 0, -61)))
	b.Append(ctx, newSample(2, 1, 1, testNow.AddDate(0, 0, -59)))

	pruned, err := b.PruneBefore(ctx, testNow.AddDate(0, 0, -60))
	if err != nil {
		t.Fatalf("PruneBefore() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("PruneBefore() = %d, want 1", pruned)
	}
	got := collectPending(t, b, 10)
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("Pending() after prune = %v, want sample 2", got)
	}
}

func TestSQLiteBuffer_survivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.db")
	clock := &testClock{now: testNow}
	ctx := context.Background()

	b, err := OpenBuffer(path, clock)
	if err != nil {
		t.Fatalf("OpenBuffer() error = %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := b.Append(ctx, newSample(int64(i), 1, 1, testNow.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := b.SetTier(ctx, vital.TierPremium); err != nil {
		t.Fatalf("SetTier() error = %v", err)
	}
	b.Close()

	reopened, err := OpenBuffer(path, clock)
	if err != nil {
		t.Fatalf("OpenBuffer() reopen error = %v", err)
	}
	defer reopened.Close()

	if got := collectPending(t, reopened, 10); len(got) != 3 {
		t.Errorf("Pending() after reopen returned %d samples, want 3", len(got))
	}
	tier, err := reopened.Tier(ctx)
	if err != nil {
		t.Fatalf("Tier() error = %v", err)
	}
	if tier != vital.TierPremium {
		t.Errorf("Tier() after reopen = %v, want premium", tier)
	}
}

func TestSQLiteBuffer_Tier(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	tier, err := b.Tier(ctx)
	if err != nil {
		t.Fatalf("Tier() error = %v", err)
	}
	if tier != vital.TierFree {
		t.Errorf("Tier() default = %v, want free", tier)
	}

	for _, want := range []vital.Tier{vital.TierPremium, vital.TierFree} {
		if err := b.SetTier(ctx, want); err != nil {
			t.Fatalf("SetTier(%v) error = %v", want, err)
		}
		got, err := b.Tier(ctx)
		if err != nil {
			t.Fatalf("Tier() error = %v", err)
		}
		if got != want {
			t.Errorf("Tier() = %v, want %v", got, want)
		}
	}
}

func TestSQLiteBuffer_SyncRuns(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	for i, status := range []vital.SyncStatus{vital.SyncSynced, vital.SyncFailed} {
		r := &vital.SyncReport{
			StartedAt:  testNow.Add(time.Duration(i) * time.Minute),
			FinishedAt: testNow.Add(time.Duration(i)*time.Minute + time.Second),
			Status:     status,
			Sent:       5,
			Accepted:   4,
			Rejected:   1,
			Removed:    4,
		}
		if err := b.RecordSyncRun(ctx, r); err != nil {
			t.Fatalf("RecordSyncRun() error = %v", err)
		}
		if r.ID == 0 {
			t.Error("RecordSyncRun() did not assign an id")
		}
	}

	runs, err := b.ListSyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListSyncRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListSyncRuns() returned %d runs, want 2", len(runs))
	}
	if runs[0].Status != vital.SyncFailed {
		t.Errorf("ListSyncRuns()[0].Status = %v, want most recent first", runs[0].Status)
	}
	if runs[1].Accepted != 4 || runs[1].Removed != 4 || !runs[1].StartedAt.Equal(testNow) {
		t.Errorf("ListSyncRuns()[1] = %+v", runs[1])
	}
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	json "github.com/goccy/go-json"

	"vitalsync/internal/database/migrations"
	"vitalsync/internal/vital"
)

// pendingPageSize bounds how many rows one Pending query reads.
const pendingPageSize = 256

const tierStateKey = "tier"

// SQLiteBuffer is the edge sample buffer. It also holds the device's
// cached profile and its sync history.
type SQLiteBuffer struct {
	db    *sql.DB
	clock vital.Clock
}

// NewSQLiteBuffer wraps an already migrated edge database.
func NewSQLiteBuffer(db *sql.DB, clock vital.Clock) *SQLiteBuffer {
	return &SQLiteBuffer{db: db, clock: clock}
}

// OpenBuffer opens the edge database at path and applies pending
// migrations. The edge database is private to the device, so it is
// migrated on open.
func OpenBuffer(path string, clock vital.Clock) (*SQLiteBuffer, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db, migrations.Edge); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating edge database: %w", err)
	}
	return NewSQLiteBuffer(db, clock), nil
}

func (b *SQLiteBuffer) Append(ctx context.Context, s *vital.Sample) error {
	if s == nil {
		return errors.New("appending nil sample")
	}

	sample := *s
	sample.Timestamp = vital.NormalizeTime(s.Timestamp)
	body, err := json.Marshal(&sample)
	if err != nil {
		return fmt.Errorf("encoding sample %d: %w", s.ID, err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO buffered_samples (id, user_id, device_id, ts, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, ts, user_id) DO NOTHING`,
		sample.ID, sample.UserID, sample.DeviceID, toMicros(sample.Timestamp), string(body), toMicros(b.clock.Now()))
	if err != nil {
		return fmt.Errorf("buffering sample %d: %w", s.ID, err)
	}
	return nil
}

type bufferedRow struct {
	seq  int64
	body string
}

func (b *SQLiteBuffer) Pending(ctx context.Context, limit int) iter.Seq2[vital.Sample, error] {
	return func(yield func(vital.Sample, error) bool) {
		remaining := limit
		var after int64
		for remaining > 0 {
			page, err := b.pendingPage(ctx, after, min(remaining, pendingPageSize))
			if err != nil {
				yield(vital.Sample{}, err)
				return
			}

			for _, row := range page {
				var s vital.Sample
				if err := json.Unmarshal([]byte(row.body), &s); err != nil {
					yield(vital.Sample{}, fmt.Errorf("decoding buffered sample seq=%d: %w", row.seq, err))
					return
				}
				if !yield(s, nil) {
					return
				}
				after = row.seq
			}

			if len(page) < min(remaining, pendingPageSize) {
				return
			}
			remaining -= len(page)
		}
	}
}

func (b *SQLiteBuffer) pendingPage(ctx context.Context, after int64, n int) ([]bufferedRow, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT seq, body FROM buffered_samples
		WHERE quarantined_at IS NULL AND seq > ?
		ORDER BY seq
		LIMIT ?`, after, n)
	if err != nil {
		return nil, fmt.Errorf("reading pending samples: %w", err)
	}
	defer rows.Close()

	var page []bufferedRow
	for rows.Next() {
		var r bufferedRow
		if err := rows.Scan(&r.seq, &r.body); err != nil {
			return nil, fmt.Errorf("scanning pending sample: %w", err)
		}
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading pending samples: %w", err)
	}
	return page, nil
}

func (b *SQLiteBuffer) Remove(ctx context.Context, keys []vital.SampleKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM buffered_samples WHERE id = ? AND ts = ? AND user_id = ?")
	if err != nil {
		return 0, fmt.Errorf("preparing delete: %w", err)
	}
	defer stmt.Close()

	var removed int64
	for _, k := range keys {
		res, err := stmt.ExecContext(ctx, k.ID, toMicros(k.Timestamp), k.UserID)
		if err != nil {
			return 0, fmt.Errorf("removing sample %s: %w", k, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("removing sample %s: %w", k, err)
		}
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return removed, nil
}

func (b *SQLiteBuffer) Quarantine(ctx context.Context, rejects []vital.ValidationError) (int64, error) {
	if len(rejects) == 0 {
		return 0, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE buffered_samples SET quarantined_at = ?, quarantine_reason = ?
		WHERE id = ? AND ts = ? AND user_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("preparing quarantine: %w", err)
	}
	defer stmt.Close()

	now := toMicros(b.clock.Now())
	var parked int64
	for _, r := range rejects {
		res, err := stmt.ExecContext(ctx, now, r.Reason, r.Key.ID, toMicros(r.Key.Timestamp), r.Key.UserID)
		if err != nil {
			return 0, fmt.Errorf("quarantining sample %s: %w", r.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("quarantining sample %s: %w", r.Key, err)
		}
		parked += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return parked, nil
}

func (b *SQLiteBuffer) Requeue(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
		UPDATE buffered_samples SET quarantined_at = NULL, quarantine_reason = NULL
		WHERE quarantined_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("requeueing quarantined samples: %w", err)
	}
	return res.RowsAffected()
}

// QuarantinedSample is a buffered sample the server rejected.
type QuarantinedSample struct {
	Key           vital.SampleKey
	Reason        string
	QuarantinedAt time.Time
}

// ListQuarantined returns up to limit quarantined samples, oldest first.
func (b *SQLiteBuffer) ListQuarantined(ctx context.Context, limit int) ([]*QuarantinedSample, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, ts, user_id, quarantine_reason, quarantined_at FROM buffered_samples
		WHERE quarantined_at IS NOT NULL
		ORDER BY seq
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing quarantined samples: %w", err)
	}
	defer rows.Close()

	var out []*QuarantinedSample
	for rows.Next() {
		var (
			q      QuarantinedSample
			ts, at int64
			reason sql.NullString
		)
		if err := rows.Scan(&q.Key.ID, &ts, &q.Key.UserID, &reason, &at); err != nil {
			return nil, fmt.Errorf("scanning quarantined sample: %w", err)
		}
		q.Key.Timestamp = fromMicros(ts)
		q.Reason = reason.String
		q.QuarantinedAt = fromMicros(at)
		out = append(out, &q)
	}
	return out, rows.Err()
}

func (b *SQLiteBuffer) Stats(ctx context.Context) (*vital.BufferStats, error) {
	var (
		stats  vital.BufferStats
		oldest sql.NullInt64
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN quarantined_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN quarantined_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			MIN(ts)
		FROM buffered_samples`).Scan(&stats.Pending, &stats.Quarantined, &oldest)
	if err != nil {
		return nil, fmt.Errorf("reading buffer stats: %w", err)
	}
	if oldest.Valid {
		t := fromMicros(oldest.Int64)
		stats.Oldest = &t
	}
	return &stats, nil
}

func (b *SQLiteBuffer) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, "DELETE FROM buffered_samples WHERE ts < ?", toMicros(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning buffer: %w", err)
	}
	return res.RowsAffected()
}

// Tier returns the cached tier. A device that has never fetched its
// profile is treated as free.
func (b *SQLiteBuffer) Tier(ctx context.Context) (vital.Tier, error) {
	var value string
	err := b.db.QueryRowContext(ctx, "SELECT value FROM edge_state WHERE key = ?", tierStateKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return vital.TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading cached tier: %w", err)
	}
	return vital.ParseTier(value)
}

func (b *SQLiteBuffer) SetTier(ctx context.Context, tier vital.Tier) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO edge_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		tierStateKey, string(tier), toMicros(b.clock.Now()))
	if err != nil {
		return fmt.Errorf("caching tier: %w", err)
	}
	return nil
}

func (b *SQLiteBuffer) RecordSyncRun(ctx context.Context, r *vital.SyncReport) error {
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO sync_runs (started_at, finished_at, status, sent, accepted, duplicates, rejected, removed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toMicros(r.StartedAt), toMicros(r.FinishedAt), string(r.Status),
		r.Sent, r.Accepted, r.Duplicates, r.Rejected, r.Removed, r.Error)
	if err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}
	r.ID = id
	return nil
}

// ListSyncRuns returns the most recent runs first.
func (b *SQLiteBuffer) ListSyncRuns(ctx context.Context, limit int) ([]*vital.SyncReport, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, sent, accepted, duplicates, rejected, removed, error
		FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var out []*vital.SyncReport
	for rows.Next() {
		var (
			r                 vital.SyncReport
			started, finished int64
			status            string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &status, &r.Sent, &r.Accepted,
			&r.Duplicates, &r.Rejected, &r.Removed, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		r.StartedAt = fromMicros(started)
		r.FinishedAt = fromMicros(finished)
		r.Status = vital.SyncStatus(status)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (b *SQLiteBuffer) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

var (
	_ vital.SampleBuffer = (*SQLiteBuffer)(nil)
	_ vital.ProfileStore = (*SQLiteBuffer)(nil)
	_ vital.SyncHistory  = (*SQLiteBuffer)(nil)
)

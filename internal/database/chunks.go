package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vitalsync/internal/chunk"
	"vitalsync/internal/vital"
)

// StoredChunk is a row of sample_chunks. Payload is nil when the chunk was
// listed without its data.
type StoredChunk struct {
	ID         int64
	UserID     int64
	Day        time.Time
	Bucket     int64
	MinTS      time.Time
	MaxTS      time.Time
	Count      int
	Codec      chunk.Codec
	RawSize    int
	Payload    []byte
	ArchiveKey string
	CreatedAt  time.Time
}

// PurgeResult describes what PurgeExpired removed for one user.
type PurgeResult struct {
	UserID          int64
	RetentionDays   int
	Cutoff          time.Time
	HotRows         int64
	ChunkRows       int64
	ChunksDeleted   int
	ChunksRewritten int
	// RewrittenChunks holds the ids of rewritten chunks. Their archive
	// copies were released and they need archiving again.
	RewrittenChunks []int64
	// ReleasedArchives lists archive objects of chunks that were deleted
	// or rewritten. They are recorded in released_archives by the same
	// transaction and stay there until ForgetReleasedArchives.
	ReleasedArchives []string
}

// Total returns the number of samples removed.
func (r *PurgeResult) Total() int64 { return r.HotRows + r.ChunkRows }

const chunkColumns = `id, user_id, partition_day, partition_bucket, min_ts, max_ts,
	sample_count, codec, raw_size, archive_key, created_at`

func scanChunk(row rowScanner, withPayload bool) (*StoredChunk, error) {
	var (
		c                          StoredChunk
		day, minTS, maxTS, created int64
		codec                      int
		archive                    sql.NullString
	)
	dest := []any{&c.ID, &c.UserID, &day, &c.Bucket, &minTS, &maxTS, &c.Count, &codec, &c.RawSize, &archive, &created}
	if withPayload {
		dest = append(dest, &c.Payload)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.Day = dayStart(day)
	c.MinTS = fromMicros(minTS)
	c.MaxTS = fromMicros(maxTS)
	c.Codec = chunk.Codec(codec)
	c.ArchiveKey = archive.String
	c.CreatedAt = fromMicros(created)
	return &c, nil
}

func (s *CentralStore) queryChunks(ctx context.Context, withPayload bool, where string, args ...any) ([]*StoredChunk, error) {
	return queryChunksWith(ctx, s.db, withPayload, where, args...)
}

func queryChunksWith(ctx context.Context, q querier, withPayload bool, where string, args ...any) ([]*StoredChunk, error) {
	cols := chunkColumns
	if withPayload {
		cols += ", payload"
	}
	rows, err := q.QueryContext(ctx, "SELECT "+cols+" FROM sample_chunks "+where+" ORDER BY min_ts, id", args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []*StoredChunk
	for rows.Next() {
		c, err := scanChunk(rows, withPayload)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	return out, nil
}

// ListChunks returns the chunk metadata of a user, without payloads.
func (s *CentralStore) ListChunks(ctx context.Context, userID int64) ([]*StoredChunk, error) {
	return s.queryChunks(ctx, false, "WHERE user_id = ?", userID)
}

// GetChunk returns one chunk with its payload.
func (s *CentralStore) GetChunk(ctx context.Context, chunkID int64) (*StoredChunk, error) {
	chunks, err := s.queryChunks(ctx, true, "WHERE id = ?", chunkID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunk %d: %w", chunkID, vital.ErrNotFound)
	}
	return chunks[0], nil
}

// SetChunkArchive records where a chunk's archive copy lives.
func (s *CentralStore) SetChunkArchive(ctx context.Context, chunkID int64, key string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE sample_chunks SET archive_key = ? WHERE id = ?", key, chunkID)
	if err != nil {
		return fmt.Errorf("recording archive of chunk %d: %w", chunkID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("recording archive of chunk %d: %w", chunkID, err)
	} else if n == 0 {
		return fmt.Errorf("chunk %d: %w", chunkID, vital.ErrNotFound)
	}
	return nil
}

// retentionDaysTx reads a user's retention horizon inside tx. A user
// without a record gets one written through the tier hook first.
func (s *CentralStore) retentionDaysTx(ctx context.Context, tx *sql.Tx, userID int64) (int, error) {
	var days int
	err := tx.QueryRowContext(ctx, "SELECT retention_days FROM user_retention WHERE user_id = ?", userID).Scan(&days)
	if err == nil {
		return days, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("reading retention of user %d: %w", userID, err)
	}

	var tier string
	err = tx.QueryRowContext(ctx, "SELECT tier FROM users WHERE id = ?", userID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %d: %w", userID, vital.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("reading tier of user %d: %w", userID, err)
	}
	t, err := vital.ParseTier(tier)
	if err != nil {
		return 0, err
	}
	if err := s.hook.OnTierWrite(ctx, txRetentionWriter{tx: tx}, userID, t); err != nil {
		return 0, err
	}

	if err := tx.QueryRowContext(ctx, "SELECT retention_days FROM user_retention WHERE user_id = ?", userID).Scan(&days); err != nil {
		return 0, fmt.Errorf("reading retention of user %d: %w", userID, err)
	}
	return days, nil
}

// PurgeExpired deletes every sample of userID older than now minus the
// user's retention horizon, hot or compacted, in one transaction. The
// horizon is read inside the same transaction, so a tier change that
// committed earlier is always honoured.
func (s *CentralStore) PurgeExpired(ctx context.Context, userID int64, now time.Time) (*PurgeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	days, err := s.retentionDaysTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	cutoff := vital.NormalizeTime(now).Add(-time.Duration(days) * 24 * time.Hour)
	cutoffUS := toMicros(cutoff)
	result := &PurgeResult{UserID: userID, RetentionDays: days, Cutoff: cutoff}

	res, err := tx.ExecContext(ctx, "DELETE FROM samples WHERE user_id = ? AND ts < ?", userID, cutoffUS)
	if err != nil {
		return nil, fmt.Errorf("purging samples of user %d: %w", userID, err)
	}
	if result.HotRows, err = res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("purging samples of user %d: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sample_keys WHERE user_id = ? AND ts < ?", userID, cutoffUS); err != nil {
		return nil, fmt.Errorf("purging sample keys of user %d: %w", userID, err)
	}

	expired, err := queryChunksWith(ctx, tx, false, "WHERE user_id = ? AND max_ts < ?", userID, cutoffUS)
	if err != nil {
		return nil, err
	}
	for _, c := range expired {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sample_chunks WHERE id = ?", c.ID); err != nil {
			return nil, fmt.Errorf("deleting chunk %d: %w", c.ID, err)
		}
		result.ChunksDeleted++
		result.ChunkRows += int64(c.Count)
		if c.ArchiveKey != "" {
			result.ReleasedArchives = append(result.ReleasedArchives, c.ArchiveKey)
		}
	}

	straddling, err := queryChunksWith(ctx, tx, true, "WHERE user_id = ? AND min_ts < ? AND max_ts >= ?", userID, cutoffUS, cutoffUS)
	if err != nil {
		return nil, err
	}
	for _, c := range straddling {
		dropped, err := s.rewriteChunk(ctx, tx, c, cutoff)
		if err != nil {
			return nil, err
		}
		result.ChunksRewritten++
		result.RewrittenChunks = append(result.RewrittenChunks, c.ID)
		result.ChunkRows += int64(dropped)
		if c.ArchiveKey != "" {
			result.ReleasedArchives = append(result.ReleasedArchives, c.ArchiveKey)
		}
	}

	for _, key := range result.ReleasedArchives {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO released_archives (archive_key, user_id, released_at) VALUES (?, ?, ?)",
			key, userID, toMicros(s.clock.Now()))
		if err != nil {
			return nil, fmt.Errorf("recording released archive %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return result, nil
}

// ListReleasedArchives returns archive keys that no chunk references any
// more and that have not been deleted from the vault yet, oldest first.
func (s *CentralStore) ListReleasedArchives(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT archive_key FROM released_archives
		WHERE archive_key NOT IN (SELECT archive_key FROM sample_chunks WHERE archive_key IS NOT NULL)
		ORDER BY released_at, archive_key`)
	if err != nil {
		return nil, fmt.Errorf("listing released archives: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning released archive: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing released archives: %w", err)
	}
	return keys, nil
}

// ForgetReleasedArchives drops keys whose vault objects were deleted.
func (s *CentralStore) ForgetReleasedArchives(ctx context.Context, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, "DELETE FROM released_archives WHERE archive_key = ?", key); err != nil {
			return fmt.Errorf("forgetting released archive %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// rewriteChunk replaces c with only its samples at or after cutoff and
// returns how many samples were dropped.
func (s *CentralStore) rewriteChunk(ctx context.Context, tx *sql.Tx, c *StoredChunk, cutoff time.Time) (int, error) {
	samples, err := chunk.Decode(c.Payload, c.Codec, c.RawSize)
	if err != nil {
		return 0, fmt.Errorf("decoding chunk %d: %w", c.ID, err)
	}

	kept := samples[:0]
	for _, sample := range samples {
		if !sample.Timestamp.Before(cutoff) {
			kept = append(kept, sample)
		}
	}
	dropped := len(samples) - len(kept)

	enc, err := chunk.Encode(kept, s.codec)
	if err != nil {
		return 0, fmt.Errorf("re-encoding chunk %d: %w", c.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sample_chunks
		SET min_ts = ?, max_ts = ?, sample_count = ?, codec = ?, raw_size = ?, payload = ?, archive_key = NULL
		WHERE id = ?`,
		toMicros(enc.MinTS), toMicros(enc.MaxTS), enc.Count, int(enc.Codec), enc.RawSize, enc.Payload, c.ID)
	if err != nil {
		return 0, fmt.Errorf("rewriting chunk %d: %w", c.ID, err)
	}
	return dropped, nil
}

// CompactUser moves a user's hot samples older than hotWindow into one
// compressed chunk per UTC day. Only whole days are compacted. Sample keys
// stay in sample_keys so deduplication keeps working. It returns the
// chunks it created, with payloads.
func (s *CentralStore) CompactUser(ctx context.Context, userID int64, now time.Time, hotWindow time.Duration) ([]*StoredChunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	days, err := s.retentionDaysTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	cutoffUS := toMicros(now.Add(-time.Duration(days) * 24 * time.Hour))
	beforeDay := partitionDay(now.Add(-hotWindow))

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT partition_day FROM samples
		WHERE user_id = ? AND partition_day < ? AND ts >= ?
		ORDER BY partition_day`, userID, beforeDay, cutoffUS)
	if err != nil {
		return nil, fmt.Errorf("finding compactable days of user %d: %w", userID, err)
	}
	var partitions []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning partition day: %w", err)
		}
		partitions = append(partitions, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding compactable days of user %d: %w", userID, err)
	}

	createdAt := vital.NormalizeTime(s.clock.Now())
	var created []*StoredChunk
	for _, day := range partitions {
		samples, err := querySamplesWith(ctx, tx,
			"SELECT "+sampleColumns+" FROM samples WHERE user_id = ? AND partition_day = ? AND ts >= ? ORDER BY ts, id",
			userID, day, cutoffUS)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			continue
		}

		enc, err := chunk.Encode(samples, s.codec)
		if err != nil {
			return nil, fmt.Errorf("encoding day %d of user %d: %w", day, userID, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sample_chunks (user_id, partition_day, partition_bucket, min_ts, max_ts,
				sample_count, codec, raw_size, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, day, partitionBucket(userID), toMicros(enc.MinTS), toMicros(enc.MaxTS),
			enc.Count, int(enc.Codec), enc.RawSize, enc.Payload, toMicros(createdAt))
		if err != nil {
			return nil, fmt.Errorf("storing chunk for day %d of user %d: %w", day, userID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("storing chunk for day %d of user %d: %w", day, userID, err)
		}

		del, err := tx.ExecContext(ctx,
			"DELETE FROM samples WHERE user_id = ? AND partition_day = ? AND ts >= ?", userID, day, cutoffUS)
		if err != nil {
			return nil, fmt.Errorf("removing compacted rows of user %d: %w", userID, err)
		}
		if n, err := del.RowsAffected(); err != nil {
			return nil, fmt.Errorf("removing compacted rows of user %d: %w", userID, err)
		} else if n != int64(enc.Count) {
			return nil, fmt.Errorf("compacting day %d of user %d: encoded %d rows but removed %d", day, userID, enc.Count, n)
		}

		created = append(created, &StoredChunk{
			ID:        id,
			UserID:    userID,
			Day:       dayStart(day),
			Bucket:    partitionBucket(userID),
			MinTS:     enc.MinTS,
			MaxTS:     enc.MaxTS,
			Count:     enc.Count,
			Codec:     enc.Codec,
			RawSize:   enc.RawSize,
			Payload:   enc.Payload,
			CreatedAt: createdAt,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return created, nil
}

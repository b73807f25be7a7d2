package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"vitalsync/internal/chunk"
	"vitalsync/internal/vital"
)

// partitionBuckets is the number of hash buckets samples are spread over
// within a day partition.
const partitionBuckets = 4

func partitionDay(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}

func partitionBucket(userID int64) int64 {
	return userID % partitionBuckets
}

func dayStart(day int64) time.Time {
	return time.Unix(day*86400, 0).UTC()
}

const sampleColumns = `id, ts, user_id, device_id,
	heart_rate, hrv_rmssd, hrv_sdnn, spo2, skin_temperature,
	accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z, steps_count,
	noise_level_db, breathing_rate,
	activity_type, location_type, battery_level,
	stress_level, energy_level, focus_level, model_version, confidence_score,
	raw_features, lora_weights, signal_quality`

func sampleArgs(s *vital.Sample) ([]any, error) {
	raw, err := payloadColumn(s.RawFeatures)
	if err != nil {
		return nil, fmt.Errorf("raw_features: %w", err)
	}
	lora, err := payloadColumn(s.LoraWeights)
	if err != nil {
		return nil, fmt.Errorf("lora_weights: %w", err)
	}
	return []any{
		s.ID, toMicros(s.Timestamp), s.UserID, s.DeviceID,
		s.HeartRate, s.HRVRMSSD, s.HRVSDNN, s.SpO2, s.SkinTemperature,
		s.AccelX, s.AccelY, s.AccelZ, s.GyroX, s.GyroY, s.GyroZ, s.StepsCount,
		s.NoiseLevelDB, s.BreathingRate,
		s.ActivityType, s.LocationType, s.BatteryLevel,
		s.StressLevel, s.EnergyLevel, s.FocusLevel, s.ModelVersion, s.ConfidenceScore,
		raw, lora, s.SignalQuality,
	}, nil
}

func payloadColumn(p vital.Payload) (any, error) {
	b, err := chunk.MarshalPayload(p)
	if err != nil || b == nil {
		return nil, err
	}
	return string(b), nil
}

func scanSample(row rowScanner) (vital.Sample, error) {
	var (
		s         vital.Sample
		ts        int64
		raw, lora sql.NullString
	)
	err := row.Scan(
		&s.ID, &ts, &s.UserID, &s.DeviceID,
		&s.HeartRate, &s.HRVRMSSD, &s.HRVSDNN, &s.SpO2, &s.SkinTemperature,
		&s.AccelX, &s.AccelY, &s.AccelZ, &s.GyroX, &s.GyroY, &s.GyroZ, &s.StepsCount,
		&s.NoiseLevelDB, &s.BreathingRate,
		&s.ActivityType, &s.LocationType, &s.BatteryLevel,
		&s.StressLevel, &s.EnergyLevel, &s.FocusLevel, &s.ModelVersion, &s.ConfidenceScore,
		&raw, &lora, &s.SignalQuality,
	)
	if err != nil {
		return vital.Sample{}, err
	}
	s.Timestamp = fromMicros(ts)
	if raw.Valid {
		if s.RawFeatures, err = chunk.UnmarshalPayload([]byte(raw.String)); err != nil {
			return vital.Sample{}, fmt.Errorf("raw_features of sample %d: %w", s.ID, err)
		}
	}
	if lora.Valid {
		if s.LoraWeights, err = chunk.UnmarshalPayload([]byte(lora.String)); err != nil {
			return vital.Sample{}, fmt.Errorf("lora_weights of sample %d: %w", s.ID, err)
		}
	}
	return s, nil
}

// InsertSample stores one sample in its own transaction. It returns false
// without error when a sample with the same composite key already exists,
// whether hot or compacted.
func (s *CentralStore) InsertSample(ctx context.Context, sample *vital.Sample) (bool, error) {
	args, err := sampleArgs(sample)
	if err != nil {
		return false, fmt.Errorf("encoding sample %d: %w", sample.ID, err)
	}
	ts := vital.NormalizeTime(sample.Timestamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO sample_keys (id, ts, user_id) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		sample.ID, toMicros(ts), sample.UserID)
	if err != nil {
		return false, fmt.Errorf("claiming key of sample %d: %w", sample.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming key of sample %d: %w", sample.ID, err)
	}
	if n == 0 {
		return false, nil
	}

	args = append(args, partitionDay(ts), partitionBucket(sample.UserID), toMicros(s.clock.Now()))
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	_, err = tx.ExecContext(ctx,
		"INSERT INTO samples ("+sampleColumns+", partition_day, partition_bucket, created_at) VALUES ("+placeholders+")",
		args...)
	if err != nil {
		return false, fmt.Errorf("inserting sample %d: %w", sample.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// ListSamples returns a user's samples with from <= timestamp < to,
// ordered by timestamp then id. Hot rows and compacted chunks are merged,
// so compaction never changes what a query returns.
func (s *CentralStore) ListSamples(ctx context.Context, userID int64, from, to time.Time) ([]vital.Sample, error) {
	fromUS, toUS := toMicros(from), toMicros(to)

	hot, err := s.querySamples(ctx,
		"SELECT "+sampleColumns+" FROM samples WHERE user_id = ? AND ts >= ? AND ts < ?",
		userID, fromUS, toUS)
	if err != nil {
		return nil, err
	}

	chunks, err := s.queryChunks(ctx, true,
		"WHERE user_id = ? AND max_ts >= ? AND min_ts < ?", userID, fromUS, toUS)
	if err != nil {
		return nil, err
	}

	out := hot
	for _, c := range chunks {
		decoded, err := chunk.Decode(c.Payload, c.Codec, c.RawSize)
		if err != nil {
			return nil, fmt.Errorf("decoding chunk %d: %w", c.ID, err)
		}
		for _, d := range decoded {
			us := d.Timestamp.UnixMicro()
			if us >= fromUS && us < toUS {
				out = append(out, d)
			}
		}
	}

	slices.SortFunc(out, func(a, b vital.Sample) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// CountSamples reports how many hot and compacted samples a user has.
func (s *CentralStore) CountSamples(ctx context.Context, userID int64) (hot, compacted int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM samples WHERE user_id = ?),
			(SELECT COALESCE(SUM(sample_count), 0) FROM sample_chunks WHERE user_id = ?)`,
		userID, userID).Scan(&hot, &compacted)
	if err != nil {
		return 0, 0, fmt.Errorf("counting samples of user %d: %w", userID, err)
	}
	return hot, compacted, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *CentralStore) querySamples(ctx context.Context, query string, args ...any) ([]vital.Sample, error) {
	return querySamplesWith(ctx, s.db, query, args...)
}

func querySamplesWith(ctx context.Context, q querier, query string, args ...any) ([]vital.Sample, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var out []vital.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	return out, nil
}

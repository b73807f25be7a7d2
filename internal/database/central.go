package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"vitalsync/internal/chunk"
	"vitalsync/internal/database/migrations"
	"vitalsync/internal/vital"
)

// CentralOptions configures a CentralStore.
type CentralOptions struct {
	// Hook is called inside every transaction that writes users.tier.
	Hook  vital.TierHook
	Codec chunk.Codec
	Clock vital.Clock
}

// CentralStore is the server-side store: users, devices, hot samples and
// compacted chunks.
type CentralStore struct {
	db    *sql.DB
	hook  vital.TierHook
	codec chunk.Codec
	clock vital.Clock
}

// NewCentralStore wraps an already migrated central database.
func NewCentralStore(db *sql.DB, opts CentralOptions) (*CentralStore, error) {
	if opts.Hook == nil {
		return nil, errors.New("central store requires a tier hook")
	}
	if opts.Clock == nil {
		opts.Clock = vital.RealClock{}
	}
	return &CentralStore{db: db, hook: opts.Hook, codec: opts.Codec, clock: opts.Clock}, nil
}

// OpenCentralStore opens the central database at path. When migrate is
// false the schema must already be at the latest version.
func OpenCentralStore(path string, migrate bool, opts CentralOptions) (*CentralStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if migrate {
		err = migrations.MigrateUp(db, migrations.Central)
	} else {
		err = migrations.CheckDBMigrationStatus(db, migrations.Central)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("central database schema: %w", err)
	}

	s, err := NewCentralStore(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateCentral applies pending central migrations to the database at path.
func MigrateCentral(path string) error {
	db, err := OpenConnection(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.MigrateUp(db, migrations.Central)
}

// Close closes the database connection.
func (s *CentralStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// txRetentionWriter hands the tier hook a writer bound to the caller's
// transaction.
type txRetentionWriter struct {
	tx *sql.Tx
}

func (w txRetentionWriter) UpsertRetention(ctx context.Context, userID int64, days int, at time.Time) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO user_retention (user_id, retention_days, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			retention_days = excluded.retention_days,
			updated_at = excluded.updated_at`,
		userID, days, toMicros(at))
	if err != nil {
		return fmt.Errorf("upserting retention for user %d: %w", userID, err)
	}
	return nil
}

// User operations

// CreateUser inserts a user and its retention record in one transaction.
func (s *CentralStore) CreateUser(ctx context.Context, username, email string, tier vital.Tier) (*vital.User, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errors.New("username is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := vital.NormalizeTime(s.clock.Now())
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (username, email, tier, active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)`,
		username, nullString(strings.TrimSpace(email)), string(tier), toMicros(now), toMicros(now))
	if err != nil {
		return nil, fmt.Errorf("creating user %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating user %q: %w", username, err)
	}

	if err := s.hook.OnTierWrite(ctx, txRetentionWriter{tx: tx}, id, tier); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return &vital.User{
		ID:        id,
		Username:  username,
		Email:     strings.TrimSpace(email),
		Tier:      tier,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetUserTier changes a user's tier. The retention record is rewritten in
// the same transaction; no sample data is touched.
func (s *CentralStore) SetUserTier(ctx context.Context, userID int64, tier vital.Tier) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE users SET tier = ?, updated_at = ? WHERE id = ?",
		string(tier), toMicros(s.clock.Now()), userID)
	if err != nil {
		return fmt.Errorf("updating tier of user %d: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("updating tier of user %d: %w", userID, err)
	} else if n == 0 {
		return fmt.Errorf("user %d: %w", userID, vital.ErrNotFound)
	}

	if err := s.hook.OnTierWrite(ctx, txRetentionWriter{tx: tx}, userID, tier); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SetUserActive enables or disables a user. Inactive users cannot sync.
func (s *CentralStore) SetUserActive(ctx context.Context, userID int64, active bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), toMicros(s.clock.Now()), userID)
	if err != nil {
		return fmt.Errorf("updating user %d: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("updating user %d: %w", userID, err)
	} else if n == 0 {
		return fmt.Errorf("user %d: %w", userID, vital.ErrNotFound)
	}
	return nil
}

const userColumns = "u.id, u.username, u.email, u.tier, u.active, u.created_at, u.updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (*vital.User, error) {
	var (
		u                vital.User
		email            sql.NullString
		tier             string
		active           int
		created, updated int64
	)
	dest := append([]any{&u.ID, &u.Username, &email, &tier, &active, &created, &updated}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	t, err := vital.ParseTier(tier)
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Tier = t
	u.Active = active != 0
	u.CreatedAt = fromMicros(created)
	u.UpdatedAt = fromMicros(updated)
	return &u, nil
}

// GetUser returns the user and its retention record, read in one
// statement. The record is nil if it has not been written yet.
func (s *CentralStore) GetUser(ctx context.Context, userID int64) (*vital.User, *vital.RetentionRecord, error) {
	var days, updated sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, r.retention_days, r.updated_at
		FROM users u LEFT JOIN user_retention r ON r.user_id = u.id
		WHERE u.id = ?`, userID)
	u, err := scanUser(row, &days, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("user %d: %w", userID, vital.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading user %d: %w", userID, err)
	}

	var rec *vital.RetentionRecord
	if days.Valid {
		rec = &vital.RetentionRecord{
			UserID:        u.ID,
			RetentionDays: int(days.Int64),
			UpdatedAt:     fromMicros(updated.Int64),
		}
	}
	return u, rec, nil
}

func (s *CentralStore) FindUserByUsername(ctx context.Context, username string) (*vital.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users u WHERE u.username = ?", username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, vital.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding user %q: %w", username, err)
	}
	return u, nil
}

// ListUserIDs returns the ids of every user in ascending order.
func (s *CentralStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Device operations

// RegisterDevice attaches a new device to a user.
func (s *CentralStore) RegisterDevice(ctx context.Context, userID int64, externalID, name, deviceType string) (*vital.Device, error) {
	if externalID == "" {
		return nil, errors.New("device external id is required")
	}

	now := vital.NormalizeTime(s.clock.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (user_id, external_id, name, device_type, active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
		userID, externalID, name, deviceType, toMicros(now))
	if err != nil {
		return nil, fmt.Errorf("registering device %q: %w", externalID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("registering device %q: %w", externalID, err)
	}

	return &vital.Device{
		ID:         id,
		UserID:     userID,
		ExternalID: externalID,
		Name:       name,
		Type:       deviceType,
		CreatedAt:  now,
	}, nil
}

// DeviceOwner returns the id of the user an active device belongs to.
func (s *CentralStore) DeviceOwner(ctx context.Context, deviceID int64) (int64, error) {
	var owner int64
	err := s.db.QueryRowContext(ctx, "SELECT user_id FROM devices WHERE id = ? AND active = 1", deviceID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("device %d: %w", deviceID, vital.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("reading owner of device %d: %w", deviceID, err)
	}
	return owner, nil
}

var (
	_ vital.UserDirectory   = (*CentralStore)(nil)
	_ vital.DeviceDirectory = (*CentralStore)(nil)
	_ vital.SampleWriter    = (*CentralStore)(nil)
)

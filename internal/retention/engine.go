package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vitalsync/internal/database"
	"vitalsync/internal/metrics"
	"vitalsync/internal/vital"
)

// ErrSweepInProgress is returned when a sweep is requested while another
// one is running.
var ErrSweepInProgress = errors.New("retention sweep already in progress")

// Store is the part of the central store the engine drives.
type Store interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
	PurgeExpired(ctx context.Context, userID int64, now time.Time) (*database.PurgeResult, error)
	CompactUser(ctx context.Context, userID int64, now time.Time, hotWindow time.Duration) ([]*database.StoredChunk, error)
	ListChunks(ctx context.Context, userID int64) ([]*database.StoredChunk, error)
	GetChunk(ctx context.Context, chunkID int64) (*database.StoredChunk, error)
	SetChunkArchive(ctx context.Context, chunkID int64, key string) error
	ListReleasedArchives(ctx context.Context) ([]string, error)
	ForgetReleasedArchives(ctx context.Context, keys []string) error
}

// EngineOptions configures an Engine. Zero values select defaults.
type EngineOptions struct {
	HotWindow time.Duration
	// Archiver is optional. Without it chunks are kept only in the store.
	Archiver *Archiver
	Metrics  metrics.Recorder
	Clock    vital.Clock
	Logger   vital.Logger
}

// Engine applies retention horizons and compaction to every user.
type Engine struct {
	store     Store
	archiver  *Archiver
	hotWindow time.Duration
	metrics   metrics.Recorder
	clock     vital.Clock
	logger    vital.Logger

	running sync.Mutex

	mu    sync.Mutex
	stats Stats
}

// Stats accumulates over the lifetime of an Engine.
type Stats struct {
	LastRunTime time.Time
	Sweeps      int64
	Purged      int64
	Compacted   int64
	Archived    int64
	Released    int64
	Errors      int64
}

// UserResult is the outcome of one user's part of a sweep.
type UserResult struct {
	UserID        int64
	Purge         *database.PurgeResult
	ChunksCreated int
	Compacted     int
	Archived      int
	Err           error
}

// SweepResult summarises a sweep. Errors holds per-user failures; users
// after a failed one were still processed.
type SweepResult struct {
	Now        time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Users      []UserResult
	Purged     int64
	Compacted  int
	Archived   int
	Released   int
	Errors     []error
}

func NewEngine(store Store, opts EngineOptions) *Engine {
	if opts.HotWindow <= 0 {
		opts.HotWindow = DefaultHotWindow
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	if opts.Clock == nil {
		opts.Clock = vital.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = vital.NewNopLogger()
	}
	return &Engine{
		store:     store,
		archiver:  opts.Archiver,
		hotWindow: opts.HotWindow,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// Sweep purges expired samples and compacts aging ones for every user.
// The reference time is captured once, so every user in a sweep is judged
// against the same instant. Each user's purge reads that user's retention
// record in its own transaction.
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	if !e.running.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer e.running.Unlock()

	now := e.clock.Now()
	result := &SweepResult{Now: now, StartedAt: time.Now()}

	ids, err := e.store.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	e.logger.Info("retention sweep started", "users", len(ids), "now", now.UTC().Format(time.RFC3339))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err)
			break
		}

		ur := e.sweepUser(ctx, id, now)
		result.Users = append(result.Users, ur)
		if ur.Purge != nil {
			result.Purged += ur.Purge.Total()
		}
		result.Compacted += ur.Compacted
		result.Archived += ur.Archived
		if ur.Err != nil {
			result.Errors = append(result.Errors, ur.Err)
			e.metrics.IncSweepErrors()
			e.logger.Error("retention sweep failed for user", "user_id", id, "error", ur.Err)
		}
	}

	if e.archiver != nil && ctx.Err() == nil {
		released, err := e.releaseArchives(ctx)
		result.Released = released
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("releasing archives: %w", err))
			e.metrics.IncSweepErrors()
			e.logger.Error("releasing archives failed", "error", err)
		}
	}

	result.FinishedAt = time.Now()
	elapsed := result.FinishedAt.Sub(result.StartedAt)
	e.metrics.ObserveSweepDuration(elapsed)
	e.metrics.AddPurged(result.Purged)
	e.metrics.AddCompacted(result.Compacted)
	e.metrics.AddArchived(result.Archived)

	e.mu.Lock()
	e.stats.LastRunTime = result.StartedAt
	e.stats.Sweeps++
	e.stats.Purged += result.Purged
	e.stats.Compacted += int64(result.Compacted)
	e.stats.Archived += int64(result.Archived)
	e.stats.Released += int64(result.Released)
	e.stats.Errors += int64(len(result.Errors))
	e.mu.Unlock()

	e.logger.Info("retention sweep finished",
		"users", len(result.Users),
		"purged", result.Purged,
		"compacted", result.Compacted,
		"archived", result.Archived,
		"released", result.Released,
		"errors", len(result.Errors),
		"duration", elapsed)
	return result, nil
}

func (e *Engine) sweepUser(ctx context.Context, userID int64, now time.Time) UserResult {
	ur := UserResult{UserID: userID}

	purge, err := e.store.PurgeExpired(ctx, userID, now)
	if err != nil {
		ur.Err = fmt.Errorf("user %d: purging: %w", userID, err)
		return ur
	}
	ur.Purge = purge
	if purge.Total() > 0 {
		e.logger.Info("expired samples purged",
			"user_id", userID,
			"retention_days", purge.RetentionDays,
			"cutoff", purge.Cutoff.Format(time.RFC3339),
			"hot", purge.HotRows,
			"compacted", purge.ChunkRows)
	}

	created, err := e.store.CompactUser(ctx, userID, now, e.hotWindow)
	if err != nil {
		ur.Err = fmt.Errorf("user %d: compacting: %w", userID, err)
		return ur
	}
	ur.ChunksCreated = len(created)
	for _, c := range created {
		ur.Compacted += c.Count
	}

	if e.archiver == nil {
		return ur
	}

	archived, err := e.archivePending(ctx, userID)
	ur.Archived = archived
	if err != nil {
		ur.Err = fmt.Errorf("user %d: archiving: %w", userID, err)
	}
	return ur
}

// releaseArchives deletes the vault objects of purged or rewritten chunks.
// The store keeps each key until its object is gone, so keys left by an
// earlier failed sweep are retried here.
func (e *Engine) releaseArchives(ctx context.Context) (int, error) {
	keys, err := e.store.ListReleasedArchives(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	released, relErr := e.archiver.Release(ctx, keys)
	var errs []error
	if relErr != nil {
		errs = append(errs, relErr)
	}
	if len(released) > 0 {
		if err := e.store.ForgetReleasedArchives(ctx, released); err != nil {
			errs = append(errs, err)
		}
	}
	return len(released), errors.Join(errs...)
}

// archivePending archives every chunk of userID that has no archive copy:
// chunks created by this sweep, rewritten chunks, and earlier failures.
func (e *Engine) archivePending(ctx context.Context, userID int64) (int, error) {
	chunks, err := e.store.ListChunks(ctx, userID)
	if err != nil {
		return 0, err
	}

	archived := 0
	var errs []error
	for _, meta := range chunks {
		if meta.ArchiveKey != "" {
			continue
		}
		c, err := e.store.GetChunk(ctx, meta.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key, err := e.archiver.Archive(ctx, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.store.SetChunkArchive(ctx, c.ID, key); err != nil {
			errs = append(errs, err)
			continue
		}
		archived++
	}
	return archived, errors.Join(errs...)
}

// Stats returns a snapshot of the accumulated statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

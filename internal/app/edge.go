package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"vitalsync/internal/collector"
	"vitalsync/internal/config"
	"vitalsync/internal/database"
	"vitalsync/internal/retention"
	"vitalsync/internal/syncclient"
	"vitalsync/internal/vital"
)

// EdgeApp wires the device side: buffer, collector and sync client.
// The caller must call Close when done.
type EdgeApp struct {
	cfg       *config.Config
	buffer    *database.SQLiteBuffer
	syncer    *syncclient.Syncer
	collector *collector.Collector
	clock     vital.Clock
	logger    vital.Logger
	op        *Operation
	logFile   *os.File
}

// EdgeStatus summarises the device's sync state.
type EdgeStatus struct {
	Tier    vital.Tier
	Buffer  *vital.BufferStats
	LastRun *vital.SyncReport // nil before the first sync
}

// NewEdgeApp creates a fully wired EdgeApp from cfg. operation names the
// CLI command being run and tags every log line.
func NewEdgeApp(cfg *config.Config, operation string) (*EdgeApp, error) {
	return newEdgeApp(cfg, operation, vital.RealClock{}, nil)
}

// newEdgeApp lets tests substitute the clock and the transport.
func newEdgeApp(cfg *config.Config, operation string, clock vital.Clock, transport syncclient.Transport) (*EdgeApp, error) {
	if err := config.ValidateEdge(cfg); err != nil {
		return nil, err
	}

	op := NewOperation(operation, clock.Now())
	sl, logFile, err := newLogger(cfg.LogDir, op.ID, logLevel(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl.With("op", op.Name)}

	buffer, err := database.NewBufferFromConfig(cfg.Edge.Database, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening sample buffer: %w", err)
	}

	if transport == nil {
		transport = syncclient.NewHTTPTransport(cfg.Edge.ServerURL, cfg.Edge.Token, cfg.Edge.RequestTimeout.Or(syncclient.DefaultRequestTimeout))
	}
	syncer := syncclient.NewSyncer(buffer, buffer, buffer, transport, syncclient.Options{
		BatchSize: cfg.Edge.BatchSize,
		Clock:     clock,
		Logger:    logger,
	})

	col := collector.New(buffer, collector.NewSyntheticSource(uint64(clock.Now().UnixNano())), collector.Options{
		UserID:   cfg.Edge.UserID,
		DeviceID: cfg.Edge.DeviceID,
		Clock:    clock,
		Logger:   logger,
	})

	return &EdgeApp{
		cfg:       cfg,
		buffer:    buffer,
		syncer:    syncer,
		collector: col,
		clock:     clock,
		logger:    logger,
		op:        op,
		logFile:   logFile,
	}, nil
}

// Run collects, syncs and prunes until ctx is cancelled. The profile is
// refreshed once at start; a failure there leaves the cached tier alone.
func (a *EdgeApp) Run(ctx context.Context) error {
	if _, err := a.syncer.RefreshProfile(ctx); err != nil {
		a.logger.Warn("refreshing profile failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.collector.Run(ctx, a.cfg.Edge.CollectInterval.Or(collector.DefaultInterval))
	})
	g.Go(func() error {
		return a.syncer.Run(ctx, a.cfg.Edge.SyncInterval.Or(time.Minute))
	})
	g.Go(func() error {
		return a.runCleanup(ctx, a.cfg.Edge.CleanupInterval.Or(24*time.Hour))
	})

	a.logger.Info("edge started", "user_id", a.cfg.Edge.UserID, "device_id", a.cfg.Edge.DeviceID, "server", a.cfg.Edge.ServerURL)
	err := g.Wait()
	a.logger.Info("edge stopped")
	return err
}

func (a *EdgeApp) runCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.Cleanup(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("local cleanup failed", "error", err)
			}
		}
	}
}

// Cleanup drops buffered samples older than the retention horizon of the
// cached tier. They would be purged on the server anyway.
func (a *EdgeApp) Cleanup(ctx context.Context) (int64, error) {
	tier, err := a.buffer.Tier(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := a.clock.Now().Add(-retention.Horizon(tier))
	n, err := a.buffer.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.logger.Info("pruned local samples", "count", n, "cutoff", cutoff, "tier", tier)
	}
	return n, nil
}

// SyncOnce uploads one batch.
func (a *EdgeApp) SyncOnce(ctx context.Context) (*vital.SyncReport, error) {
	return a.syncer.SyncOnce(ctx)
}

// CollectOnce reads one synthetic sample into the buffer.
func (a *EdgeApp) CollectOnce(ctx context.Context) (*vital.Sample, error) {
	return a.collector.CollectOnce(ctx)
}

func (a *EdgeApp) RefreshProfile(ctx context.Context) (*vital.Profile, error) {
	return a.syncer.RefreshProfile(ctx)
}

func (a *EdgeApp) Status(ctx context.Context) (*EdgeStatus, error) {
	tier, err := a.buffer.Tier(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := a.buffer.Stats(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := a.buffer.ListSyncRuns(ctx, 1)
	if err != nil {
		return nil, err
	}

	st := &EdgeStatus{Tier: tier, Buffer: stats}
	if len(runs) > 0 {
		st.LastRun = runs[0]
	}
	return st, nil
}

// History returns the most recent sync runs, newest first.
func (a *EdgeApp) History(ctx context.Context, limit int) ([]*vital.SyncReport, error) {
	return a.buffer.ListSyncRuns(ctx, limit)
}

// Quarantined lists samples the server rejected.
func (a *EdgeApp) Quarantined(ctx context.Context, limit int) ([]*database.QuarantinedSample, error) {
	return a.buffer.ListQuarantined(ctx, limit)
}

// Requeue returns quarantined samples to the pending queue.
func (a *EdgeApp) Requeue(ctx context.Context) (int64, error) {
	n, err := a.buffer.Requeue(ctx)
	if err != nil {
		return 0, err
	}
	a.logger.Info("requeued quarantined samples", "count", n)
	return n, nil
}

// Close closes the buffer and the log file.
func (a *EdgeApp) Close() error {
	var firstErr error
	if err := a.buffer.Close(); err != nil {
		firstErr = fmt.Errorf("closing buffer: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

func logLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

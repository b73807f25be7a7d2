package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vitalsync/internal/vital"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 500

type Options struct {
	BatchSize int
	Clock     vital.Clock
	Logger    vital.Logger
}

// Syncer drains the sample buffer to the gateway. At most one sync runs
// at a time per Syncer.
type Syncer struct {
	buffer    vital.SampleBuffer
	profile   vital.ProfileStore
	history   vital.SyncHistory
	transport Transport
	batchSize atomic.Int64 // shrinks when the server refuses a batch
	clock     vital.Clock
	logger    vital.Logger

	running sync.Mutex
}

func NewSyncer(buffer vital.SampleBuffer, profile vital.ProfileStore, history vital.SyncHistory, transport Transport, opts Options) *Syncer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = vital.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = vital.NewNopLogger()
	}
	s := &Syncer{
		buffer:    buffer,
		profile:   profile,
		history:   history,
		transport: transport,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	s.batchSize.Store(int64(opts.BatchSize))
	return s
}

// BatchSize returns the current batch cap.
func (s *Syncer) BatchSize() int { return int(s.batchSize.Load()) }

// SyncOnce uploads one batch. The returned report is never nil; the error
// is non-nil for every status except synced and nothing.
//
// Nothing is removed from the buffer unless the server accounted for every
// sample in the batch. Accepted and duplicate samples are removed; rejected
// samples are quarantined so they stop taking batch slots.
func (s *Syncer) SyncOnce(ctx context.Context) (*vital.SyncReport, error) {
	report := &vital.SyncReport{StartedAt: s.clock.Now()}

	if !s.running.TryLock() {
		report.Status = vital.SyncBusy
		report.FinishedAt = report.StartedAt
		return report, vital.ErrSyncInProgress
	}
	defer s.running.Unlock()

	err := s.syncBatch(ctx, report)
	report.FinishedAt = s.clock.Now()
	if err != nil {
		report.Error = err.Error()
		if report.Status == "" {
			report.Status = vital.SyncFailed
		}
	}

	if report.Status != vital.SyncNothing {
		if rerr := s.history.RecordSyncRun(ctx, report); rerr != nil {
			s.logger.Warn("recording sync run failed", "error", rerr)
		}
	}
	s.logReport(report, err)
	return report, err
}

func (s *Syncer) syncBatch(ctx context.Context, report *vital.SyncReport) error {
	tier, err := s.profile.Tier(ctx)
	if err != nil {
		return fmt.Errorf("reading tier: %w", err)
	}
	if !tier.CanSync() {
		report.Status = vital.SyncNotEntitled
		return fmt.Errorf("%w (cached tier is %s)", vital.ErrNotEntitled, tier)
	}

	batch, err := s.readBatch(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		report.Status = vital.SyncNothing
		return nil
	}
	report.Sent = len(batch)

	resp, err := s.transport.PostBatch(ctx, batch)
	if err != nil {
		switch {
		case errors.Is(err, vital.ErrNotEntitled):
			report.Status = vital.SyncNotEntitled
			if terr := s.profile.SetTier(ctx, vital.TierFree); terr != nil {
				s.logger.Warn("downgrading cached tier failed", "error", terr)
			}
		case errors.Is(err, ErrBatchTooLarge):
			s.shrinkBatch(len(batch))
		}
		return fmt.Errorf("posting batch: %w", err)
	}

	rejects, err := confirm(resp, batch)
	if err != nil {
		return err
	}
	report.Accepted = resp.Count
	report.Duplicates = resp.Duplicates
	report.Rejected = len(rejects)

	rejected := make(map[int]bool, len(rejects))
	for _, r := range rejects {
		rejected[r.Index] = true
	}
	keys := make([]vital.SampleKey, 0, len(batch)-len(rejects))
	for i := range batch {
		if !rejected[i] {
			keys = append(keys, batch[i].Key())
		}
	}

	removed, err := s.buffer.Remove(ctx, keys)
	if err != nil {
		return fmt.Errorf("removing confirmed samples: %w", err)
	}
	report.Removed = removed

	if len(rejects) > 0 {
		if _, err := s.buffer.Quarantine(ctx, rejects); err != nil {
			return fmt.Errorf("quarantining rejected samples: %w", err)
		}
		for _, r := range rejects {
			s.logger.Warn("sample rejected by server", "key", r.Key.String(), "reason", r.Reason)
		}
	}

	report.Status = vital.SyncSynced
	return nil
}

// shrinkBatch halves the batch cap after the server refused sent samples.
func (s *Syncer) shrinkBatch(sent int) {
	n := max(sent/2, 1)
	if int64(n) >= s.batchSize.Load() {
		return
	}
	s.batchSize.Store(int64(n))
	s.logger.Warn("server refused batch size, shrinking", "sent", sent, "batch_size", n)
}

func (s *Syncer) readBatch(ctx context.Context) ([]vital.Sample, error) {
	limit := s.BatchSize()
	batch := make([]vital.Sample, 0, limit)
	for sample, err := range s.buffer.Pending(ctx, limit) {
		if err != nil {
			return nil, fmt.Errorf("reading buffer: %w", err)
		}
		batch = append(batch, sample)
	}
	return batch, nil
}

// confirm checks that resp accounts for every sample in batch exactly once
// and returns the rejected items keyed to the samples that were sent.
func confirm(resp *vital.IngestResponse, batch []vital.Sample) ([]vital.ValidationError, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", vital.ErrUnconfirmedBatch)
	}
	if resp.Count < 0 || resp.Duplicates < 0 {
		return nil, fmt.Errorf("%w: negative counts", vital.ErrUnconfirmedBatch)
	}
	total := resp.Count + resp.Duplicates + len(resp.Rejected)
	if total != len(batch) {
		return nil, fmt.Errorf("%w: server accounted for %d of %d samples", vital.ErrUnconfirmedBatch, total, len(batch))
	}

	rejects := make([]vital.ValidationError, 0, len(resp.Rejected))
	seen := make(map[int]bool, len(resp.Rejected))
	for _, r := range resp.Rejected {
		if r.Index < 0 || r.Index >= len(batch) || seen[r.Index] {
			return nil, fmt.Errorf("%w: bad rejected index %d", vital.ErrUnconfirmedBatch, r.Index)
		}
		if r.ID != batch[r.Index].ID {
			return nil, fmt.Errorf("%w: rejected index %d names id %d, sent %d",
				vital.ErrUnconfirmedBatch, r.Index, r.ID, batch[r.Index].ID)
		}
		seen[r.Index] = true
		rejects = append(rejects, vital.ValidationError{
			Index:  r.Index,
			Key:    batch[r.Index].Key(),
			Reason: r.Reason,
		})
	}
	return rejects, nil
}

func (s *Syncer) logReport(r *vital.SyncReport, err error) {
	args := []any{
		"status", r.Status,
		"sent", r.Sent,
		"accepted", r.Accepted,
		"duplicates", r.Duplicates,
		"rejected", r.Rejected,
		"removed", r.Removed,
		"duration", r.FinishedAt.Sub(r.StartedAt),
	}
	switch {
	case err == nil && r.Status == vital.SyncNothing:
		s.logger.Debug("sync: buffer empty")
	case err == nil:
		s.logger.Info("sync complete", args...)
	case r.Status == vital.SyncBusy || r.Status == vital.SyncNotEntitled:
		s.logger.Debug("sync skipped", append(args, "error", err)...)
	case IsRetryable(err):
		s.logger.Warn("sync failed, retrying next tick", append(args, "error", err)...)
	default:
		s.logger.Error("sync failed", append(args, "error", err)...)
	}
}

// Run syncs once immediately and then every interval until ctx is done.
// Failures are logged and retried on the next tick.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.drain(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// drain keeps syncing full batches until the buffer has no more than a
// partial batch left or a sync fails.
func (s *Syncer) drain(ctx context.Context) {
	for ctx.Err() == nil {
		report, err := s.SyncOnce(ctx)
		if err != nil || report.Sent < s.BatchSize() {
			return
		}
	}
}

// RefreshProfile fetches the user's profile and caches the tier. An
// inactive account is cached as free so syncing stops.
func (s *Syncer) RefreshProfile(ctx context.Context) (*vital.Profile, error) {
	p, err := s.transport.FetchProfile(ctx)
	if err != nil {
		if errors.Is(err, vital.ErrUnauthenticated) {
			if terr := s.profile.SetTier(ctx, vital.TierFree); terr != nil {
				s.logger.Warn("downgrading cached tier failed", "error", terr)
			}
		}
		return nil, fmt.Errorf("fetching profile: %w", err)
	}

	tier, err := vital.ParseTier(string(p.Tier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vital.ErrTransportFailure, err)
	}
	if !p.Active {
		tier = vital.TierFree
	}
	if err := s.profile.SetTier(ctx, tier); err != nil {
		return nil, err
	}
	s.logger.Info("profile refreshed", "username", p.Username, "tier", tier, "retention_days", p.RetentionDays)
	return p, nil
}

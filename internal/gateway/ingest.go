// Package gateway is the server-side ingestion endpoint: it authenticates
// a batch, checks entitlement, validates each sample and stores it with
// insert-or-ignore semantics on the composite key.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"vitalsync/internal/metrics"
	"vitalsync/internal/vital"
)

// Ingestor applies a batch to the central store. Each sample commits on
// its own, so a failure part-way leaves earlier samples stored; the client
// resends the whole batch and those come back as duplicates.
type Ingestor struct {
	users   vital.UserDirectory
	devices vital.DeviceDirectory
	writer  vital.SampleWriter
	metrics metrics.Recorder
	logger  vital.Logger
}

func NewIngestor(users vital.UserDirectory, devices vital.DeviceDirectory, writer vital.SampleWriter, m metrics.Recorder, logger vital.Logger) *Ingestor {
	if m == nil {
		m = metrics.Noop()
	}
	return &Ingestor{users: users, devices: devices, writer: writer, metrics: m, logger: logger}
}

// Ingest stores batch on behalf of principal. Authentication and
// entitlement failures reject the whole batch, as does a storage error.
// Invalid samples are reported in the result and never stop the batch;
// samples whose key already exists count as duplicates.
func (i *Ingestor) Ingest(ctx context.Context, principal string, batch []vital.Sample) (*vital.IngestResult, error) {
	user, err := i.resolve(ctx, principal)
	if err != nil {
		return nil, err
	}

	result := &vital.IngestResult{}
	owners := make(map[int64]int64)

	for idx := range batch {
		s := &batch[idx]
		s.Timestamp = vital.NormalizeTime(s.Timestamp)

		reason, err := i.validate(ctx, user.ID, s, owners)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", vital.ErrStorageFailure, idx, err)
		}
		if reason != "" {
			result.Rejected = append(result.Rejected, vital.ValidationError{
				Index:  idx,
				Key:    s.Key(),
				Reason: reason,
			})
			continue
		}

		inserted, err := i.writer.InsertSample(ctx, s)
		if err != nil {
			i.logger.Error("storing sample failed", "user_id", user.ID, "index", idx, "error", err)
			return nil, fmt.Errorf("%w: item %d: %v", vital.ErrStorageFailure, idx, err)
		}
		if inserted {
			result.Accepted++
		} else {
			result.Duplicates++
		}
	}

	i.metrics.AddIngested(metrics.OutcomeAccepted, result.Accepted)
	i.metrics.AddIngested(metrics.OutcomeDuplicate, result.Duplicates)
	i.metrics.AddIngested(metrics.OutcomeRejected, len(result.Rejected))

	i.logger.Info("batch ingested",
		"user_id", user.ID,
		"size", len(batch),
		"accepted", result.Accepted,
		"duplicates", result.Duplicates,
		"rejected", len(result.Rejected))
	return result, nil
}

// resolve maps a principal to an active, entitled user.
func (i *Ingestor) resolve(ctx context.Context, principal string) (*vital.User, error) {
	user, err := i.users.FindUserByUsername(ctx, principal)
	if errors.Is(err, vital.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user %q", vital.ErrUnauthenticated, principal)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolving user: %v", vital.ErrStorageFailure, err)
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: user %q is inactive", vital.ErrUnauthenticated, principal)
	}
	if !user.Tier.CanSync() {
		return nil, fmt.Errorf("%w: user %q is on the %s tier", vital.ErrNotEntitled, principal, user.Tier)
	}
	return user, nil
}

// validate returns a rejection reason, or "" for a valid sample. An error
// means ownership could not be checked at all.
func (i *Ingestor) validate(ctx context.Context, userID int64, s *vital.Sample, owners map[int64]int64) (string, error) {
	if s.Timestamp.IsZero() {
		return "timestamp is required", nil
	}
	if s.ModelVersion == "" {
		return "model_version is required", nil
	}
	if s.UserID != userID {
		return fmt.Sprintf("user_id %d does not match the authenticated user", s.UserID), nil
	}

	owner, ok := owners[s.DeviceID]
	if !ok {
		var err error
		owner, err = i.devices.DeviceOwner(ctx, s.DeviceID)
		if errors.Is(err, vital.ErrNotFound) {
			owner = 0
		} else if err != nil {
			return "", err
		}
		owners[s.DeviceID] = owner
	}
	if owner == 0 {
		return fmt.Sprintf("device %d is not registered", s.DeviceID), nil
	}
	if owner != userID {
		return fmt.Sprintf("device %d does not belong to the authenticated user", s.DeviceID), nil
	}
	return "", nil
}

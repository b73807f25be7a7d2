// Package collector produces samples on the device and appends them to
// the local buffer.
package collector

import (
	"context"
	"fmt"
	"time"

	"vitalsync/internal/vital"
)

// DefaultInterval is the sampling period.
const DefaultInterval = 5 * time.Second

// Source reads the sensor measurements of one sample. Identity fields and
// the timestamp are filled in by the Collector.
type Source interface {
	Read(ctx context.Context) (vital.Sample, error)
}

type Options struct {
	UserID   int64
	DeviceID int64
	IDs      vital.IDGenerator
	Clock    vital.Clock
	Logger   vital.Logger
}

type Collector struct {
	buffer   vital.SampleBuffer
	source   Source
	userID   int64
	deviceID int64
	ids      vital.IDGenerator
	clock    vital.Clock
	logger   vital.Logger
}

func New(buffer vital.SampleBuffer, source Source, opts Options) *Collector {
	if opts.IDs == nil {
		opts.IDs = vital.UUIDGenerator{}
	}
	if opts.Clock == nil {
		opts.Clock = vital.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = vital.NewNopLogger()
	}
	return &Collector{
		buffer:   buffer,
		source:   source,
		userID:   opts.UserID,
		deviceID: opts.DeviceID,
		ids:      opts.IDs,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
}

// CollectOnce reads one sample and appends it to the buffer.
func (c *Collector) CollectOnce(ctx context.Context) (*vital.Sample, error) {
	s, err := c.source.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sensors: %w", err)
	}

	s.ID = c.ids.NewID()
	s.UserID = c.userID
	s.DeviceID = c.deviceID
	s.Timestamp = vital.NormalizeTime(c.clock.Now())
	if s.RawFeatures == nil {
		s.RawFeatures = vital.Payload{}
	}
	s.RawFeatures["schema_version"] = vital.PayloadSchemaVersion
	if s.LoraWeights != nil {
		s.LoraWeights["schema_version"] = vital.PayloadSchemaVersion
	}

	if err := c.buffer.Append(ctx, &s); err != nil {
		return nil, fmt.Errorf("buffering sample: %w", err)
	}
	c.logger.Debug("sample collected", "id", s.ID, "timestamp", s.Timestamp)
	return &s, nil
}

// Run collects a sample every interval until ctx is done. A failed
// collection is logged and does not stop the loop.
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.CollectOnce(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("collecting sample failed", "error", err)
			}
		}
	}
}

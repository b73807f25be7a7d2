package testutil

import (
	"time"

	"vitalsync/internal/vital"
)

func IntPtr(v int) *int           { return &v }
func FloatPtr(v float64) *float64 { return &v }

// NewSample returns a valid sample with a few measurements set.
func NewSample(id, userID, deviceID int64, ts time.Time) vital.Sample {
	return vital.Sample{
		ID:              id,
		UserID:          userID,
		DeviceID:        deviceID,
		Timestamp:       vital.NormalizeTime(ts),
		HeartRate:       IntPtr(70),
		SpO2:            IntPtr(98),
		StressLevel:     FloatPtr(0.25),
		ModelVersion:    "v1.0",
		ConfidenceScore: FloatPtr(0.9),
		RawFeatures:     vital.Payload{"schema_version": float64(vital.PayloadSchemaVersion)},
	}
}


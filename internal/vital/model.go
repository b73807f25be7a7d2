package vital

import (
	"fmt"
	"time"
)

// Tier is a user's subscription class. It controls sync entitlement and
// the retention horizon of the user's samples.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// ParseTier parses a tier name. An empty string is treated as free,
// matching the default given to new users.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierFree, "":
		return TierFree, nil
	case TierPremium:
		return TierPremium, nil
	default:
		return "", fmt.Errorf("unknown tier: %q", s)
	}
}

// CanSync reports whether the tier is entitled to cloud sync.
func (t Tier) CanSync() bool { return t == TierPremium }

func (t Tier) String() string { return string(t) }

// PayloadSchemaVersion is the current shape version of the open-ended
// raw_features / lora_weights maps. Writers stamp it under the
// "schema_version" key; readers must tolerate older or missing versions.
const PayloadSchemaVersion = 1

// Payload is a schema-less key/value container for extensible
// measurements. Its shape is documented, not enforced.
type Payload map[string]any

// Sample is one timestamped sensor reading. The JSON form is the sync
// wire format.
type Sample struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	DeviceID  int64     `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	// Biometrics
	HeartRate       *int     `json:"heart_rate"`
	HRVRMSSD        *float64 `json:"hrv_rmssd"`
	HRVSDNN         *float64 `json:"hrv_sdnn"`
	SpO2            *int     `json:"spo2"`
	SkinTemperature *float64 `json:"skin_temperature"`

	// Motion
	AccelX     *float64 `json:"accel_x"`
	AccelY     *float64 `json:"accel_y"`
	AccelZ     *float64 `json:"accel_z"`
	GyroX      *float64 `json:"gyro_x"`
	GyroY      *float64 `json:"gyro_y"`
	GyroZ      *float64 `json:"gyro_z"`
	StepsCount *int     `json:"steps_count"`

	// Audio
	NoiseLevelDB  *float64 `json:"noise_level_db"`
	BreathingRate *int     `json:"breathing_rate"`

	// Context
	ActivityType *string `json:"activity_type"`
	LocationType *string `json:"location_type"`
	BatteryLevel *int    `json:"battery_level"`

	// Model output
	StressLevel     *float64 `json:"stress_level"`
	EnergyLevel     *float64 `json:"energy_level"`
	FocusLevel      *float64 `json:"focus_level"`
	ModelVersion    string   `json:"model_version"`
	ConfidenceScore *float64 `json:"confidence_score"`

	RawFeatures   Payload `json:"raw_features"`
	LoraWeights   Payload `json:"lora_weights"`
	SignalQuality *int    `json:"signal_quality"`
}

// Key returns the composite identity of the sample.
func (s *Sample) Key() SampleKey {
	return SampleKey{ID: s.ID, Timestamp: s.Timestamp, UserID: s.UserID}
}

// SampleKey is the (id, timestamp, user_id) triple that uniquely identifies
// a sample. The id alone is not unique because it is generated on the device.
type SampleKey struct {
	ID        int64
	Timestamp time.Time
	UserID    int64
}

func (k SampleKey) String() string {
	return fmt.Sprintf("%d@%s/user=%d", k.ID, k.Timestamp.UTC().Format(time.RFC3339Nano), k.UserID)
}

// NormalizeTime truncates t to microseconds in UTC. All stores keep
// timestamps at this precision so composite keys compare equal everywhere.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// User is an account as seen by the sync and retention subsystems.
type User struct {
	ID        int64
	Username  string
	Email     string
	Tier      Tier
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Device belongs to exactly one user. ExternalID is the stable identifier
// the device was registered with.
type Device struct {
	ID         int64
	UserID     int64
	ExternalID string
	Name       string
	Type       string
	CreatedAt  time.Time
}

// RetentionRecord holds the retention horizon derived from a user's tier.
// RetentionDays is never set independently of the tier.
type RetentionRecord struct {
	UserID        int64
	RetentionDays int
	UpdatedAt     time.Time
}

// Horizon returns the retention horizon as a duration.
func (r *RetentionRecord) Horizon() time.Duration {
	return time.Duration(r.RetentionDays) * 24 * time.Hour
}

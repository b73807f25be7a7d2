// Package chunk encodes batches of samples into compact, compressed
// blobs for cold storage. A chunk holds the samples of one user for one
// UTC day; decoding returns exactly the values that were encoded.
package chunk

import (
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"

	"vitalsync/internal/vital"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("chunk: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("chunk: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encoded is a serialized and compressed chunk.
type Encoded struct {
	Codec   Codec
	RawSize int
	Payload []byte
	Count   int
	MinTS   time.Time
	MaxTS   time.Time
}

// record is the on-disk form of a sample. Integer keys keep chunks small.
// The open-ended payload maps are kept as their JSON text so decoded
// values match what the hot table returns.
type record struct {
	ID       int64 `cbor:"1,keyasint"`
	UserID   int64 `cbor:"2,keyasint"`
	DeviceID int64 `cbor:"3,keyasint"`
	TS       int64 `cbor:"4,keyasint"` // unix microseconds

	HeartRate       *int     `cbor:"5,keyasint,omitempty"`
	HRVRMSSD        *float64 `cbor:"6,keyasint,omitempty"`
	HRVSDNN         *float64 `cbor:"7,keyasint,omitempty"`
	SpO2            *int     `cbor:"8,keyasint,omitempty"`
	SkinTemperature *float64 `cbor:"9,keyasint,omitempty"`
	AccelX          *float64 `cbor:"10,keyasint,omitempty"`
	AccelY          *float64 `cbor:"11,keyasint,omitempty"`
	AccelZ          *float64 `cbor:"12,keyasint,omitempty"`
	GyroX           *float64 `cbor:"13,keyasint,omitempty"`
	GyroY           *float64 `cbor:"14,keyasint,omitempty"`
	GyroZ           *float64 `cbor:"15,keyasint,omitempty"`
	StepsCount      *int     `cbor:"16,keyasint,omitempty"`
	NoiseLevelDB    *float64 `cbor:"17,keyasint,omitempty"`
	BreathingRate   *int     `cbor:"18,keyasint,omitempty"`
	ActivityType    *string  `cbor:"19,keyasint,omitempty"`
	LocationType    *string  `cbor:"20,keyasint,omitempty"`
	BatteryLevel    *int     `cbor:"21,keyasint,omitempty"`
	StressLevel     *float64 `cbor:"22,keyasint,omitempty"`
	EnergyLevel     *float64 `cbor:"23,keyasint,omitempty"`
	FocusLevel      *float64 `cbor:"24,keyasint,omitempty"`
	ModelVersion    string   `cbor:"25,keyasint"`
	ConfidenceScore *float64 `cbor:"26,keyasint,omitempty"`
	RawFeatures     []byte   `cbor:"27,keyasint,omitempty"`
	LoraWeights     []byte   `cbor:"28,keyasint,omitempty"`
	SignalQuality   *int     `cbor:"29,keyasint,omitempty"`
}

// Encode serializes samples and compresses them with codec. When codec
// does not shrink the data the chunk is stored uncompressed and
// Encoded.Codec reports CodecNone.
func Encode(samples []vital.Sample, codec Codec) (*Encoded, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("encoding empty chunk")
	}

	enc := &Encoded{Count: len(samples)}
	records := make([]record, 0, len(samples))
	for i := range samples {
		r, err := toRecord(&samples[i])
		if err != nil {
			return nil, fmt.Errorf("encoding sample %d: %w", samples[i].ID, err)
		}
		records = append(records, r)

		ts := vital.NormalizeTime(samples[i].Timestamp)
		if enc.MinTS.IsZero() || ts.Before(enc.MinTS) {
			enc.MinTS = ts
		}
		if ts.After(enc.MaxTS) {
			enc.MaxTS = ts
		}
	}

	raw, err := encMode.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshaling chunk: %w", err)
	}

	payload, applied, err := compress(raw, codec)
	if err != nil {
		return nil, err
	}
	enc.Codec = applied
	enc.RawSize = len(raw)
	enc.Payload = payload
	return enc, nil
}

// Decode reverses Encode.
func Decode(payload []byte, codec Codec, rawSize int) ([]vital.Sample, error) {
	raw, err := decompress(payload, codec, rawSize)
	if err != nil {
		return nil, err
	}

	var records []record
	if err := decMode.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("unmarshaling chunk: %w", err)
	}

	samples := make([]vital.Sample, 0, len(records))
	for i := range records {
		s, err := fromRecord(&records[i])
		if err != nil {
			return nil, fmt.Errorf("decoding sample %d: %w", records[i].ID, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func toRecord(s *vital.Sample) (record, error) {
	raw, err := MarshalPayload(s.RawFeatures)
	if err != nil {
		return record{}, fmt.Errorf("raw_features: %w", err)
	}
	lora, err := MarshalPayload(s.LoraWeights)
	if err != nil {
		return record{}, fmt.Errorf("lora_weights: %w", err)
	}
	return record{
		ID:              s.ID,
		UserID:          s.UserID,
		DeviceID:        s.DeviceID,
		TS:              vital.NormalizeTime(s.Timestamp).UnixMicro(),
		HeartRate:       s.HeartRate,
		HRVRMSSD:        s.HRVRMSSD,
		HRVSDNN:         s.HRVSDNN,
		SpO2:            s.SpO2,
		SkinTemperature: s.SkinTemperature,
		AccelX:          s.AccelX,
		AccelY:          s.AccelY,
		AccelZ:          s.AccelZ,
		GyroX:           s.GyroX,
		GyroY:           s.GyroY,
		GyroZ:           s.GyroZ,
		StepsCount:      s.StepsCount,
		NoiseLevelDB:    s.NoiseLevelDB,
		BreathingRate:   s.BreathingRate,
		ActivityType:    s.ActivityType,
		LocationType:    s.LocationType,
		BatteryLevel:    s.BatteryLevel,
		StressLevel:     s.StressLevel,
		EnergyLevel:     s.EnergyLevel,
		FocusLevel:      s.FocusLevel,
		ModelVersion:    s.ModelVersion,
		ConfidenceScore: s.ConfidenceScore,
		RawFeatures:     raw,
		LoraWeights:     lora,
		SignalQuality:   s.SignalQuality,
	}, nil
}

func fromRecord(r *record) (vital.Sample, error) {
	raw, err := UnmarshalPayload(r.RawFeatures)
	if err != nil {
		return vital.Sample{}, fmt.Errorf("raw_features: %w", err)
	}
	lora, err := UnmarshalPayload(r.LoraWeights)
	if err != nil {
		return vital.Sample{}, fmt.Errorf("lora_weights: %w", err)
	}
	return vital.Sample{
		ID:              r.ID,
		UserID:          r.UserID,
		DeviceID:        r.DeviceID,
		Timestamp:       time.UnixMicro(r.TS).UTC(),
		HeartRate:       r.HeartRate,
		HRVRMSSD:        r.HRVRMSSD,
		HRVSDNN:         r.HRVSDNN,
		SpO2:            r.SpO2,
		SkinTemperature: r.SkinTemperature,
		AccelX:          r.AccelX,
		AccelY:          r.AccelY,
		AccelZ:          r.AccelZ,
		GyroX:           r.GyroX,
		GyroY:           r.GyroY,
		GyroZ:           r.GyroZ,
		StepsCount:      r.StepsCount,
		NoiseLevelDB:    r.NoiseLevelDB,
		BreathingRate:   r.BreathingRate,
		ActivityType:    r.ActivityType,
		LocationType:    r.LocationType,
		BatteryLevel:    r.BatteryLevel,
		StressLevel:     r.StressLevel,
		EnergyLevel:     r.EnergyLevel,
		FocusLevel:      r.FocusLevel,
		ModelVersion:    r.ModelVersion,
		ConfidenceScore: r.ConfidenceScore,
		RawFeatures:     raw,
		LoraWeights:     lora,
		SignalQuality:   r.SignalQuality,
	}, nil
}

// MarshalPayload returns the JSON text of p, or nil for a nil map.
func MarshalPayload(p vital.Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// UnmarshalPayload parses JSON text produced for a payload column.
// Empty input yields a nil Payload.
func UnmarshalPayload(b []byte) (vital.Payload, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var p vital.Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return p, nil
}

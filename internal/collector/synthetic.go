package collector

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"vitalsync/internal/vital"
)

// SyntheticModelVersion labels samples produced by SyntheticSource.
const SyntheticModelVersion = "v1.0"

// SyntheticSource generates plausible resting readings. It stands in for
// real sensors on development devices.
type SyntheticSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticSource returns a source seeded with seed, so runs are
// reproducible.
func NewSyntheticSource(seed uint64) *SyntheticSource {
	return &SyntheticSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SyntheticSource) Read(ctx context.Context) (vital.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	heartRate := s.intn(60, 100)
	spo2 := s.intn(95, 100)
	steps := s.intn(0, 50)
	hrv := round2(s.uniform(20, 80))
	stress := round2(s.uniform(0, 1))
	confidence := round2(s.uniform(0.7, 0.99))

	return vital.Sample{
		HeartRate:       &heartRate,
		HRVRMSSD:        &hrv,
		SpO2:            &spo2,
		StressLevel:     &stress,
		ModelVersion:    SyntheticModelVersion,
		ConfidenceScore: &confidence,
		StepsCount:      &steps,
	}, nil
}

// intn returns a value in [lo, hi].
func (s *SyntheticSource) intn(lo, hi int) int {
	return lo + s.rng.IntN(hi-lo+1)
}

func (s *SyntheticSource) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Package retention enforces per-tier retention horizons on the central
// store and keeps each user's retention record in step with their tier.
package retention

import (
	"time"

	"vitalsync/internal/vital"
)

// Retention horizons by tier, in days.
const (
	FreeRetentionDays    = 60
	PremiumRetentionDays = 365
)

const (
	// DefaultHotWindow is how long samples stay uncompressed.
	DefaultHotWindow = 7 * 24 * time.Hour
	// DefaultSweepInterval is how often the scheduler runs a sweep.
	DefaultSweepInterval = 24 * time.Hour
)

// RetentionDays returns the retention horizon in days implied by tier.
// Unknown tiers get the free horizon.
func RetentionDays(tier vital.Tier) int {
	if tier == vital.TierPremium {
		return PremiumRetentionDays
	}
	return FreeRetentionDays
}

// Horizon returns the retention horizon implied by tier.
func Horizon(tier vital.Tier) time.Duration {
	return time.Duration(RetentionDays(tier)) * 24 * time.Hour
}

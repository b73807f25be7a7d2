package retention

import (
	"context"
	"fmt"

	"vitalsync/internal/vital"
)

// Propagator keeps user_retention consistent with users.tier. The store
// calls it inside every transaction that writes a tier, so the two can
// never be observed out of step. It never deletes sample data; expired
// rows go at the next sweep.
type Propagator struct {
	clock  vital.Clock
	logger vital.Logger
}

func NewPropagator(clock vital.Clock, logger vital.Logger) *Propagator {
	return &Propagator{clock: clock, logger: logger}
}

func (p *Propagator) OnTierWrite(ctx context.Context, w vital.RetentionWriter, userID int64, tier vital.Tier) error {
	days := RetentionDays(tier)
	if err := w.UpsertRetention(ctx, userID, days, p.clock.Now()); err != nil {
		return fmt.Errorf("propagating tier %s of user %d: %w", tier, userID, err)
	}
	p.logger.Debug("retention record written", "user_id", userID, "tier", tier, "retention_days", days)
	return nil
}

var _ vital.TierHook = (*Propagator)(nil)

package scheduler

import (
	"context"

	"github.com/railzwaylabs/pricing/internal/pricingcontext"
	"go.uber.org/zap"
)

// SweepWindows invalidates cached resolutions of variants whose price
// records started or ended since the previous sweep. The first sweep looks
// back scheduler.window_sweep_lookback. A failed sweep is retried over the
// same range on the next run.
func (s *Scheduler) SweepWindows(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now(ctx)
	from := s.lastSweep
	if from.IsZero() {
		from = now.Add(-s.cfg.WindowSweepLookback)
	}
	if !now.After(from) {
		return nil
	}

	boundaries, err := s.repo.ListWindowBoundaries(ctx, s.db, from, now)
	if err != nil {
		s.metrics.WindowSweeps.WithLabelValues("error").Inc()
		return err
	}

	if len(boundaries) > 0 {
		seen := make(map[string]struct{}, len(boundaries))
		tags := make([]string, 0, len(boundaries))
		for _, b := range boundaries {
			tag := pricingcontext.VariantTag(b.VariantID)
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
		if err := s.invalidator.Invalidate(ctx, tags...); err != nil {
			s.metrics.WindowSweeps.WithLabelValues("error").Inc()
			return err
		}
		s.log.Info("price windows swept",
			zap.Time("from", from),
			zap.Time("to", now),
			zap.Int("variants", len(tags)),
		)
	}

	s.lastSweep = now
	s.metrics.WindowSweeps.WithLabelValues("ok").Inc()
	return nil
}

package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"linkdigest/internal/clock"
	"linkdigest/internal/queue"
	"linkdigest/internal/quota"
	"linkdigest/internal/retry"
)

// Housekeeping evicts items that have sat in the queue beyond the maximum
// age, whatever their retry state. Runs on the hourly cadence.
type Housekeeping struct {
	Queue   *queue.DelayQueue
	Retries *retry.Ledger
	Clock   clock.Clock
	MaxAge  time.Duration
}

// Sweep returns how many stale items it purged.
func (h Housekeeping) Sweep(ctx context.Context) (int, error) {
	now := h.Clock.Now()
	stale, err := h.Queue.StaleBefore(ctx, now.Add(-h.MaxAge))
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if _, err := h.Queue.PurgeOlderThan(ctx, h.MaxAge, now); err != nil {
		return 0, err
	}
	// Counters of purged items would otherwise leak in the retry hash.
	for _, id := range stale {
		if err := h.Retries.Clear(ctx, id); err != nil {
			return 0, err
		}
	}
	log.Ctx(ctx).Info().Int("purged", len(stale)).Msg("housekeeping sweep complete")
	return len(stale), nil
}

// DailyReset zeroes the quota ledger's daily counter. Runs on the daily
// cadence.
type DailyReset struct {
	Quota *quota.Ledger
}

func (d DailyReset) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Msg("resetting daily quota counters")
	return d.Quota.ResetDaily(ctx)
}

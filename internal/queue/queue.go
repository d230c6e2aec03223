// Package queue is the durable delay queue: a sorted set of pending item ids
// scored by the unix-milli timestamp at which the next attempt is due.
package queue

import (
	"context"
	"math"
	"time"

	"linkdigest/internal/ports"
)

const DefaultKey = "digest:queue"

type DelayQueue struct {
	store ports.Store
	key   string
}

func New(store ports.Store, key string) *DelayQueue {
	if key == "" {
		key = DefaultKey
	}
	return &DelayQueue{store: store, key: key}
}

// Enqueue schedules an attempt for itemID at readyAt. Re-enqueueing an id
// already present overwrites its schedule.
func (q *DelayQueue) Enqueue(ctx context.Context, itemID string, readyAt time.Time) error {
	return q.store.SortedAdd(ctx, q.key, itemID, float64(readyAt.UnixMilli()))
}

// PullReady returns up to max item ids due at or before now, oldest first.
// Entries are not removed: removal happens only on terminal handling, so a
// crash mid-batch leaves the remainder scheduled (at-least-once).
func (q *DelayQueue) PullReady(ctx context.Context, now time.Time, max int) ([]string, error) {
	return q.store.SortedRangeByScore(ctx, q.key, math.Inf(-1), float64(now.UnixMilli()), int64(max))
}

// Remove deletes the entry on terminal success or eviction.
func (q *DelayQueue) Remove(ctx context.Context, itemID string) error {
	return q.store.SortedRemove(ctx, q.key, itemID)
}

// ScheduledAt returns when the item's next attempt is due, if it is queued.
func (q *DelayQueue) ScheduledAt(ctx context.Context, itemID string) (time.Time, bool, error) {
	sc, ok, err := q.store.SortedScore(ctx, q.key, itemID)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(sc)), true, nil
}

// StaleBefore lists ids whose schedule predates cutoff, without removing
// them. Housekeeping uses this to clear retry counters alongside the purge.
func (q *DelayQueue) StaleBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	return q.store.SortedRangeByScore(ctx, q.key, math.Inf(-1), float64(cutoff.UnixMilli()), 0)
}

// PurgeOlderThan bulk-removes entries scheduled before now-maxAge, ready or
// not. Safety valve against unbounded growth.
func (q *DelayQueue) PurgeOlderThan(ctx context.Context, maxAge time.Duration, now time.Time) (int64, error) {
	cutoff := float64(now.Add(-maxAge).UnixMilli())
	return q.store.SortedRemoveRangeByScore(ctx, q.key, math.Inf(-1), cutoff)
}

package usecase

import (
	"context"

	"linkdigest/internal/clock"
	"linkdigest/internal/queue"
)

// Enqueuer handles the external "new item submitted" event.
type Enqueuer struct {
	Queue *queue.DelayQueue
	Clock clock.Clock
}

// Submit schedules the item for the next pipeline cycle. Resubmitting an id
// already queued just moves its schedule to now.
func (e Enqueuer) Submit(ctx context.Context, itemID string) error {
	return e.Queue.Enqueue(ctx, itemID, e.Clock.Now())
}

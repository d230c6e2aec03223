package ports

import (
	"context"

	"linkdigest/internal/domain"
)

// Origin is the system work items come from and results go back to.
type Origin interface {
	// ItemByID resolves item metadata. A vanished item surfaces as a
	// not-found tagged failure.
	ItemByID(ctx context.Context, id string) (*domain.ItemMeta, error)
	// PublishResult posts the summary back and returns the created result id.
	PublishResult(ctx context.Context, itemID, text string) (string, error)
	// PinResult optionally distinguishes the published result.
	PinResult(ctx context.Context, resultID string) error
}

// Fetcher retrieves the content behind an item's URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*domain.Content, error)
}

// Summarizer produces a summary through the rate-limited AI API. Failures
// must carry a domain.Failure tag so the pipeline can tell a broken
// credential from a wobbly backend.
type Summarizer interface {
	Summarize(ctx context.Context, req domain.SummaryRequest) (string, error)
}

// Settings is the runtime-mutable configuration the pipeline consults each
// cycle: automatic-mode flag, credentials, quota limit overrides.
type Settings interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

package ports

import (
	"context"
	"time"
)

// Store is the durable key-value substrate everything persistent sits on:
// the delay queue, the retry ledger, the quota ledger, the pause flag and
// the settings. The Redis implementation is authoritative; an in-memory
// implementation exists for tests and local runs.
type Store interface {
	// GetString returns the value and whether the key exists.
	GetString(ctx context.Context, key string) (string, bool, error)
	// SetString writes the value; ttl == 0 means no expiry.
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	HashGet(ctx context.Context, key, field string) (string, bool, error)
	HashSet(ctx context.Context, key string, fields map[string]string) error
	HashDelete(ctx context.Context, key string, fields ...string) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// SortedAdd upserts member with score (last write wins on score).
	SortedAdd(ctx context.Context, key, member string, score float64) error
	// SortedScore returns member's score and whether it is present.
	SortedScore(ctx context.Context, key, member string) (float64, bool, error)
	// SortedRangeByScore returns up to count members with min <= score <= max,
	// ascending by score. count <= 0 means no bound.
	SortedRangeByScore(ctx context.Context, key string, min, max float64, count int64) ([]string, error)
	SortedRemove(ctx context.Context, key string, members ...string) error
	// SortedRemoveRangeByScore removes members in the score range and returns
	// how many were removed.
	SortedRemoveRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
}

// Package retry tracks per-item attempt counts in a single hash.
package retry

import (
	"context"
	"strconv"

	"linkdigest/internal/ports"
)

const DefaultKey = "digest:retries"

type Ledger struct {
	store ports.Store
	key   string
}

func New(store ports.Store, key string) *Ledger {
	if key == "" {
		key = DefaultKey
	}
	return &Ledger{store: store, key: key}
}

// Attempts returns the recorded failure count for itemID, zero if none.
func (l *Ledger) Attempts(ctx context.Context, itemID string) (int, error) {
	v, ok, err := l.store.HashGet(ctx, l.key, itemID)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		// Corrupt counter: treat as zero rather than poisoning the item.
		return 0, nil
	}
	return n, nil
}

// Record increments the counter and returns the new count.
func (l *Ledger) Record(ctx context.Context, itemID string) (int, error) {
	n, err := l.Attempts(ctx, itemID)
	if err != nil {
		return 0, err
	}
	n++
	if err := l.store.HashSet(ctx, l.key, map[string]string{itemID: strconv.Itoa(n)}); err != nil {
		return 0, err
	}
	return n, nil
}

// Clear removes the counter on terminal success or eviction.
func (l *Ledger) Clear(ctx context.Context, itemID string) error {
	return l.store.HashDelete(ctx, l.key, itemID)
}

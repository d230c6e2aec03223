// Package settings exposes runtime-mutable configuration backed by the
// durable store, so values survive process recycles and can be changed
// through the API without a redeploy.
package settings

import (
	"context"

	"linkdigest/internal/ports"
)

var _ ports.Settings = (*Provider)(nil)

type Provider struct {
	store ports.Store
}

func New(store ports.Store) *Provider {
	return &Provider{store: store}
}

func (p *Provider) Get(ctx context.Context, key string) (string, bool, error) {
	return p.store.GetString(ctx, key)
}

func (p *Provider) Set(ctx context.Context, key, value string) error {
	return p.store.SetString(ctx, key, value, 0)
}

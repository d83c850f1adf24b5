package cacheinfra

import (
	"context"

	"github.com/goliatone/go-cache-connector/cache"
)

// Factory builds a provider from the settings section matching its kind.
type Factory func(ctx context.Context, settings cache.Settings, opts ...Option) (cache.Provider, error)

var factories = map[cache.ProviderKind]Factory{
	cache.ProviderMemory: func(_ context.Context, s cache.Settings, opts ...Option) (cache.Provider, error) {
		if s.Memory.MaxBytes <= 0 {
			return nil, &cache.ConfigError{Field: "Memory.MaxBytes", Message: "must be greater than 0"}
		}
		return NewMemory(s.Memory, opts...), nil
	},
	cache.ProviderSharded: func(_ context.Context, s cache.Settings, opts ...Option) (cache.Provider, error) {
		return NewSharded(s.Sharded, opts...)
	},
	cache.ProviderDocument: func(ctx context.Context, s cache.Settings, opts ...Option) (cache.Provider, error) {
		return OpenDocument(ctx, s.Document, opts...)
	},
	cache.ProviderRemote: func(ctx context.Context, s cache.Settings, opts ...Option) (cache.Provider, error) {
		return DialRemote(ctx, s.Remote, opts...)
	},
	cache.ProviderNoop: func(context.Context, cache.Settings, ...Option) (cache.Provider, error) {
		return NewNoop(), nil
	},
}

// NewProvider constructs the provider registered for kind.
// An unknown kind is a configuration error.
func NewProvider(ctx context.Context, kind cache.ProviderKind, settings cache.Settings, opts ...Option) (cache.Provider, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, &cache.ConfigError{Field: "Provider", Message: "unknown provider " + kind.String()}
	}
	return factory(ctx, settings, opts...)
}

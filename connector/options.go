package connector

import (
	"context"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/goliatone/go-cache-connector/internal/cacheinfra"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ProviderFactory constructs the provider for kind. It is called at most once
// per kind unless it fails.
type ProviderFactory func(ctx context.Context, kind cache.ProviderKind, settings cache.Settings) (cache.Provider, error)

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the logger. Providers built by the default factory share it.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCodec replaces the msgpack codec.
func WithCodec(codec cache.Codec) Option {
	return func(c *Connector) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithRegisterer registers the connector metrics on reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Connector) {
		if reg != nil {
			c.registerer = reg
		}
	}
}

// WithProviderFactory replaces the factory used for lazy construction.
func WithProviderFactory(factory ProviderFactory) Option {
	return func(c *Connector) {
		if factory != nil {
			c.factory = factory
		}
	}
}

// WithProviderInstance installs an already built provider for its kind.
// The connector takes ownership and closes it on Close.
func WithProviderInstance(p cache.Provider) Option {
	return func(c *Connector) {
		if p == nil {
			return
		}
		slot := &lazyProvider{provider: p}
		slot.ready.Store(true)
		c.providers.Store(p.Kind(), slot)
	}
}

func defaultFactory(logger *zap.Logger) ProviderFactory {
	return func(ctx context.Context, kind cache.ProviderKind, settings cache.Settings) (cache.Provider, error) {
		return cacheinfra.NewProvider(ctx, kind, settings, cacheinfra.WithLogger(logger))
	}
}

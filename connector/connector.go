package connector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Connector is the single entry point for cache operations.
//
// Providers are created lazily, one per kind, the first time a call resolves to
// that kind. A failed construction is not remembered; the next call tries again.
type Connector struct {
	settings   cache.Settings
	codec      cache.Codec
	logger     *zap.Logger
	registerer prometheus.Registerer
	registry   *prometheus.Registry
	metrics    *metrics
	factory    ProviderFactory
	providers  *xsync.MapOf[cache.ProviderKind, *lazyProvider]
	closed     atomic.Bool
}

type lazyProvider struct {
	mu       sync.Mutex
	ready    atomic.Bool
	provider cache.Provider
}

// New validates settings and returns a connector. No provider is built yet.
func New(settings cache.Settings, opts ...Option) (*Connector, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	c := &Connector{
		settings:  settings,
		codec:     cache.MsgpackCodec{},
		logger:    zap.NewNop(),
		providers: xsync.NewMapOf[cache.ProviderKind, *lazyProvider](),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.factory == nil {
		c.factory = defaultFactory(c.logger)
	}
	if c.registerer == nil {
		c.registry = prometheus.NewRegistry()
		c.registerer = c.registry
	}

	m, err := newMetrics(c.registerer)
	if err != nil {
		return nil, &cache.ConfigError{Field: "Registerer", Message: err.Error()}
	}
	c.metrics = m

	return c, nil
}

// Settings returns the global settings the connector was built with.
func (c *Connector) Settings() cache.Settings {
	return c.settings
}

// Enabled reports the global switch.
func (c *Connector) Enabled() bool {
	return c.settings.Enabled
}

// Codec returns the value codec.
func (c *Connector) Codec() cache.Codec {
	return c.codec
}

// Logger returns the connector logger.
func (c *Connector) Logger() *zap.Logger {
	return c.logger
}

// Gatherer exposes the private metrics registry. It is nil when WithRegisterer was used.
func (c *Connector) Gatherer() prometheus.Gatherer {
	if c.registry == nil {
		return nil
	}
	return c.registry
}

// Get decodes the value stored under key into T.
//
// A miss returns the zero value and false. An entry that fails to decode is
// deleted and reported as a miss.
func Get[T any](ctx context.Context, c *Connector, key string, opts ...cache.CallOption) (T, bool, error) {
	var zero T

	call := cache.ApplyCallOptions(opts...)
	data, ok, err := c.GetBytes(ctx, key, opts...)
	if err != nil || !ok {
		return zero, false, err
	}

	var value T
	if err := c.codec.Unmarshal(data, &value); err != nil {
		kind := c.resolveKind(call)
		c.metrics.operations.WithLabelValues(kind.String(), opGet, resultCorrupt).Inc()
		c.warn("cache entry could not be decoded", key, kind, opGet, err)
		if delErr := c.Delete(ctx, key, opts...); delErr != nil {
			c.warn("cache corrupt entry delete failed", key, kind, opDelete, delErr)
		}
		return zero, false, nil
	}
	return value, true, nil
}

// Set encodes value and stores it under key.
//
// The TTL comes from WithTTL, falling back to the default TTL. Tags come from WithTags.
func Set[T any](ctx context.Context, c *Connector, key string, value T, opts ...cache.CallOption) error {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return err
	}
	return c.SetBytes(ctx, key, data, opts...)
}

// GetBytes returns the raw payload stored under key.
func (c *Connector) GetBytes(ctx context.Context, key string, opts ...cache.CallOption) ([]byte, bool, error) {
	call := cache.ApplyCallOptions(opts...)
	kind := c.resolveKind(call)
	started := time.Now()

	p, err := c.provider(ctx, kind)
	if err != nil {
		c.metrics.observe(kind, opGet, resultError, started)
		return nil, false, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, ok, err := p.Get(ctx, key)
	if err != nil {
		err = c.classify(ctx, kind, opGet, key, err)
		c.metrics.observe(kind, opGet, resultError, started)
		c.warn("cache get failed", key, kind, opGet, err)
		return nil, false, err
	}

	if !ok {
		c.metrics.observe(kind, opGet, resultMiss, started)
		return nil, false, nil
	}
	c.metrics.observe(kind, opGet, resultHit, started)
	return data, true, nil
}

// SetBytes stores a raw payload under key.
func (c *Connector) SetBytes(ctx context.Context, key string, data []byte, opts ...cache.CallOption) error {
	call := cache.ApplyCallOptions(opts...)
	kind := c.resolveKind(call)
	started := time.Now()

	ttl := call.TTL
	if ttl <= 0 {
		ttl = c.settings.DefaultTTL
	}

	err := c.run(ctx, kind, opSet, key, func(ctx context.Context, p cache.Provider) error {
		return p.Set(ctx, key, data, ttl, call.Tags)
	})
	c.record(kind, opSet, key, started, err)
	return err
}

// Delete removes key from the resolved provider.
func (c *Connector) Delete(ctx context.Context, key string, opts ...cache.CallOption) error {
	call := cache.ApplyCallOptions(opts...)
	kind := c.resolveKind(call)
	started := time.Now()

	err := c.run(ctx, kind, opDelete, key, func(ctx context.Context, p cache.Provider) error {
		return p.Delete(ctx, key)
	})
	c.record(kind, opDelete, key, started, err)
	return err
}

// InvalidateByTags removes every entry of the resolved provider carrying one of tags.
func (c *Connector) InvalidateByTags(ctx context.Context, tags []string, opts ...cache.CallOption) error {
	call := cache.ApplyCallOptions(opts...)
	kind := c.resolveKind(call)
	started := time.Now()

	tags = cache.DedupeTags(tags)
	if len(tags) == 0 {
		return nil
	}

	err := c.run(ctx, kind, opInvalidate, "", func(ctx context.Context, p cache.Provider) error {
		return p.InvalidateByTags(ctx, tags)
	})
	c.record(kind, opInvalidate, "", started, err)
	return err
}

// Provider returns the provider for kind, constructing it if needed.
// The global switch is honored: a disabled connector always returns the no-op provider.
func (c *Connector) Provider(ctx context.Context, kind cache.ProviderKind) (cache.Provider, error) {
	return c.provider(ctx, c.resolveKind(cache.CallOptions{Provider: kind}))
}

// Close closes every constructed provider. Further calls fail with ErrClosed.
func (c *Connector) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	c.providers.Range(func(kind cache.ProviderKind, slot *lazyProvider) bool {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		if slot.provider != nil {
			if err := slot.provider.Close(); err != nil {
				errs = append(errs, cache.Unavailable(kind, "close", "", err))
			}
		}
		return true
	})
	return errors.Join(errs...)
}

func (c *Connector) resolveKind(call cache.CallOptions) cache.ProviderKind {
	if !c.settings.Enabled {
		return cache.ProviderNoop
	}
	if call.Provider != "" {
		return call.Provider
	}
	return c.settings.DefaultProvider
}

func (c *Connector) provider(ctx context.Context, kind cache.ProviderKind) (cache.Provider, error) {
	if c.closed.Load() {
		return nil, cache.Unavailable(kind, "resolve", "", cache.ErrClosed)
	}
	if !kind.Valid() {
		return nil, &cache.ConfigError{Field: "Provider", Message: "unknown provider " + kind.String()}
	}

	slot, _ := c.providers.LoadOrCompute(kind, func() *lazyProvider {
		return &lazyProvider{}
	})
	if slot.ready.Load() {
		return slot.provider, nil
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.ready.Load() {
		return slot.provider, nil
	}
	if c.closed.Load() {
		return nil, cache.Unavailable(kind, "resolve", "", cache.ErrClosed)
	}

	p, err := c.factory(ctx, kind, c.settings)
	if err != nil {
		c.warn("cache provider construction failed", "", kind, "construct", err)
		if errors.Is(err, cache.ErrConfiguration) {
			return nil, err
		}
		return nil, cache.Unavailable(kind, "construct", "", err)
	}

	slot.provider = p
	slot.ready.Store(true)
	c.logger.Debug("cache provider constructed", zap.String("provider", kind.String()))
	return p, nil
}

func (c *Connector) run(ctx context.Context, kind cache.ProviderKind, op, key string, fn func(context.Context, cache.Provider) error) error {
	p, err := c.provider(ctx, kind)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := fn(ctx, p); err != nil {
		return c.classify(ctx, kind, op, key, err)
	}
	return nil
}

func (c *Connector) record(kind cache.ProviderKind, op, key string, started time.Time, err error) {
	if err != nil {
		c.metrics.observe(kind, op, resultError, started)
		c.warn("cache "+op+" failed", key, kind, op, err)
		return
	}
	c.metrics.observe(kind, op, resultOK, started)
}

func (c *Connector) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.settings.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.settings.OperationTimeout)
}

// classify maps context expiry to ErrProviderUnavailable and leaves other errors as they are.
func (c *Connector) classify(ctx context.Context, kind cache.ProviderKind, op, key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return cache.Unavailable(kind, op, key, err)
	}
	return err
}

func (c *Connector) warn(msg, key string, kind cache.ProviderKind, op string, err error) {
	fields := []zap.Field{
		zap.String("provider", kind.String()),
		zap.String("operation", op),
		zap.Error(err),
	}
	if key != "" {
		fields = append(fields, zap.String("key", key))
	}
	c.logger.Warn(msg, fields...)
}

package repositorycache

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goliatone/go-cache-connector/cache"
	"github.com/goliatone/go-cache-connector/connector"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	opFindByID = "findById"
	opQuery    = "query"

	invalidationAttempts = 3

	defaultFetchTimeout = 30 * time.Second
)

// CachedRepository decorates a Store with cache-aside reads and tag based
// invalidation on writes.
type CachedRepository[T any] struct {
	store         Store[T]
	conn          *connector.Connector
	cfg           cache.RepositoryConfig
	keySerializer cache.KeySerializer
	idFunc        func(T) (string, error)
	logger        *zap.Logger
	retryDelay    time.Duration
	fetchTimeout  time.Duration
	fetches       singleflight.Group
	// written holds every provider this repository has populated. Writes
	// invalidate all of them, not only the default provider.
	written *xsync.MapOf[cache.ProviderKind, struct{}]
}

// Option configures a CachedRepository.
type Option[T any] func(*CachedRepository[T])

// WithIDFunc sets how the id of a record is read. By default an exported ID,
// Id field is used.
func WithIDFunc[T any](fn func(T) string) Option[T] {
	return func(r *CachedRepository[T]) {
		if fn != nil {
			r.idFunc = func(record T) (string, error) {
				id := fn(record)
				if id == "" {
					return "", fmt.Errorf("empty id")
				}
				return id, nil
			}
		}
	}
}

// WithKeySerializer replaces the serializer used to fingerprint query filters.
func WithKeySerializer[T any](serializer cache.KeySerializer) Option[T] {
	return func(r *CachedRepository[T]) {
		if serializer != nil {
			r.keySerializer = serializer
		}
	}
}

// WithLogger overrides the connector logger.
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(r *CachedRepository[T]) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRetryDelay sets the base delay between invalidation attempts.
func WithRetryDelay[T any](delay time.Duration) Option[T] {
	return func(r *CachedRepository[T]) {
		r.retryDelay = delay
	}
}

// WithFetchTimeout bounds a coalesced store read. The read outlives the
// caller that started it, so it needs its own deadline.
func WithFetchTimeout[T any](timeout time.Duration) Option[T] {
	return func(r *CachedRepository[T]) {
		if timeout > 0 {
			r.fetchTimeout = timeout
		}
	}
}

// New wraps store. cfg is validated here so a bad configuration fails at
// startup instead of on the first read. An empty KeyPrefix defaults to the
// snake cased type name of T.
func New[T any](store Store[T], conn *connector.Connector, cfg cache.RepositoryConfig, opts ...Option[T]) (*CachedRepository[T], error) {
	if store == nil {
		return nil, &cache.ConfigError{Field: "Store", Message: "is required"}
	}
	if conn == nil {
		return nil, &cache.ConfigError{Field: "Connector", Message: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = entityName[T]()
	}
	cfg.Tags = cache.DedupeTags(cfg.Tags)

	r := &CachedRepository[T]{
		store:         store,
		conn:          conn,
		cfg:           cfg,
		keySerializer: cache.NewDefaultKeySerializer(),
		idFunc:        extractID[T],
		logger:        conn.Logger(),
		retryDelay:    50 * time.Millisecond,
		fetchTimeout:  defaultFetchTimeout,
		written:       xsync.NewMapOf[cache.ProviderKind, struct{}](),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Config returns the repository cache configuration after defaults were applied.
func (r *CachedRepository[T]) Config() cache.RepositoryConfig {
	return r.cfg
}

// FindByID reads straight from the store.
func (r *CachedRepository[T]) FindByID(ctx context.Context, id string) (T, bool, error) {
	return r.fetch(ctx, id)
}

// FindByIDCached returns the record with id, serving it from the cache when
// possible. The boolean is false when the store has no such record.
//
// Cache failures never surface here: an unreachable provider degrades to a
// store read. Absent records are not cached. Concurrent misses share one store
// read; a caller that gives up returns its own ctx.Err() without failing the
// others.
func (r *CachedRepository[T]) FindByIDCached(ctx context.Context, id string, opts ...cache.CallOption) (T, bool, error) {
	var zero T

	eff := cache.Resolve(r.conn.Settings(), r.cfg, callOptions(ctx, opts))
	if !eff.Enabled {
		return r.fetch(ctx, id)
	}

	key, err := cache.BuildKey(r.conn.Settings().Namespace, r.cfg.KeyPrefix, opFindByID, id)
	if err != nil {
		return zero, false, err
	}

	if !eff.ForceRefresh {
		record, ok, err := connector.Get[T](ctx, r.conn, key, cache.WithProvider(eff.Provider))
		if err == nil && ok {
			return record, true, nil
		}
	}

	res, err := r.shared(ctx, key, func(ctx context.Context) (any, error) {
		record, found, err := r.fetch(ctx, id)
		if err != nil || !found {
			return lookup[T]{found: found}, err
		}

		tags, err := cache.BuildTags(r.cfg.KeyPrefix, id, eff.Tags...)
		if err != nil {
			r.logger.Warn("cache tags rejected",
				zap.String("key", key),
				zap.Error(err),
			)
			return lookup[T]{record: record, found: true}, nil
		}
		r.populate(ctx, key, record, eff, tags)
		return lookup[T]{record: record, found: true}, nil
	})
	if err != nil {
		return zero, false, err
	}

	l := res.(lookup[T])
	return l.record, l.found, nil
}

// Query reads straight from the store.
func (r *CachedRepository[T]) Query(ctx context.Context, filters Filters) ([]T, error) {
	return r.store.Query(ctx, filters)
}

// QueryCached caches the result list of filters. Entries carry the collection
// tag and the query tag, so any write to the collection drops them.
func (r *CachedRepository[T]) QueryCached(ctx context.Context, filters Filters, opts ...cache.CallOption) ([]T, error) {
	eff := cache.Resolve(r.conn.Settings(), r.cfg, callOptions(ctx, opts))
	if !eff.Enabled {
		return r.store.Query(ctx, filters)
	}

	fingerprint := cache.Fingerprint(r.keySerializer.SerializeKey(opQuery, map[string]any(filters)))
	key, err := cache.BuildKey(r.conn.Settings().Namespace, r.cfg.KeyPrefix, opQuery, fingerprint)
	if err != nil {
		return nil, err
	}

	if !eff.ForceRefresh {
		records, ok, err := connector.Get[[]T](ctx, r.conn, key, cache.WithProvider(eff.Provider))
		if err == nil && ok {
			return records, nil
		}
	}

	res, err := r.shared(ctx, key, func(ctx context.Context) (any, error) {
		records, err := r.store.Query(ctx, filters)
		if err != nil {
			return nil, err
		}

		tags := make([]string, 0, len(eff.Tags)+2)
		tags = append(tags, cache.CollectionTag(r.cfg.KeyPrefix), cache.QueryTag(r.cfg.KeyPrefix))
		tags = append(tags, eff.Tags...)
		r.populate(ctx, key, records, eff, cache.DedupeTags(tags))
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]T), nil
}

// Create stores record and drops cached query results. With PopulateOnCreate
// the created record is also cached under its read key.
func (r *CachedRepository[T]) Create(ctx context.Context, record T) (T, error) {
	created, err := r.store.Create(ctx, record)
	if err != nil {
		return created, err
	}

	eff := cache.Resolve(r.conn.Settings(), r.cfg, callOptions(ctx, nil))
	if !eff.Enabled {
		return created, nil
	}

	r.invalidate(ctx, []string{cache.QueryTag(r.cfg.KeyPrefix)})

	if r.cfg.PopulateOnCreate {
		r.populateCreated(ctx, created, eff)
	}
	return created, nil
}

// Update writes record and, once the store has committed, invalidates the
// tags selected by the repository invalidation scope. A failed update leaves
// the cache untouched.
func (r *CachedRepository[T]) Update(ctx context.Context, record T) (T, error) {
	updated, err := r.store.Update(ctx, record)
	if err != nil {
		return updated, err
	}

	r.invalidate(ctx, r.recordTags(updated, record))
	return updated, nil
}

// Delete removes the record with id and invalidates like Update.
func (r *CachedRepository[T]) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, r.writeTags(id))
	return nil
}

// recordTags returns the write tags for the record, reading its id from stored
// or, failing that, from sent. An unknown id falls back to the collection tag.
func (r *CachedRepository[T]) recordTags(stored, sent T) []string {
	id, err := r.idFunc(stored)
	if err != nil {
		id, err = r.idFunc(sent)
	}
	if err != nil {
		r.logger.Warn("record id unknown, invalidating the collection",
			zap.String("entity", r.cfg.KeyPrefix),
			zap.Error(err),
		)
		return []string{cache.CollectionTag(r.cfg.KeyPrefix)}
	}
	return r.writeTags(id)
}

func (r *CachedRepository[T]) writeTags(id string) []string {
	entity := cache.EntityTag(r.cfg.KeyPrefix, id)
	switch r.cfg.Invalidation {
	case cache.InvalidateEntityAndQueries:
		return []string{entity, cache.QueryTag(r.cfg.KeyPrefix)}
	default:
		return []string{entity, cache.CollectionTag(r.cfg.KeyPrefix)}
	}
}

// invalidate drops tags from the repository provider and from every provider
// this repository has populated through call options. It outlives the caller's
// cancellation and gives up after a few attempts; failures are logged only.
func (r *CachedRepository[T]) invalidate(ctx context.Context, tags []string) {
	eff := cache.Resolve(r.conn.Settings(), r.cfg, cache.CallOptions{})
	if !eff.Enabled || len(tags) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, kind := range r.providerKinds(eff.Provider) {
		err := retry.Do(
			func() error {
				return r.conn.InvalidateByTags(ctx, tags, cache.WithProvider(kind))
			},
			retry.Attempts(invalidationAttempts),
			retry.Delay(r.retryDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return errors.Is(err, cache.ErrProviderUnavailable)
			}),
		)
		if err != nil {
			r.logger.Warn("cache invalidation failed",
				zap.String("entity", r.cfg.KeyPrefix),
				zap.String("provider", kind.String()),
				zap.String("operation", "invalidate"),
				zap.Strings("tags", tags),
				zap.Error(err),
			)
		}
	}
}

// providerKinds returns def followed by every other provider in written.
func (r *CachedRepository[T]) providerKinds(def cache.ProviderKind) []cache.ProviderKind {
	kinds := []cache.ProviderKind{def}
	r.written.Range(func(kind cache.ProviderKind, _ struct{}) bool {
		if kind != def {
			kinds = append(kinds, kind)
		}
		return true
	})
	return kinds
}

// shared runs fn once per key among concurrent callers. fn gets a context
// detached from any single caller and bounded by the fetch timeout; each
// caller waits on its own ctx.
func (r *CachedRepository[T]) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := r.fetches.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		return fn(fetchCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *CachedRepository[T]) populate(ctx context.Context, key string, value any, eff cache.EffectiveConfig, tags []string) {
	// recorded before the write so a concurrent invalidation cannot miss it
	r.written.Store(eff.Provider, struct{}{})
	err := connector.Set(ctx, r.conn, key, value,
		cache.WithProvider(eff.Provider),
		cache.WithTTL(eff.TTL),
		cache.WithTags(tags...),
	)
	if err != nil {
		r.logger.Debug("cache populate skipped",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (r *CachedRepository[T]) populateCreated(ctx context.Context, created T, eff cache.EffectiveConfig) {
	id, err := r.idFunc(created)
	if err != nil {
		return
	}
	key, err := cache.BuildKey(r.conn.Settings().Namespace, r.cfg.KeyPrefix, opFindByID, id)
	if err != nil {
		return
	}
	tags, err := cache.BuildTags(r.cfg.KeyPrefix, id, eff.Tags...)
	if err != nil {
		return
	}
	r.populate(ctx, key, created, eff, tags)
}

func (r *CachedRepository[T]) fetch(ctx context.Context, id string) (T, bool, error) {
	record, err := r.store.Get(ctx, id)
	if err != nil {
		var zero T
		if errors.Is(err, ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, err
	}
	return record, true, nil
}

type lookup[T any] struct {
	record T
	found  bool
}

// extractID reads an ID field from a record using reflection.
func extractID[T any](record T) (string, error) {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", fmt.Errorf("nil record")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", fmt.Errorf("record of kind %s has no ID field", v.Kind())
	}

	for _, fieldName := range []string{"ID", "Id"} {
		field := v.FieldByName(fieldName)
		if field.IsValid() && field.CanInterface() {
			id := fmt.Sprintf("%v", field.Interface())
			if id == "" {
				return "", fmt.Errorf("empty %s field", fieldName)
			}
			return id, nil
		}
	}
	return "", fmt.Errorf("no ID field found in record")
}

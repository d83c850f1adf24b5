package cacheinfra

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/viccon/sturdyc"
	"go.uber.org/zap"
)

// shardedEntry is the value kept inside the sturdyc client.
type shardedEntry struct {
	value     []byte
	tags      []string
	expiresAt time.Time
}

// Sharded is an in-process provider backed by a sturdyc client.
//
// sturdyc shards entries and evicts a percentage of them when the capacity is
// reached, but it knows nothing about tags and has a single client wide TTL.
// Per entry TTLs are enforced on read, and the tag index is kept next to the
// client. Writers (Set, Delete, InvalidateByTags) are serialized by mu, so an
// invalidation sees every Set that returned before it. Readers go straight to
// the client.
//
// sturdyc evicts without telling us, so the index can list keys that are gone
// or that were set again with other tags. Invalidation only deletes an entry
// whose live tags match, and the index is pruned once it grows past twice the
// capacity.
type Sharded struct {
	client   *sturdyc.Client[shardedEntry]
	mu       sync.Mutex
	tags     *tagIndex
	capacity int
	opts     *options
}

// NewSharded validates cfg and builds a sturdyc client from it.
func NewSharded(cfg cache.ShardedSettings, opts ...Option) (*Sharded, error) {
	if cfg.Capacity <= 0 {
		return nil, &cache.ConfigError{Field: "Sharded.Capacity", Message: "must be greater than 0"}
	}
	if cfg.NumShards <= 0 {
		return nil, &cache.ConfigError{Field: "Sharded.NumShards", Message: "must be greater than 0"}
	}
	if cfg.EvictionPercentage < 1 || cfg.EvictionPercentage > 100 {
		return nil, &cache.ConfigError{Field: "Sharded.EvictionPercentage", Message: "must be between 1 and 100"}
	}
	if cfg.MaxTTL <= 0 {
		return nil, &cache.ConfigError{Field: "Sharded.MaxTTL", Message: "must be greater than 0"}
	}

	var sturdyOpts []sturdyc.Option
	if cfg.EvictionInterval > 0 {
		sturdyOpts = append(sturdyOpts, sturdyc.WithEvictionInterval(cfg.EvictionInterval))
	}

	client := sturdyc.New[shardedEntry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.MaxTTL,
		cfg.EvictionPercentage,
		sturdyOpts...,
	)

	return &Sharded{
		client:   client,
		tags:     newTagIndex(),
		capacity: cfg.Capacity,
		opts:     applyOptions(opts),
	}, nil
}

func (s *Sharded) Kind() cache.ProviderKind {
	return cache.ProviderSharded
}

func (s *Sharded) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.client.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !s.opts.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *Sharded) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	entry, err := cache.NewEntry(key, value, ttl, tags, s.opts.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.client.Get(key); ok {
		s.tags.remove(key, old.tags)
	}
	s.client.Set(key, shardedEntry{value: entry.Value, tags: entry.Tags, expiresAt: entry.ExpiresAt})
	s.tags.add(key, entry.Tags)

	if s.tags.size() > 2*s.capacity {
		dropped := s.tags.prune(func(k string) bool {
			_, live := s.client.Get(k)
			return live
		})
		s.opts.logger.Debug("sharded cache index pruned", zap.Int("dropped", dropped))
	}

	return nil
}

func (s *Sharded) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.client.Get(key); ok {
		s.tags.remove(key, old.tags)
	}
	s.client.Delete(key)
	return nil
}

func (s *Sharded) InvalidateByTags(_ context.Context, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.tags.take(tags) {
		old, ok := s.client.Get(key)
		if !ok {
			continue
		}
		// An evicted key can be set again under different tags while the
		// index still lists it under the old ones.
		if !(cache.Entry{Tags: old.tags}).HasAnyTag(tags) {
			continue
		}
		s.tags.remove(key, old.tags)
		s.client.Delete(key)
	}
	return nil
}

// Close is a no-op; the sturdyc client has no resources to release.
func (s *Sharded) Close() error {
	return nil
}

// Size returns the number of entries held by the client.
func (s *Sharded) Size() int {
	return s.client.Size()
}

var _ cache.Provider = (*Sharded)(nil)

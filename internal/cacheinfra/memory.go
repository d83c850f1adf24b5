package cacheinfra

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-cache-connector/cache"
	"go.uber.org/zap"
)

// Memory is an in-process provider bounded by bytes.
//
// Entries live in a map for lookups and a doubly linked list for LRU order;
// the most recently used entry is at the front. When the byte bound is exceeded
// the back of the list is evicted. A janitor goroutine sweeps expired entries.
// The entry map, the LRU list and the tag index are guarded by one mutex, so a
// reader never observes an entry without its tag registrations.
type Memory struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	lru      *list.List
	tags     *tagIndex
	bytes    int64
	maxBytes int64
	interval time.Duration
	opts     *options
	done     chan struct{}
	closed   bool
}

// NewMemory creates an in-memory provider and starts its janitor when
// cfg.CleanupInterval is positive.
func NewMemory(cfg cache.MemorySettings, opts ...Option) *Memory {
	m := &Memory{
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		tags:     newTagIndex(),
		maxBytes: cfg.MaxBytes,
		interval: cfg.CleanupInterval,
		opts:     applyOptions(opts),
		done:     make(chan struct{}),
	}

	if m.interval > 0 {
		go m.janitor()
	}

	return m
}

func (m *Memory) Kind() cache.ProviderKind {
	return cache.ProviderMemory
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, cache.Unavailable(cache.ProviderMemory, "get", key, cache.ErrClosed)
	}

	elem, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}

	e := elem.Value.(*cache.Entry)
	if e.Expired(m.opts.now()) {
		m.removeElement(elem)
		return nil, false, nil
	}

	m.lru.MoveToFront(elem)
	return append([]byte(nil), e.Value...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	entry, err := cache.NewEntry(key, value, ttl, tags, m.opts.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return cache.Unavailable(cache.ProviderMemory, "set", key, cache.ErrClosed)
	}

	// A rejected overwrite still drops the previous value.
	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
	if entry.Size() > m.maxBytes {
		return cache.ErrEntryTooLarge
	}

	m.items[key] = m.lru.PushFront(&entry)
	m.tags.add(key, entry.Tags)
	m.bytes += entry.Size()

	for m.bytes > m.maxBytes {
		back := m.lru.Back()
		if back == nil || back.Value.(*cache.Entry).Key == key {
			break
		}
		m.removeElement(back)
	}

	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
	return nil
}

func (m *Memory) InvalidateByTags(_ context.Context, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range m.tags.take(tags) {
		if elem, ok := m.items[key]; ok {
			m.removeElement(elem)
		}
	}
	return nil
}

// Close stops the janitor. Close is idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Bytes returns the accounted size of all stored entries.
func (m *Memory) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if n := m.DeleteExpired(); n > 0 {
				m.opts.logger.Debug("memory cache sweep", zap.Int("removed", n))
			}
		}
	}
}

// DeleteExpired removes every expired entry and returns how many were removed.
func (m *Memory) DeleteExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.now()
	removed := 0
	for elem := m.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*cache.Entry).Expired(now) {
			m.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// removeElement drops an entry with its index registrations.
// Caller must hold the mutex.
func (m *Memory) removeElement(elem *list.Element) {
	e := m.lru.Remove(elem).(*cache.Entry)
	delete(m.items, e.Key)
	m.tags.remove(e.Key, e.Tags)
	m.bytes -= e.Size()
}

var _ cache.Provider = (*Memory)(nil)

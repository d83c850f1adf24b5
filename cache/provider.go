package cache

import (
	"context"
	"time"
)

// ProviderKind names a cache backend.
type ProviderKind string

const (
	ProviderMemory   ProviderKind = "memory"
	ProviderSharded  ProviderKind = "sharded"
	ProviderDocument ProviderKind = "document"
	ProviderRemote   ProviderKind = "remote"
	ProviderNoop     ProviderKind = "noop"
)

// ProviderKinds lists every known backend.
func ProviderKinds() []ProviderKind {
	return []ProviderKind{ProviderMemory, ProviderSharded, ProviderDocument, ProviderRemote, ProviderNoop}
}

// Valid reports whether k names a known backend.
func (k ProviderKind) Valid() bool {
	for _, known := range ProviderKinds() {
		if k == known {
			return true
		}
	}
	return false
}

func (k ProviderKind) String() string {
	return string(k)
}

// Provider is the storage contract every cache backend implements.
//
// Get returns (value, true, nil) on a hit and (nil, false, nil) on a miss.
// Backend failures are reported wrapped in ErrProviderUnavailable.
// Implementations must be safe for concurrent use.
type Provider interface {
	Kind() ProviderKind

	// Get returns the live value stored under key. Expired entries are misses
	// even if they were not swept yet.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set overwrites key, registers it under each tag and expires it after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error

	// Delete removes key if present. It is idempotent.
	Delete(ctx context.Context, key string) error

	// InvalidateByTags removes every entry carrying at least one of tags.
	// Tags matching nothing are not an error.
	InvalidateByTags(ctx context.Context, tags []string) error

	// Close releases background workers and connections.
	Close() error
}

// Entry is a stored cache record.
type Entry struct {
	Key       string
	Value     []byte
	Tags      []string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewEntry validates the inputs of a Set call and builds the entry a provider stores.
// The value is copied so the entry never aliases caller memory.
func NewEntry(key string, value []byte, ttl time.Duration, tags []string, now time.Time) (Entry, error) {
	if key == "" {
		return Entry{}, invalidArgument("key is required")
	}
	if ttl <= 0 {
		return Entry{}, invalidArgument("ttl must be positive, got %s", ttl)
	}
	tags = DedupeTags(tags)
	if err := ValidateTags(tags); err != nil {
		return Entry{}, err
	}

	return Entry{
		Key:       key,
		Value:     append(make([]byte, 0, len(value)), value...),
		Tags:      tags,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}

// Expired reports whether the entry is no longer live at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Size approximates the bytes an entry occupies: key, value and tags.
func (e Entry) Size() int64 {
	size := int64(len(e.Key) + len(e.Value))
	for _, tag := range e.Tags {
		size += int64(len(tag))
	}
	return size
}

// HasAnyTag reports whether the entry carries at least one of tags.
func (e Entry) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range e.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

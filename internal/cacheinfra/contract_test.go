package cacheinfra

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// providerFactory returns a fresh provider driven by clock.
type providerFactory func(t *testing.T, clock *fakeClock) cache.Provider

// runProviderContract checks the behavior every provider shares.
func runProviderContract(t *testing.T, newProvider providerFactory) {
	ctx := context.Background()

	t.Run("set then get", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		require.NoError(t, p.Set(ctx, "k1", []byte("v1"), time.Minute, nil))

		got, ok, err := p.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), got)
	})

	t.Run("miss", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		got, ok, err := p.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("overwrite keeps latest value", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		require.NoError(t, p.Set(ctx, "k", []byte("old"), time.Minute, []string{"a"}))
		require.NoError(t, p.Set(ctx, "k", []byte("new"), time.Minute, []string{"b"}))

		got, ok, err := p.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("new"), got)

		// the old tag no longer reaches the entry
		require.NoError(t, p.InvalidateByTags(ctx, []string{"a"}))
		_, ok, err = p.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("empty value round trips", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		require.NoError(t, p.Set(ctx, "empty", []byte{}, time.Minute, nil))

		got, ok, err := p.Get(ctx, "empty")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Empty(t, got)
	})

	t.Run("expired entry is a miss", func(t *testing.T) {
		clock := newFakeClock()
		p := newProvider(t, clock)
		require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Second, nil))

		clock.Advance(2 * time.Second)
		_, ok, err := p.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Minute, []string{"t"}))
		require.NoError(t, p.Delete(ctx, "k"))
		require.NoError(t, p.Delete(ctx, "k"))

		_, ok, err := p.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalidate by tags removes only tagged entries", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		require.NoError(t, p.Set(ctx, "user:1", []byte("a"), time.Minute, []string{"user", "user:1"}))
		require.NoError(t, p.Set(ctx, "user:2", []byte("b"), time.Minute, []string{"user", "user:2"}))
		require.NoError(t, p.Set(ctx, "order:1", []byte("c"), time.Minute, []string{"order"}))

		require.NoError(t, p.InvalidateByTags(ctx, []string{"user:1"}))
		assertPresence(t, p, map[string]bool{"user:1": false, "user:2": true, "order:1": true})

		require.NoError(t, p.InvalidateByTags(ctx, []string{"user", "nothing"}))
		assertPresence(t, p, map[string]bool{"user:1": false, "user:2": false, "order:1": true})
	})

	t.Run("retagged entry survives invalidation of its old tags", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		require.NoError(t, p.Set(ctx, "k", []byte("old"), time.Minute, []string{"a"}))
		require.NoError(t, p.Set(ctx, "k", []byte("new"), time.Minute, []string{"b"}))
		require.NoError(t, p.InvalidateByTags(ctx, []string{"a"}))

		got, ok, err := p.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("new"), got)
	})

	t.Run("invalidate unknown tags is not an error", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		require.NoError(t, p.InvalidateByTags(ctx, []string{"ghost"}))
		require.NoError(t, p.InvalidateByTags(ctx, nil))
	})

	t.Run("set rejects bad input", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		assert.ErrorIs(t, p.Set(ctx, "", []byte("v"), time.Minute, nil), cache.ErrInvalidArgument)
		assert.ErrorIs(t, p.Set(ctx, "k", []byte("v"), 0, nil), cache.ErrInvalidArgument)
		assert.ErrorIs(t, p.Set(ctx, "k", []byte("v"), time.Minute, []string{strings.Repeat("x", cache.MaxTagLength+1)}), cache.ErrInvalidArgument)
	})

	t.Run("returned value does not alias storage", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		value := []byte("abc")
		require.NoError(t, p.Set(ctx, "k", value, time.Minute, nil))
		value[0] = 'x'

		got, ok, err := p.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		got[1] = 'y'

		again, _, err := p.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("concurrent writers and invalidations", func(t *testing.T) {
		p := newProvider(t, newFakeClock())
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					key := fmt.Sprintf("w%d:%d", w, i)
					assert.NoError(t, p.Set(ctx, key, []byte(key), time.Minute, []string{fmt.Sprintf("w%d", w)}))
					_, _, err := p.Get(ctx, key)
					assert.NoError(t, err)
				}
				assert.NoError(t, p.InvalidateByTags(ctx, []string{fmt.Sprintf("w%d", w)}))
			}(w)
		}
		wg.Wait()

		for w := 0; w < 8; w++ {
			for i := 0; i < 25; i++ {
				_, ok, err := p.Get(ctx, fmt.Sprintf("w%d:%d", w, i))
				require.NoError(t, err)
				assert.False(t, ok)
			}
		}
	})
}

func assertPresence(t *testing.T, p cache.Provider, want map[string]bool) {
	t.Helper()
	for key, present := range want {
		_, ok, err := p.Get(context.Background(), key)
		require.NoError(t, err)
		assert.Equalf(t, present, ok, "presence of %s", key)
	}
}

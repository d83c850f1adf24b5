package repositorycache

import (
	"context"
	"slices"

	"github.com/goliatone/go-cache-connector/cache"
)

type scopeKey struct{}

// scope is the cache behaviour a context carries into cached reads.
type scope struct {
	tags []string
	opts []cache.CallOption
}

// WithCacheTags attaches tags to the context. Entries populated by cached
// reads made with the returned context carry them too.
func WithCacheTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	tags = cache.DedupeTags(tags)
	if len(tags) == 0 {
		return ctx
	}

	s := scopeFrom(ctx)
	s.tags = cache.DedupeTags(append(s.tags, tags...))
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithCallOptions applies opts to every cached read made with the returned
// context. Options passed to the call itself are applied after them, so a
// handler can force fresh reads for one request:
//
//	ctx = repositorycache.WithCallOptions(ctx, cache.ForceRefresh())
func WithCallOptions(ctx context.Context, opts ...cache.CallOption) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(opts) == 0 {
		return ctx
	}

	s := scopeFrom(ctx)
	s.opts = append(s.opts, opts...)
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return scope{tags: slices.Clone(s.tags), opts: slices.Clone(s.opts)}
}

// callOptions merges the context scope with the options of a single call.
func callOptions(ctx context.Context, opts []cache.CallOption) cache.CallOptions {
	s := scopeFrom(ctx)
	merged := cache.ApplyCallOptions(append(s.opts, opts...)...)
	merged.Tags = append(merged.Tags, s.tags...)
	return merged
}

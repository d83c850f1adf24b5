// Package cache defines the provider agnostic cache model shared by every layer.
//
// # Overview
//
// This package holds the pure parts of the caching subsystem, it performs no I/O:
//
//   - Provider: the storage contract implemented by every backend
//   - Key and tag model: BuildKey, BuildTags and the tag helpers
//   - Configuration hierarchy: Settings, RepositoryConfig, CallOptions and Resolve
//   - Codec: how typed values become the opaque payload providers store
//   - Error taxonomy: ErrInvalidArgument, ErrProviderUnavailable, ErrConfiguration
//
// Backends live in internal/cacheinfra, the facade selecting them lives in the
// connector package and the repository integration lives in repositorycache.
//
// # Keys
//
// Keys are composed from four segments:
//
//	key, err := cache.BuildKey("app", "user", "findById", "42")
//	// app:user:findById:42
//
// Segments are escaped so that two distinct inputs never produce the same key.
// Bumping the namespace moves every key into a new generation; entries of the old
// generation are never read again and age out through their TTL.
//
// Query results use a fingerprint of the serialized query as identifier:
//
//	serialized := cache.NewDefaultKeySerializer().SerializeKey("query", filters)
//	key, err := cache.BuildKey(ns, "user", "query", cache.Fingerprint(serialized))
//
// # Tags
//
// BuildTags always returns a collection tag ("user") and an entity tag
// ("user:42"). Invalidating the entity tag drops every entry about one entity,
// invalidating the collection tag drops everything of that type. Cached query
// results additionally carry QueryTag ("user::queries").
//
// An entry carries at most MaxTagsPerEntry tags of at most MaxTagLength bytes.
//
// # Configuration Hierarchy
//
// Effective settings are resolved per operation from three layers:
//
//	eff := cache.Resolve(settings, repoConfig, cache.ApplyCallOptions(opts...))
//
// The global switch (Settings.Enabled) turns caching off everywhere. Each
// repository must opt in with RepositoryConfig.Enabled, and a repository that opts
// in without a TTL fails RepositoryConfig.Validate when it is constructed. Call
// options override provider and TTL, add tags and can force a refresh.
//
// # Error Handling
//
// Backend failures are wrapped in *ProviderError, which matches
// ErrProviderUnavailable. The repository layer never surfaces them: reads degrade to
// the source of truth and invalidations are logged and dropped.
package cache

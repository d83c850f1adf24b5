// Package repositorycache adds cache-aside reads and write-path invalidation to a document store.
//
// # Overview
//
// A CachedRepository wraps a Store (the system of record) and a connector.Connector.
// Reads made through FindByIDCached and QueryCached consult the cache first and
// populate it on a miss. Writes go to the store, and once the store has committed
// the affected tags are invalidated. Repository authors never call invalidation
// themselves.
//
// # Basic Usage
//
//	conn, _ := connector.New(cache.DefaultSettings())
//	users, err := repositorycache.New[User](store, conn, cache.RepositoryConfig{
//		Enabled:   true,
//		TTL:       5 * time.Minute,
//		KeyPrefix: "user",
//	})
//
//	user, found, err := users.FindByIDCached(ctx, "42")
//	user, found, err = users.FindByIDCached(ctx, "42", cache.ForceRefresh())
//	_, err = users.Update(ctx, user) // drops user:42 and the user collection
//
// go-repository-bun repositories are adapted with NewBunStore. Pass WithDB to
// enable RunInTx.
//
// # Keys and Tags
//
// The record with id 42 of a repository with prefix "user" is cached under
//
//	<namespace>:user:findById:42
//
// and tagged "user" (collection) and "user:42" (entity), plus the repository
// tags, the call tags and any tags attached to the context with WithCacheTags.
// WithCallOptions scopes call options such as cache.ForceRefresh to a context.
// Query results are cached under a fingerprint of their filters and tagged
// "user" and "user::queries".
//
// # Invalidation
//
//   - Create drops "user::queries" and, with PopulateOnCreate, caches the new record.
//   - Update and Delete drop "user:42" and, depending on RepositoryConfig.Invalidation,
//     either "user" (the default) or only "user::queries".
//   - CreateMany, UpdateMany and Upsert invalidate like their single record
//     counterparts. DeleteWhere drops the whole collection. They need a
//     BatchStore and return ErrUnsupported otherwise.
//   - RunInTx collects the tags of writes made through the transaction and
//     drops them after commit. It needs a TxStore.
//   - Nothing is invalidated when the store write fails or the transaction
//     rolls back.
//
// Every provider the repository has populated, including ones picked per call
// with cache.WithProvider, is invalidated.
//
// Invalidation is detached from the caller's cancellation and retried a few
// times. A failure after the last attempt is logged, never returned: the write
// already succeeded and the entry will expire with its TTL.
//
// # Degraded Mode
//
// Cache failures are never store failures. A provider that cannot be reached
// turns cached reads into plain store reads. When either the global switch or
// the repository switch is off every cached method behaves like its uncached
// counterpart.
//
// Not-found results are never cached.
package repositorycache

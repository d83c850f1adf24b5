package repositorycache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/goliatone/go-cache-connector/connector"
	"github.com/goliatone/go-cache-connector/internal/cacheinfra"
	"github.com/goliatone/go-cache-connector/pkg/testsupport"
	"github.com/goliatone/go-cache-connector/repositorycache"
)

// TestUser represents a test entity
type TestUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

func userID(u TestUser) string { return u.ID }

func testSettings() cache.Settings {
	s := cache.DefaultSettings()
	s.Memory.CleanupInterval = 0
	return s
}

func enabledConfig() cache.RepositoryConfig {
	return cache.RepositoryConfig{
		Enabled: true,
		TTL:     time.Minute,
	}
}

type fixture struct {
	store *testsupport.MemoryStore[TestUser]
	conn  *connector.Connector
	repo  *repositorycache.CachedRepository[TestUser]
}

func newFixture(t *testing.T, settings cache.Settings, cfg cache.RepositoryConfig, connOpts ...connector.Option) *fixture {
	t.Helper()

	store := testsupport.SeedStore(t, testsupport.FixturePath("users.json"), userID)

	conn, err := connector.New(settings, connOpts...)
	if err != nil {
		t.Fatalf("connector.New: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	repo, err := repositorycache.New[TestUser](store, conn, cfg,
		repositorycache.WithRetryDelay[TestUser](time.Millisecond))
	if err != nil {
		t.Fatalf("repositorycache.New: %v", err)
	}

	return &fixture{store: store, conn: conn, repo: repo}
}

func (f *fixture) mustFind(t *testing.T, id string, opts ...cache.CallOption) TestUser {
	t.Helper()
	user, found, err := f.repo.FindByIDCached(context.Background(), id, opts...)
	if err != nil {
		t.Fatalf("FindByIDCached(%s): %v", id, err)
	}
	if !found {
		t.Fatalf("FindByIDCached(%s): not found", id)
	}
	return user
}

func (f *fixture) cached(t *testing.T, id string) bool {
	t.Helper()
	key, err := cache.BuildKey(f.conn.Settings().Namespace, f.repo.Config().KeyPrefix, "findById", id)
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}
	_, ok, err := f.conn.GetBytes(context.Background(), key)
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	return ok
}

// downProvider fails every call as an unreachable backend would.
type downProvider struct {
	cacheinfra.Noop
	invalidations atomic.Int32
}

var errDown = errors.New("connection refused")

func (p *downProvider) Kind() cache.ProviderKind { return cache.ProviderMemory }

func (p *downProvider) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, cache.Unavailable(cache.ProviderMemory, "get", "", errDown)
}

func (p *downProvider) Set(context.Context, string, []byte, time.Duration, []string) error {
	return cache.Unavailable(cache.ProviderMemory, "set", "", errDown)
}

func (p *downProvider) InvalidateByTags(context.Context, []string) error {
	p.invalidations.Add(1)
	return cache.Unavailable(cache.ProviderMemory, "invalidate", "", errDown)
}

func TestNew(t *testing.T) {
	conn, err := connector.New(testSettings())
	if err != nil {
		t.Fatalf("connector.New: %v", err)
	}
	defer conn.Close()
	store := testsupport.NewMemoryStore(userID)

	t.Run("derives key prefix from type", func(t *testing.T) {
		repo, err := repositorycache.New[TestUser](store, conn, enabledConfig())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := repo.Config().KeyPrefix; got != "test_user" {
			t.Errorf("expected key prefix test_user, got %s", got)
		}
	})

	t.Run("keeps explicit key prefix", func(t *testing.T) {
		cfg := enabledConfig()
		cfg.KeyPrefix = "user"
		repo, err := repositorycache.New[TestUser](store, conn, cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := repo.Config().KeyPrefix; got != "user" {
			t.Errorf("expected key prefix user, got %s", got)
		}
	})

	t.Run("rejects enabled cache without ttl", func(t *testing.T) {
		cfg := enabledConfig()
		cfg.TTL = 0
		_, err := repositorycache.New[TestUser](store, conn, cfg)
		if !errors.Is(err, cache.ErrConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("accepts disabled cache without ttl", func(t *testing.T) {
		_, err := repositorycache.New[TestUser](store, conn, cache.RepositoryConfig{})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("requires store and connector", func(t *testing.T) {
		if _, err := repositorycache.New[TestUser](nil, conn, enabledConfig()); !errors.Is(err, cache.ErrConfiguration) {
			t.Errorf("expected configuration error for nil store, got %v", err)
		}
		if _, err := repositorycache.New[TestUser](store, nil, enabledConfig()); !errors.Is(err, cache.ErrConfiguration) {
			t.Errorf("expected configuration error for nil connector, got %v", err)
		}
	})
}

func TestFindByIDCached_HitAfterMiss(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())

	first := f.mustFind(t, "1")
	second := f.mustFind(t, "1")

	if first != second {
		t.Errorf("expected identical results, got %+v and %+v", first, second)
	}
	if calls := f.store.Calls(testsupport.OpGet); calls != 1 {
		t.Errorf("expected 1 store read, got %d", calls)
	}
	if !f.cached(t, "1") {
		t.Error("expected entry to be cached")
	}
}

func TestFindByIDCached_NotFoundIsNotCached(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, found, err := f.repo.FindByIDCached(ctx, "missing")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if found {
			t.Fatal("expected not found")
		}
	}
	if calls := f.store.Calls(testsupport.OpGet); calls != 2 {
		t.Errorf("expected every lookup to reach the store, got %d reads", calls)
	}

	f.store.Put(TestUser{ID: "missing", Name: "Late Arrival"})
	if got := f.mustFind(t, "missing"); got.Name != "Late Arrival" {
		t.Errorf("expected freshly created record, got %+v", got)
	}
}

func TestFindByIDCached_StoreErrorPropagates(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	boom := errors.New("database is down")
	f.store.FailNext(testsupport.OpGet, boom)

	_, _, err := f.repo.FindByIDCached(context.Background(), "1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if f.cached(t, "1") {
		t.Error("failed read must not populate the cache")
	}
}

func TestFindByIDCached_DisabledReturnsCurrentStoreData(t *testing.T) {
	for _, global := range []bool{true, false} {
		settings := testSettings()
		settings.Enabled = global
		cfg := enabledConfig()
		cfg.Enabled = !global

		f := newFixture(t, settings, cfg)

		f.store.Put(TestUser{ID: "x", Name: "first"})
		if got := f.mustFind(t, "x"); got.Name != "first" {
			t.Errorf("expected first, got %s", got.Name)
		}

		f.store.Put(TestUser{ID: "x", Name: "second"})
		if got := f.mustFind(t, "x"); got.Name != "second" {
			t.Errorf("expected second, got %s", got.Name)
		}

		if f.cached(t, "x") {
			t.Error("disabled caching must never populate the cache")
		}
		if calls := f.store.Calls(testsupport.OpGet); calls != 2 {
			t.Errorf("expected 2 store reads, got %d", calls)
		}
	}
}

func TestFindByIDCached_ForceRefresh(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())

	f.mustFind(t, "1")
	f.store.Put(TestUser{ID: "1", Name: "Renamed"})

	if got := f.mustFind(t, "1"); got.Name != "John Doe" {
		t.Fatalf("expected cached value, got %+v", got)
	}
	if got := f.mustFind(t, "1", cache.ForceRefresh()); got.Name != "Renamed" {
		t.Fatalf("expected refreshed value, got %+v", got)
	}
	if got := f.mustFind(t, "1"); got.Name != "Renamed" {
		t.Errorf("expected refresh to repopulate the cache, got %+v", got)
	}
	if calls := f.store.Calls(testsupport.OpGet); calls != 2 {
		t.Errorf("expected 2 store reads, got %d", calls)
	}
}

func TestFindByIDCached_CoalescesConcurrentMisses(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	f.store.SetDelay(100 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, found, err := f.repo.FindByIDCached(context.Background(), "2"); err != nil || !found {
				t.Errorf("unexpected result found=%v err=%v", found, err)
			}
		}()
	}
	wg.Wait()

	if calls := f.store.Calls(testsupport.OpGet); calls != 1 {
		t.Errorf("expected concurrent misses to share one store read, got %d", calls)
	}
}

func TestFindByIDCached_CanceledCallerDoesNotFailSharedRead(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	f.store.SetDelay(100 * time.Millisecond)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := f.repo.FindByIDCached(leaderCtx, "2")
		leaderErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	type result struct {
		user  TestUser
		found bool
		err   error
	}
	follower := make(chan result, 1)
	go func() {
		user, found, err := f.repo.FindByIDCached(context.Background(), "2")
		follower <- result{user, found, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("canceled caller should get its own context error, got %v", err)
	}

	res := <-follower
	if res.err != nil || !res.found {
		t.Fatalf("waiting caller should not inherit the cancellation, found=%v err=%v", res.found, res.err)
	}
	if res.user.Name != "Jane Smith" {
		t.Errorf("unexpected record %+v", res.user)
	}
	if calls := f.store.Calls(testsupport.OpGet); calls != 1 {
		t.Errorf("expected one shared store read, got %d", calls)
	}
	if !f.cached(t, "2") {
		t.Error("shared read should still populate the cache")
	}
}

func TestFindByIDCached_SharedReadHonorsFetchTimeout(t *testing.T) {
	store := testsupport.SeedStore(t, testsupport.FixturePath("users.json"), userID)
	store.SetDelay(time.Second)

	conn, err := connector.New(testSettings())
	if err != nil {
		t.Fatalf("connector.New: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	repo, err := repositorycache.New[TestUser](store, conn, enabledConfig(),
		repositorycache.WithFetchTimeout[TestUser](20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, _, err := repo.FindByIDCached(context.Background(), "1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the fetch timeout to end the read, got %v", err)
	}
}

func TestFindByIDCached_DegradesWhenProviderDown(t *testing.T) {
	down := &downProvider{}
	f := newFixture(t, testSettings(), enabledConfig(), connector.WithProviderInstance(down))

	for i := 0; i < 2; i++ {
		if got := f.mustFind(t, "1"); got.Name != "John Doe" {
			t.Fatalf("expected store data, got %+v", got)
		}
	}
	if calls := f.store.Calls(testsupport.OpGet); calls != 2 {
		t.Errorf("expected every read to reach the store, got %d", calls)
	}
}

func TestFindByIDCached_CorruptEntryFallsBackToStore(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	key, _ := cache.BuildKey("cache", "test_user", "findById", "1")

	if err := f.conn.SetBytes(context.Background(), key, []byte{0xc1}); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}

	if got := f.mustFind(t, "1"); got.Name != "John Doe" {
		t.Fatalf("expected store data, got %+v", got)
	}
	if got := f.mustFind(t, "1"); got.Name != "John Doe" {
		t.Fatalf("expected repaired cache entry, got %+v", got)
	}
	if calls := f.store.Calls(testsupport.OpGet); calls != 1 {
		t.Errorf("expected 1 store read, got %d", calls)
	}
}

func TestUpdate_InvalidatesEntity(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := context.Background()

	f.mustFind(t, "1")

	updated := TestUser{ID: "1", Name: "John Updated", Email: "john@example.com", Active: true}
	if _, err := f.repo.Update(ctx, updated); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if f.cached(t, "1") {
		t.Fatal("expected update to invalidate the cached entry")
	}
	if got := f.mustFind(t, "1"); got != updated {
		t.Errorf("expected updated record, got %+v", got)
	}
}

func TestUpdate_FailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := context.Background()

	f.mustFind(t, "1")
	reject := errors.New("constraint violation")
	f.store.FailNext(testsupport.OpUpdate, reject)

	_, err := f.repo.Update(ctx, TestUser{ID: "1", Name: "Never Written"})
	if !errors.Is(err, reject) {
		t.Fatalf("expected store error, got %v", err)
	}

	if !f.cached(t, "1") {
		t.Fatal("failed update must not invalidate")
	}
	if got := f.mustFind(t, "1"); got.Name != "John Doe" {
		t.Errorf("expected original record, got %+v", got)
	}
	if calls := f.store.Calls(testsupport.OpGet); calls != 1 {
		t.Errorf("expected the cached entry to serve the read, got %d store reads", calls)
	}
}

func TestUpdate_InvalidationScope(t *testing.T) {
	tests := []struct {
		name          string
		scope         cache.InvalidationScope
		siblingCached bool
	}{
		{"entity and collection", cache.InvalidateEntityAndCollection, false},
		{"entity and queries", cache.InvalidateEntityAndQueries, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			cfg.Invalidation = tt.scope
			f := newFixture(t, testSettings(), cfg)
			ctx := context.Background()

			f.mustFind(t, "1")
			f.mustFind(t, "2")
			if _, err := f.repo.QueryCached(ctx, repositorycache.Filters{"active": true}); err != nil {
				t.Fatalf("QueryCached: %v", err)
			}

			if _, err := f.repo.Update(ctx, TestUser{ID: "1", Name: "changed", Active: true}); err != nil {
				t.Fatalf("Update: %v", err)
			}

			if f.cached(t, "1") {
				t.Error("entity entry should always be invalidated")
			}
			if got := f.cached(t, "2"); got != tt.siblingCached {
				t.Errorf("sibling cached = %v, want %v", got, tt.siblingCached)
			}

			if _, err := f.repo.QueryCached(ctx, repositorycache.Filters{"active": true}); err != nil {
				t.Fatalf("QueryCached: %v", err)
			}
			if calls := f.store.Calls(testsupport.OpQuery); calls != 2 {
				t.Errorf("query results should be invalidated, got %d store queries", calls)
			}
		})
	}
}

func TestUpdate_InvalidationFailureIsSwallowed(t *testing.T) {
	down := &downProvider{}
	f := newFixture(t, testSettings(), enabledConfig(), connector.WithProviderInstance(down))

	if _, err := f.repo.Update(context.Background(), TestUser{ID: "1", Name: "changed"}); err != nil {
		t.Fatalf("cache failure leaked into update: %v", err)
	}
	if got := down.invalidations.Load(); got != 3 {
		t.Errorf("expected 3 invalidation attempts, got %d", got)
	}
}

func TestUpdate_InvalidationSurvivesCanceledContext(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	f.mustFind(t, "1")

	ctx, cancel := context.WithCancel(context.Background())
	store := &cancelOnUpdate[TestUser]{Store: f.store, cancel: cancel}
	repo, err := repositorycache.New[TestUser](store, f.conn, enabledConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := repo.Update(ctx, TestUser{ID: "1", Name: "changed"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if f.cached(t, "1") {
		t.Error("invalidation should run even though the request context was canceled")
	}
}

// cancelOnUpdate cancels the caller's context right after the store commits.
type cancelOnUpdate[T any] struct {
	repositorycache.Store[T]
	cancel context.CancelFunc
}

func (s *cancelOnUpdate[T]) Update(ctx context.Context, record T) (T, error) {
	updated, err := s.Store.Update(ctx, record)
	s.cancel()
	return updated, err
}

func TestDelete_InvalidatesEntity(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := context.Background()

	f.mustFind(t, "3")
	if err := f.repo.Delete(ctx, "3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, found, err := f.repo.FindByIDCached(ctx, "3")
	if err != nil {
		t.Fatalf("FindByIDCached: %v", err)
	}
	if found {
		t.Error("deleted record must not be served from the cache")
	}
}

func TestUpdate_InvalidatesProviderChosenPerCall(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := context.Background()
	sharded := cache.WithProvider(cache.ProviderSharded)

	f.mustFind(t, "1", sharded)

	if _, err := f.repo.Update(ctx, TestUser{ID: "1", Name: "Updated", Email: "john@example.com", Active: true}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := f.mustFind(t, "1", sharded); got.Name != "Updated" {
		t.Errorf("stale entry served from the per call provider: %+v", got)
	}
}

func TestDelete_InvalidatesProviderChosenByContext(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := repositorycache.WithCallOptions(context.Background(), cache.WithProvider(cache.ProviderSharded))

	if _, found, err := f.repo.FindByIDCached(ctx, "3"); err != nil || !found {
		t.Fatalf("FindByIDCached: found=%v err=%v", found, err)
	}
	if err := f.repo.Delete(context.Background(), "3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, found, err := f.repo.FindByIDCached(ctx, "3")
	if err != nil {
		t.Fatalf("FindByIDCached: %v", err)
	}
	if found {
		t.Error("deleted record must not be served from the context provider")
	}
}

func TestDelete_FailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())

	f.mustFind(t, "3")
	f.store.FailNext(testsupport.OpDelete, errors.New("locked"))

	if err := f.repo.Delete(context.Background(), "3"); err == nil {
		t.Fatal("expected delete to fail")
	}
	if !f.cached(t, "3") {
		t.Error("failed delete must not invalidate")
	}
}

func TestCreate_InvalidatesQueriesOnly(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := context.Background()

	f.mustFind(t, "1")
	active, err := f.repo.QueryCached(ctx, repositorycache.Filters{"active": true})
	if err != nil {
		t.Fatalf("QueryCached: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active users, got %d", len(active))
	}

	if _, err := f.repo.Create(ctx, TestUser{ID: "4", Name: "New", Active: true}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	active, err = f.repo.QueryCached(ctx, repositorycache.Filters{"active": true})
	if err != nil {
		t.Fatalf("QueryCached: %v", err)
	}
	if len(active) != 3 {
		t.Errorf("expected the new user in query results, got %d users", len(active))
	}
	if !f.cached(t, "1") {
		t.Error("create should not invalidate unrelated entities")
	}
	if f.cached(t, "4") {
		t.Error("create should not populate without PopulateOnCreate")
	}
}

func TestCreate_PopulateOnCreate(t *testing.T) {
	cfg := enabledConfig()
	cfg.PopulateOnCreate = true
	f := newFixture(t, testSettings(), cfg)

	created := TestUser{ID: "4", Name: "Fresh"}
	if _, err := f.repo.Create(context.Background(), created); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if got := f.mustFind(t, "4"); got != created {
		t.Errorf("expected created record, got %+v", got)
	}
	if calls := f.store.Calls(testsupport.OpGet); calls != 0 {
		t.Errorf("expected populated entry to serve the read, got %d store reads", calls)
	}
}

func TestQueryCached_StableKeyForFilters(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.repo.QueryCached(ctx, repositorycache.Filters{"active": true, "name": "Jane Smith"}); err != nil {
			t.Fatalf("QueryCached: %v", err)
		}
	}
	if calls := f.store.Calls(testsupport.OpQuery); calls != 1 {
		t.Errorf("expected one store query, got %d", calls)
	}

	if _, err := f.repo.QueryCached(ctx, repositorycache.Filters{"active": false}); err != nil {
		t.Fatalf("QueryCached: %v", err)
	}
	if calls := f.store.Calls(testsupport.OpQuery); calls != 2 {
		t.Errorf("different filters must not share an entry, got %d store queries", calls)
	}
}

func TestWithCacheTags(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := repositorycache.WithCacheTags(context.Background(), "tenant:acme", "tenant:acme", "")

	if _, _, err := f.repo.FindByIDCached(ctx, "1"); err != nil {
		t.Fatalf("FindByIDCached: %v", err)
	}
	if err := f.conn.InvalidateByTags(context.Background(), []string{"tenant:acme"}); err != nil {
		t.Fatalf("InvalidateByTags: %v", err)
	}
	if f.cached(t, "1") {
		t.Error("context tags should be attached to populated entries")
	}
}

func TestWithCallOptions(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := repositorycache.WithCallOptions(context.Background(), cache.ForceRefresh())

	for i := 0; i < 3; i++ {
		if _, _, err := f.repo.FindByIDCached(ctx, "1"); err != nil {
			t.Fatalf("FindByIDCached: %v", err)
		}
	}
	if calls := f.store.Calls(testsupport.OpGet); calls != 3 {
		t.Errorf("expected every forced read to reach the store, got %d gets", calls)
	}
	if !f.cached(t, "1") {
		t.Error("forced reads should still populate the cache")
	}

	// without the scoped option the populated entry is served
	f.mustFind(t, "1")
	if calls := f.store.Calls(testsupport.OpGet); calls != 3 {
		t.Errorf("expected a cache hit, got %d gets", calls)
	}
}

func TestWithCacheTags_AccumulatesAcrossContexts(t *testing.T) {
	f := newFixture(t, testSettings(), enabledConfig())
	ctx := repositorycache.WithCacheTags(context.Background(), "tenant:acme")
	ctx = repositorycache.WithCacheTags(ctx, "region:eu")

	if _, _, err := f.repo.FindByIDCached(ctx, "1"); err != nil {
		t.Fatalf("FindByIDCached: %v", err)
	}
	if err := f.conn.InvalidateByTags(context.Background(), []string{"tenant:acme"}); err != nil {
		t.Fatalf("InvalidateByTags: %v", err)
	}
	if f.cached(t, "1") {
		t.Error("tags from the outer context should survive a nested WithCacheTags")
	}
}

func TestCallTags(t *testing.T) {
	cfg := enabledConfig()
	cfg.Tags = []string{"users"}
	f := newFixture(t, testSettings(), cfg)
	ctx := context.Background()

	f.mustFind(t, "1", cache.WithTags("vip"))
	f.mustFind(t, "2")

	if err := f.conn.InvalidateByTags(ctx, []string{"vip"}); err != nil {
		t.Fatalf("InvalidateByTags: %v", err)
	}
	if f.cached(t, "1") || !f.cached(t, "2") {
		t.Error("call tags should only reach the entry populated by that call")
	}

	if err := f.conn.InvalidateByTags(ctx, []string{"users"}); err != nil {
		t.Fatalf("InvalidateByTags: %v", err)
	}
	if f.cached(t, "2") {
		t.Error("repository tags should reach every entry")
	}
}

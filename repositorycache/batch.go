package repositorycache

import (
	"context"
	"sync"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/pkg/errors"
)

// CreateMany stores records in one call and drops cached query results. With
// PopulateOnCreate every created record is cached under its read key.
func (r *CachedRepository[T]) CreateMany(ctx context.Context, records []T) ([]T, error) {
	batch, err := r.batchStore("create many")
	if err != nil {
		return nil, err
	}

	created, err := batch.CreateMany(ctx, records)
	if err != nil {
		return created, err
	}

	eff := cache.Resolve(r.conn.Settings(), r.cfg, callOptions(ctx, nil))
	if !eff.Enabled {
		return created, nil
	}

	r.invalidate(ctx, []string{cache.QueryTag(r.cfg.KeyPrefix)})

	if r.cfg.PopulateOnCreate {
		for _, record := range created {
			r.populateCreated(ctx, record, eff)
		}
	}
	return created, nil
}

// UpdateMany writes records in one call and invalidates like Update for each
// of them once the store has committed.
func (r *CachedRepository[T]) UpdateMany(ctx context.Context, records []T) ([]T, error) {
	batch, err := r.batchStore("update many")
	if err != nil {
		return nil, err
	}

	updated, err := batch.UpdateMany(ctx, records)
	if err != nil {
		return updated, err
	}

	var tags []string
	for i, record := range updated {
		sent := record
		if i < len(records) {
			sent = records[i]
		}
		tags = append(tags, r.recordTags(record, sent)...)
	}
	r.invalidate(ctx, cache.DedupeTags(tags))
	return updated, nil
}

// Upsert inserts or updates record and invalidates like Update.
func (r *CachedRepository[T]) Upsert(ctx context.Context, record T) (T, error) {
	batch, err := r.batchStore("upsert")
	if err != nil {
		var zero T
		return zero, err
	}

	stored, err := batch.Upsert(ctx, record)
	if err != nil {
		return stored, err
	}

	r.invalidate(ctx, r.recordTags(stored, record))
	return stored, nil
}

// DeleteWhere removes the records matching filters. The deleted ids are not
// known, so the whole collection is invalidated.
func (r *CachedRepository[T]) DeleteWhere(ctx context.Context, filters Filters) error {
	batch, err := r.batchStore("delete where")
	if err != nil {
		return err
	}

	if err := batch.DeleteWhere(ctx, filters); err != nil {
		return err
	}

	r.invalidate(ctx, []string{cache.CollectionTag(r.cfg.KeyPrefix)})
	return nil
}

// RunInTx runs fn in a store transaction. Writes made through tx are collected
// and their tags invalidated only after the transaction commits; a rolled back
// transaction leaves the cache untouched. Reads through tx bypass the cache.
func (r *CachedRepository[T]) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store[T]) error) error {
	txStore, ok := r.store.(TxStore[T])
	if !ok {
		return errors.Wrap(ErrUnsupported, "run in tx")
	}

	pending := &txWrites[T]{repo: r}
	err := txStore.RunInTx(ctx, func(ctx context.Context, tx Store[T]) error {
		pending.Store = tx
		return fn(ctx, pending)
	})
	if err != nil {
		return err
	}

	r.invalidate(ctx, pending.collected())
	return nil
}

func (r *CachedRepository[T]) batchStore(op string) (BatchStore[T], error) {
	batch, ok := r.store.(BatchStore[T])
	if !ok {
		return nil, errors.Wrap(ErrUnsupported, op)
	}
	return batch, nil
}

// txWrites records the tags touched by writes inside a transaction.
type txWrites[T any] struct {
	Store[T]
	repo *CachedRepository[T]

	mu   sync.Mutex
	tags []string
}

func (w *txWrites[T]) Create(ctx context.Context, record T) (T, error) {
	created, err := w.Store.Create(ctx, record)
	if err == nil {
		w.add(cache.QueryTag(w.repo.cfg.KeyPrefix))
	}
	return created, err
}

func (w *txWrites[T]) Update(ctx context.Context, record T) (T, error) {
	updated, err := w.Store.Update(ctx, record)
	if err == nil {
		w.add(w.repo.recordTags(updated, record)...)
	}
	return updated, err
}

func (w *txWrites[T]) Delete(ctx context.Context, id string) error {
	err := w.Store.Delete(ctx, id)
	if err == nil {
		w.add(w.repo.writeTags(id)...)
	}
	return err
}

func (w *txWrites[T]) add(tags ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tags = append(w.tags, tags...)
}

func (w *txWrites[T]) collected() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cache.DedupeTags(w.tags)
}

package repositorycache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when the requested record does not exist.
var ErrNotFound = errors.New("repositorycache: record not found")

// Filters are equality constraints for Query, keyed by column name.
type Filters map[string]any

// Store is the document store a CachedRepository reads through and writes to.
// It stays the system of record; the cache never writes to it.
type Store[T any] interface {
	// Get returns ErrNotFound when no record has id.
	Get(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, record T) (T, error)
	Update(ctx context.Context, record T) (T, error)
	// Delete removes the record. Whether that is a soft or hard delete is up to the store.
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, filters Filters) ([]T, error)
}

// ErrUnsupported is returned by bulk and transactional writes when the Store
// does not implement them.
var ErrUnsupported = errors.New("repositorycache: operation not supported by store")

// BatchStore is implemented by stores that write several records per call.
type BatchStore[T any] interface {
	CreateMany(ctx context.Context, records []T) ([]T, error)
	UpdateMany(ctx context.Context, records []T) ([]T, error)
	// Upsert inserts record or updates it when it already exists.
	Upsert(ctx context.Context, record T) (T, error)
	// DeleteWhere removes every record matching filters.
	DeleteWhere(ctx context.Context, filters Filters) error
}

// TxStore is implemented by stores that can group writes in a transaction.
// The writes made through tx commit when fn returns nil and roll back
// otherwise.
type TxStore[T any] interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store[T]) error) error
}

package repositorycache

import (
	"context"
	"database/sql"
	"sort"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// BunStore adapts a go-repository-bun repository to Store and BatchStore.
// With WithDB it is also a TxStore.
type BunStore[T any] struct {
	repo       repository.Repository[T]
	db         bun.IDB
	tx         bun.IDB
	isNotFound func(error) bool
}

// BunStoreOption configures a BunStore.
type BunStoreOption[T any] func(*BunStore[T])

// WithNotFoundFunc replaces the not found classifier, which defaults to sql.ErrNoRows.
func WithNotFoundFunc[T any](fn func(error) bool) BunStoreOption[T] {
	return func(s *BunStore[T]) {
		if fn != nil {
			s.isNotFound = fn
		}
	}
}

// WithDB sets the database RunInTx opens transactions on. It should be the
// one the repository was built with.
func WithDB[T any](db bun.IDB) BunStoreOption[T] {
	return func(s *BunStore[T]) {
		s.db = db
	}
}

func NewBunStore[T any](repo repository.Repository[T], opts ...BunStoreOption[T]) *BunStore[T] {
	s := &BunStore[T]{
		repo: repo,
		isNotFound: func(err error) bool {
			return errors.Is(err, sql.ErrNoRows)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BunStore[T]) Get(ctx context.Context, id string) (T, error) {
	var (
		record T
		err    error
	)
	if s.tx != nil {
		record, err = s.repo.GetByIDTx(ctx, s.tx, id)
	} else {
		record, err = s.repo.GetByID(ctx, id)
	}
	if err != nil {
		var zero T
		return zero, s.wrap(err, "get %s", id)
	}
	return record, nil
}

func (s *BunStore[T]) Create(ctx context.Context, record T) (T, error) {
	if s.tx != nil {
		return s.repo.CreateTx(ctx, s.tx, record)
	}
	return s.repo.Create(ctx, record)
}

func (s *BunStore[T]) Update(ctx context.Context, record T) (T, error) {
	if s.tx != nil {
		return s.repo.UpdateTx(ctx, s.tx, record)
	}
	return s.repo.Update(ctx, record)
}

// Delete loads the record first; go-repository-bun deletes by model.
func (s *BunStore[T]) Delete(ctx context.Context, id string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "delete")
	}
	if s.tx != nil {
		return s.repo.DeleteTx(ctx, s.tx, record)
	}
	return s.repo.Delete(ctx, record)
}

// Query turns each filter into an equality WHERE clause on the named column.
func (s *BunStore[T]) Query(ctx context.Context, filters Filters) ([]T, error) {
	criteria := make([]repository.SelectCriteria, 0, len(filters))
	for _, column := range sortedColumns(filters) {
		value := filters[column]
		criteria = append(criteria, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("? = ?", bun.Ident(column), value)
		})
	}

	var (
		records []T
		err     error
	)
	if s.tx != nil {
		records, _, err = s.repo.ListTx(ctx, s.tx, criteria...)
	} else {
		records, _, err = s.repo.List(ctx, criteria...)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	return records, nil
}

func (s *BunStore[T]) CreateMany(ctx context.Context, records []T) ([]T, error) {
	created, err := s.repo.CreateMany(ctx, records)
	return created, errors.Wrap(err, "create many")
}

func (s *BunStore[T]) UpdateMany(ctx context.Context, records []T) ([]T, error) {
	updated, err := s.repo.UpdateMany(ctx, records)
	return updated, errors.Wrap(err, "update many")
}

func (s *BunStore[T]) Upsert(ctx context.Context, record T) (T, error) {
	stored, err := s.repo.Upsert(ctx, record)
	return stored, errors.Wrap(err, "upsert")
}

// DeleteWhere refuses empty filters so a missing argument cannot wipe the table.
func (s *BunStore[T]) DeleteWhere(ctx context.Context, filters Filters) error {
	if len(filters) == 0 {
		return errors.New("delete where: filters are required")
	}

	criteria := make([]repository.DeleteCriteria, 0, len(filters))
	for _, column := range sortedColumns(filters) {
		value := filters[column]
		criteria = append(criteria, func(q *bun.DeleteQuery) *bun.DeleteQuery {
			return q.Where("? = ?", bun.Ident(column), value)
		})
	}
	return errors.Wrap(s.repo.DeleteWhere(ctx, criteria...), "delete where")
}

// RunInTx opens a transaction on the database set with WithDB.
func (s *BunStore[T]) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store[T]) error) error {
	if s.db == nil {
		return errors.Wrap(ErrUnsupported, "run in tx: no database configured")
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		bound := *s
		bound.tx = tx
		return fn(ctx, &bound)
	})
}

func (s *BunStore[T]) wrap(err error, format string, args ...any) error {
	if s.isNotFound(err) {
		return errors.Wrapf(ErrNotFound, format+": %v", append(args, err)...)
	}
	return errors.Wrapf(err, format, args...)
}

func sortedColumns(filters Filters) []string {
	columns := make([]string, 0, len(filters))
	for column := range filters {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

var (
	_ Store[any]      = (*BunStore[any])(nil)
	_ BatchStore[any] = (*BunStore[any])(nil)
	_ TxStore[any]    = (*BunStore[any])(nil)
)

package testsupport

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-cache-connector/repositorycache"
)

// Store operations, used to count calls and inject failures.
const (
	OpGet    = "get"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpQuery  = "query"

	OpCreateMany  = "create_many"
	OpUpdateMany  = "update_many"
	OpUpsert      = "upsert"
	OpDeleteWhere = "delete_where"
	OpTx          = "tx"
)

// MemoryStore is an in-memory repositorycache.Store for tests. It counts calls
// per operation and can be told to fail them.
type MemoryStore[T any] struct {
	mu       sync.Mutex
	records  map[string]T
	idFunc   func(T) string
	calls    map[string]int
	failNext map[string]error
	failAll  map[string]error
	delay    time.Duration
}

// NewMemoryStore returns an empty store that keys records with idFunc.
func NewMemoryStore[T any](idFunc func(T) string, records ...T) *MemoryStore[T] {
	s := &MemoryStore[T]{
		records:  make(map[string]T),
		idFunc:   idFunc,
		calls:    make(map[string]int),
		failNext: make(map[string]error),
		failAll:  make(map[string]error),
	}
	s.Put(records...)
	return s
}

// Put writes records directly, bypassing counters and failures. It stands in
// for changes made by another process.
func (s *MemoryStore[T]) Put(records ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.records[s.idFunc(record)] = record
	}
}

// Remove deletes a record directly.
func (s *MemoryStore[T]) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// FailNext makes the next call of op return err.
func (s *MemoryStore[T]) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = err
}

// FailAlways makes every call of op return err until cleared with a nil err.
func (s *MemoryStore[T]) FailAlways(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failAll, op)
		return
	}
	s.failAll[op] = err
}

// SetDelay slows every operation down, handy to widen races.
func (s *MemoryStore[T]) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Calls returns how many times op was invoked.
func (s *MemoryStore[T]) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Len returns the number of stored records.
func (s *MemoryStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := s.begin(ctx, OpGet); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return zero, fmt.Errorf("get %s: %w", id, repositorycache.ErrNotFound)
	}
	return record, nil
}

func (s *MemoryStore[T]) Create(ctx context.Context, record T) (T, error) {
	var zero T
	if err := s.begin(ctx, OpCreate); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.idFunc(record)
	if id == "" {
		return zero, fmt.Errorf("create: record has no id")
	}
	if _, exists := s.records[id]; exists {
		return zero, fmt.Errorf("create %s: duplicate id", id)
	}
	s.records[id] = record
	return record, nil
}

func (s *MemoryStore[T]) Update(ctx context.Context, record T) (T, error) {
	var zero T
	if err := s.begin(ctx, OpUpdate); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.idFunc(record)
	if _, exists := s.records[id]; !exists {
		return zero, fmt.Errorf("update %s: %w", id, repositorycache.ErrNotFound)
	}
	s.records[id] = record
	return record, nil
}

func (s *MemoryStore[T]) Delete(ctx context.Context, id string) error {
	if err := s.begin(ctx, OpDelete); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; !exists {
		return fmt.Errorf("delete %s: %w", id, repositorycache.ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

// CreateMany writes every record or none of them.
func (s *MemoryStore[T]) CreateMany(ctx context.Context, records []T) ([]T, error) {
	if err := s.begin(ctx, OpCreateMany); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		id := s.idFunc(record)
		if id == "" {
			return nil, fmt.Errorf("create many: record has no id")
		}
		if _, exists := s.records[id]; exists {
			return nil, fmt.Errorf("create many %s: duplicate id", id)
		}
	}
	for _, record := range records {
		s.records[s.idFunc(record)] = record
	}
	return records, nil
}

// UpdateMany writes every record or none of them.
func (s *MemoryStore[T]) UpdateMany(ctx context.Context, records []T) ([]T, error) {
	if err := s.begin(ctx, OpUpdateMany); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		id := s.idFunc(record)
		if _, exists := s.records[id]; !exists {
			return nil, fmt.Errorf("update many %s: %w", id, repositorycache.ErrNotFound)
		}
	}
	for _, record := range records {
		s.records[s.idFunc(record)] = record
	}
	return records, nil
}

func (s *MemoryStore[T]) Upsert(ctx context.Context, record T) (T, error) {
	var zero T
	if err := s.begin(ctx, OpUpsert); err != nil {
		return zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.idFunc(record)
	if id == "" {
		return zero, fmt.Errorf("upsert: record has no id")
	}
	s.records[id] = record
	return record, nil
}

func (s *MemoryStore[T]) DeleteWhere(ctx context.Context, filters repositorycache.Filters) error {
	if err := s.begin(ctx, OpDeleteWhere); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, record := range s.records {
		if matches(record, filters) {
			delete(s.records, id)
		}
	}
	return nil
}

// RunInTx snapshots the records and restores them when fn fails. Writes are
// not isolated from concurrent callers.
func (s *MemoryStore[T]) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositorycache.Store[T]) error) error {
	if err := s.begin(ctx, OpTx); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := make(map[string]T, len(s.records))
	for id, record := range s.records {
		snapshot[id] = record
	}
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.records = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Query matches filters against exported struct fields, comparing names case
// insensitively and values by their %v form. Results are ordered by id.
func (s *MemoryStore[T]) Query(ctx context.Context, filters repositorycache.Filters) ([]T, error) {
	if err := s.begin(ctx, OpQuery); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []T
	for _, id := range ids {
		record := s.records[id]
		if matches(record, filters) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *MemoryStore[T]) begin(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	delay := s.delay
	err := s.failNext[op]
	delete(s.failNext, op)
	if err == nil {
		err = s.failAll[op]
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func matches(record any, filters repositorycache.Filters) bool {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return len(filters) == 0
	}

	for name, want := range filters {
		field := v.FieldByNameFunc(func(f string) bool {
			return strings.EqualFold(f, name)
		})
		if !field.IsValid() || !field.CanInterface() {
			return false
		}
		if fmt.Sprintf("%v", field.Interface()) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

var (
	_ repositorycache.Store[any]      = (*MemoryStore[any])(nil)
	_ repositorycache.BatchStore[any] = (*MemoryStore[any])(nil)
	_ repositorycache.TxStore[any]    = (*MemoryStore[any])(nil)
)

package cacheinfra

import (
	"context"
	"time"

	"github.com/goliatone/go-cache-connector/cache"
)

// Noop stores nothing. Every Get is a miss and every write succeeds.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (Noop) Kind() cache.ProviderKind {
	return cache.ProviderNoop
}

func (Noop) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (Noop) Set(context.Context, string, []byte, time.Duration, []string) error {
	return nil
}

func (Noop) Delete(context.Context, string) error {
	return nil
}

func (Noop) InvalidateByTags(context.Context, []string) error {
	return nil
}

func (Noop) Close() error {
	return nil
}

var _ cache.Provider = Noop{}

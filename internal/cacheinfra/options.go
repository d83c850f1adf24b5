package cacheinfra

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a provider.
type Option func(*options)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

func defaultOptions() *options {
	return &options{
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithLogger sets the logger used for background work and degraded events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

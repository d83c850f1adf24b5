package cacheinfra

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goliatone/go-cache-connector/cache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Key layout under the configured prefix:
//
//	<prefix>e:<key>  entry value, PX ttl
//	<prefix>t:<tag>  set of keys carrying tag
//	<prefix>k:<key>  set of tags carried by key, same ttl as the entry
//
// Tag sets never expire before their longest lived member. The per key tag set
// lets Set drop the key from tags it no longer carries and lets invalidation
// skip stale members, so a tag only ever removes entries that still carry it.
const (
	entrySegment   = "e:"
	tagSegment     = "t:"
	keyTagsSegment = "k:"
)

// KEYS[1] entry key, KEYS[2] key tags key
// ARGV[1] value, ARGV[2] ttl ms, ARGV[3] tag prefix, ARGV[4] raw key, ARGV[5..] tags
var setScript = redis.NewScript(`
local ttl = tonumber(ARGV[2])
for _, t in ipairs(redis.call('SMEMBERS', KEYS[2])) do
	redis.call('SREM', ARGV[3] .. t, ARGV[4])
end
redis.call('DEL', KEYS[2])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
for i = 5, #ARGV do
	local tk = ARGV[3] .. ARGV[i]
	redis.call('SADD', KEYS[2], ARGV[i])
	redis.call('SADD', tk, ARGV[4])
	if redis.call('PTTL', tk) < ttl then
		redis.call('PEXPIRE', tk, ttl)
	end
end
if #ARGV >= 5 then
	redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

// KEYS[1] entry key, KEYS[2] key tags key
// ARGV[1] tag prefix, ARGV[2] raw key
var deleteScript = redis.NewScript(`
for _, t in ipairs(redis.call('SMEMBERS', KEYS[2])) do
	redis.call('SREM', ARGV[1] .. t, ARGV[2])
end
return redis.call('DEL', KEYS[1], KEYS[2])
`)

// ARGV[1] entry prefix, ARGV[2] tag prefix, ARGV[3] key tags prefix, ARGV[4..] tags
var invalidateScript = redis.NewScript(`
local removed = 0
for i = 4, #ARGV do
	local tag = ARGV[i]
	local tk = ARGV[2] .. tag
	for _, m in ipairs(redis.call('SMEMBERS', tk)) do
		local kt = ARGV[3] .. m
		if redis.call('SISMEMBER', kt, tag) == 1 then
			for _, t in ipairs(redis.call('SMEMBERS', kt)) do
				if t ~= tag then
					redis.call('SREM', ARGV[2] .. t, m)
				end
			end
			redis.call('DEL', ARGV[1] .. m, kt)
			removed = removed + 1
		end
	end
	redis.call('DEL', tk)
end
return removed
`)

// Remote is a provider backed by a single Redis node.
//
// All calls go through a circuit breaker: once the failure threshold trips,
// calls fail fast with ErrProviderUnavailable until the breaker half-opens.
// Misses and calls abandoned by their own context count as successes.
//
// The invalidation script derives key names from tag set members, so it is
// not safe under Redis Cluster and the provider only accepts a *redis.Client.
type Remote struct {
	client     *redis.Client
	breaker    *gobreaker.CircuitBreaker
	prefix     string
	ownsClient bool
	opts       *options
}

type remoteHit struct {
	value []byte
}

// DialRemote connects to cfg.Addr, pinging it with bounded retries.
func DialRemote(ctx context.Context, cfg cache.RemoteSettings, opts ...Option) (*Remote, error) {
	if cfg.Addr == "" {
		return nil, &cache.ConfigError{Field: "Remote.Addr", Message: "is required"}
	}

	redisOpts := &redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLS {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = cfg.Addr
		}
		redisOpts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		}
	}

	client := redis.NewClient(redisOpts)
	o := applyOptions(opts)

	err := retry.Do(
		func() error {
			return client.Ping(ctx).Err()
		},
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.MaxDelay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			o.logger.Warn("remote cache ping failed, retrying",
				zap.String("addr", cfg.Addr),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		client.Close()
		return nil, cache.Unavailable(cache.ProviderRemote, "connect", "", errors.Wrapf(err, "ping %s", cfg.Addr))
	}

	r := NewRemote(client, cfg, opts...)
	r.ownsClient = true
	return r, nil
}

// NewRemote wraps an existing single node client. The caller keeps ownership
// of client.
func NewRemote(client *redis.Client, cfg cache.RemoteSettings, opts ...Option) *Remote {
	o := applyOptions(opts)

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache-remote",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			o.logger.Warn("remote cache breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Remote{
		client:  client,
		breaker: breaker,
		prefix:  cfg.KeyPrefix,
		opts:    o,
	}
}

func (r *Remote) Kind() cache.ProviderKind {
	return cache.ProviderRemote
}

func (r *Remote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := r.breaker.Execute(func() (any, error) {
		data, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return remoteHit{value: data}, nil
	})
	if err != nil {
		return nil, false, cache.Unavailable(cache.ProviderRemote, "get", key, err)
	}

	hit, ok := res.(remoteHit)
	if !ok {
		return nil, false, nil
	}
	return hit.value, true, nil
}

func (r *Remote) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	entry, err := cache.NewEntry(key, value, ttl, tags, r.opts.now())
	if err != nil {
		return err
	}

	args := make([]any, 0, len(entry.Tags)+4)
	args = append(args, entry.Value, ttl.Milliseconds(), r.prefix+tagSegment, entry.Key)
	for _, tag := range entry.Tags {
		args = append(args, tag)
	}
	if ttl < time.Millisecond {
		args[1] = int64(1)
	}

	_, err = r.breaker.Execute(func() (any, error) {
		return nil, setScript.Run(ctx, r.client, []string{r.entryKey(key), r.keyTagsKey(key)}, args...).Err()
	})
	return cache.Unavailable(cache.ProviderRemote, "set", key, err)
}

func (r *Remote) Delete(ctx context.Context, key string) error {
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, deleteScript.Run(ctx, r.client,
			[]string{r.entryKey(key), r.keyTagsKey(key)},
			r.prefix+tagSegment, key,
		).Err()
	})
	return cache.Unavailable(cache.ProviderRemote, "delete", key, err)
}

func (r *Remote) InvalidateByTags(ctx context.Context, tags []string) error {
	tags = cache.DedupeTags(tags)
	if len(tags) == 0 {
		return nil
	}

	args := make([]any, 0, len(tags)+3)
	args = append(args, r.prefix+entrySegment, r.prefix+tagSegment, r.prefix+keyTagsSegment)
	for _, tag := range tags {
		args = append(args, tag)
	}

	_, err := r.breaker.Execute(func() (any, error) {
		return nil, invalidateScript.Run(ctx, r.client, nil, args...).Err()
	})
	return cache.Unavailable(cache.ProviderRemote, "invalidate", "", err)
}

// Close closes the client when it was dialed here.
func (r *Remote) Close() error {
	if r.ownsClient {
		return r.client.Close()
	}
	return nil
}

// BreakerState reports the circuit breaker state.
func (r *Remote) BreakerState() gobreaker.State {
	return r.breaker.State()
}

func (r *Remote) entryKey(key string) string {
	return r.prefix + entrySegment + key
}

func (r *Remote) keyTagsKey(key string) string {
	return r.prefix + keyTagsSegment + key
}

var _ cache.Provider = (*Remote)(nil)

// Package settings loads cache.Settings from a config file and the environment.
package settings

import (
	"strings"
	"time"

	"github.com/goliatone/go-cache-connector/cache"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CACHE_DEFAULT_PROVIDER.
const EnvPrefix = "CACHE"

// Configuration keys. Nested keys map to environment variables with dots
// replaced by underscores: memory.max_bytes is CACHE_MEMORY_MAX_BYTES.
const (
	KeyEnabled           = "enabled"
	KeyDefaultProvider   = "default_provider"
	KeyDefaultTTLSeconds = "default_ttl_seconds"
	KeyNamespace         = "namespace"
	KeyOperationTimeout  = "operation_timeout"

	KeyMemoryMaxBytes        = "memory.max_bytes"
	KeyMemoryCleanupInterval = "memory.cleanup_interval"

	KeyShardedCapacity           = "sharded.capacity"
	KeyShardedNumShards          = "sharded.num_shards"
	KeyShardedEvictionPercentage = "sharded.eviction_percentage"
	KeyShardedEvictionInterval   = "sharded.eviction_interval"
	KeyShardedMaxTTL             = "sharded.max_ttl"

	KeyDocumentDriver          = "document.driver"
	KeyDocumentDSN             = "document.dsn"
	KeyDocumentTable           = "document.table"
	KeyDocumentMaxValueBytes   = "document.max_value_bytes"
	KeyDocumentCleanupSchedule = "document.cleanup_schedule"

	KeyRemoteAddr            = "remote.addr"
	KeyRemoteUsername        = "remote.username"
	KeyRemotePassword        = "remote.password"
	KeyRemoteDB              = "remote.db"
	KeyRemoteTLS             = "remote.tls"
	KeyRemoteKeyPrefix       = "remote.key_prefix"
	KeyRemotePoolSize        = "remote.pool_size"
	KeyRemoteDialTimeout     = "remote.dial_timeout"
	KeyRemoteBreakerTimeout  = "remote.breaker_timeout"
	KeyRemoteBreakerFailures = "remote.breaker_failures"
)

// NewViper returns a viper instance reading CACHE_ environment variables with
// every key defaulted from cache.DefaultSettings.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := cache.DefaultSettings()
	defaults := map[string]any{
		KeyEnabled:           d.Enabled,
		KeyDefaultProvider:   d.DefaultProvider.String(),
		KeyDefaultTTLSeconds: int(d.DefaultTTL / time.Second),
		KeyNamespace:         d.Namespace,
		KeyOperationTimeout:  d.OperationTimeout,

		KeyMemoryMaxBytes:        d.Memory.MaxBytes,
		KeyMemoryCleanupInterval: d.Memory.CleanupInterval,

		KeyShardedCapacity:           d.Sharded.Capacity,
		KeyShardedNumShards:          d.Sharded.NumShards,
		KeyShardedEvictionPercentage: d.Sharded.EvictionPercentage,
		KeyShardedEvictionInterval:   d.Sharded.EvictionInterval,
		KeyShardedMaxTTL:             d.Sharded.MaxTTL,

		KeyDocumentDriver:          d.Document.Driver,
		KeyDocumentDSN:             d.Document.DSN,
		KeyDocumentTable:           d.Document.Table,
		KeyDocumentMaxValueBytes:   d.Document.MaxValueBytes,
		KeyDocumentCleanupSchedule: d.Document.CleanupSchedule,

		KeyRemoteAddr:            d.Remote.Addr,
		KeyRemoteUsername:        d.Remote.Username,
		KeyRemotePassword:        d.Remote.Password,
		KeyRemoteDB:              d.Remote.DB,
		KeyRemoteTLS:             d.Remote.TLS,
		KeyRemoteKeyPrefix:       d.Remote.KeyPrefix,
		KeyRemotePoolSize:        d.Remote.PoolSize,
		KeyRemoteDialTimeout:     d.Remote.DialTimeout,
		KeyRemoteBreakerTimeout:  d.Remote.BreakerTimeout,
		KeyRemoteBreakerFailures: d.Remote.BreakerFailures,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Load reads configFile when it is not empty and returns validated settings.
// Environment variables win over the file, which wins over the defaults.
func Load(v *viper.Viper, configFile string) (cache.Settings, error) {
	if v == nil {
		v = NewViper()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return cache.Settings{}, &cache.ConfigError{Field: "ConfigFile", Message: err.Error()}
		}
	}

	s := cache.Settings{
		Enabled:          v.GetBool(KeyEnabled),
		DefaultProvider:  cache.ProviderKind(strings.ToLower(v.GetString(KeyDefaultProvider))),
		DefaultTTL:       time.Duration(v.GetInt(KeyDefaultTTLSeconds)) * time.Second,
		Namespace:        v.GetString(KeyNamespace),
		OperationTimeout: v.GetDuration(KeyOperationTimeout),
		Memory: cache.MemorySettings{
			MaxBytes:        v.GetInt64(KeyMemoryMaxBytes),
			CleanupInterval: v.GetDuration(KeyMemoryCleanupInterval),
		},
		Sharded: cache.ShardedSettings{
			Capacity:           v.GetInt(KeyShardedCapacity),
			NumShards:          v.GetInt(KeyShardedNumShards),
			EvictionPercentage: v.GetInt(KeyShardedEvictionPercentage),
			EvictionInterval:   v.GetDuration(KeyShardedEvictionInterval),
			MaxTTL:             v.GetDuration(KeyShardedMaxTTL),
		},
		Document: cache.DocumentSettings{
			Driver:          v.GetString(KeyDocumentDriver),
			DSN:             v.GetString(KeyDocumentDSN),
			Table:           v.GetString(KeyDocumentTable),
			MaxValueBytes:   v.GetInt(KeyDocumentMaxValueBytes),
			CleanupSchedule: v.GetString(KeyDocumentCleanupSchedule),
		},
		Remote: cache.RemoteSettings{
			Addr:            v.GetString(KeyRemoteAddr),
			Username:        v.GetString(KeyRemoteUsername),
			Password:        v.GetString(KeyRemotePassword),
			DB:              v.GetInt(KeyRemoteDB),
			TLS:             v.GetBool(KeyRemoteTLS),
			KeyPrefix:       v.GetString(KeyRemoteKeyPrefix),
			PoolSize:        v.GetInt(KeyRemotePoolSize),
			DialTimeout:     v.GetDuration(KeyRemoteDialTimeout),
			BreakerTimeout:  v.GetDuration(KeyRemoteBreakerTimeout),
			BreakerFailures: v.GetUint32(KeyRemoteBreakerFailures),
		},
	}

	if err := s.Validate(); err != nil {
		return cache.Settings{}, err
	}
	return s, nil
}

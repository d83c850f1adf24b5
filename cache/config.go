package cache

import (
	"errors"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Settings is the global cache configuration, consumed at process start.
type Settings struct {
	// Enabled is the master switch. When false every cached path is a miss-through.
	Enabled bool

	// DefaultProvider is used when neither the repository nor the call picks one.
	DefaultProvider ProviderKind

	// DefaultTTL applies when neither the repository nor the call sets a TTL.
	DefaultTTL time.Duration

	// Namespace is the first key segment. Changing it abandons the previous generation.
	Namespace string

	// OperationTimeout bounds every provider call.
	OperationTimeout time.Duration

	Memory   MemorySettings
	Sharded  ShardedSettings
	Document DocumentSettings
	Remote   RemoteSettings
}

// MemorySettings configures the in-process provider.
type MemorySettings struct {
	// MaxBytes bounds the sum of key, value and tag bytes held in memory.
	MaxBytes int64
	// CleanupInterval is how often expired entries are swept. Zero disables the sweep.
	CleanupInterval time.Duration
}

// ShardedSettings mirrors the sturdyc client options.
type ShardedSettings struct {
	Capacity           int
	NumShards          int
	EvictionPercentage int
	EvictionInterval   time.Duration
	// MaxTTL is the client wide expiry; per entry TTLs are enforced on read.
	MaxTTL time.Duration
}

// DocumentSettings configures the database backed provider.
type DocumentSettings struct {
	// Driver is "sqlite3" or "postgres".
	Driver string
	DSN    string
	// Table holds entries; tag membership lives in Table + "_tags".
	Table string
	// MaxValueBytes is the per document size limit.
	MaxValueBytes int
	// CleanupSchedule is a cron spec for the expired rows sweep. Empty disables it.
	CleanupSchedule string
}

// RemoteSettings configures the Redis backed provider.
type RemoteSettings struct {
	Addr            string
	Username        string
	Password        string
	DB              int
	TLS             bool
	KeyPrefix       string
	PoolSize        int
	DialTimeout     time.Duration
	BreakerTimeout  time.Duration
	BreakerFailures uint32
}

// DocumentDrivers lists the supported SQL drivers for the document provider.
var DocumentDrivers = []any{"sqlite3", "postgres"}

// DefaultSettings returns Settings populated with sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled:          true,
		DefaultProvider:  ProviderMemory,
		DefaultTTL:       5 * time.Minute,
		Namespace:        "cache",
		OperationTimeout: 500 * time.Millisecond,
		Memory: MemorySettings{
			MaxBytes:        64 << 20,
			CleanupInterval: time.Minute,
		},
		Sharded: ShardedSettings{
			Capacity:           10000,
			NumShards:          256,
			EvictionPercentage: 10,
			MaxTTL:             24 * time.Hour,
		},
		Document: DocumentSettings{
			Driver:          "sqlite3",
			Table:           "cache_entries",
			MaxValueBytes:   1 << 20,
			CleanupSchedule: "@every 5m",
		},
		Remote: RemoteSettings{
			Addr:            "localhost:6379",
			KeyPrefix:       "cache:",
			PoolSize:        10,
			DialTimeout:     5 * time.Second,
			BreakerTimeout:  30 * time.Second,
			BreakerFailures: 5,
		},
	}
}

// Validate checks whether the settings are usable. Errors match ErrConfiguration.
func (s Settings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.DefaultProvider, validation.Required, validation.By(validProviderKind)),
		validation.Field(&s.DefaultTTL, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&s.OperationTimeout, validation.Required, validation.Min(time.Duration(1))),
	)
	if err != nil {
		return configError("", err)
	}

	if err := s.Memory.validate(); err != nil {
		return configError("Memory.", err)
	}
	if err := s.Sharded.validate(); err != nil {
		return configError("Sharded.", err)
	}
	if err := s.Document.validate(s.DefaultProvider == ProviderDocument); err != nil {
		return configError("Document.", err)
	}
	if err := s.Remote.validate(s.DefaultProvider == ProviderRemote); err != nil {
		return configError("Remote.", err)
	}
	return nil
}

func (m MemorySettings) validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.MaxBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&m.CleanupInterval, validation.Min(time.Duration(0))),
	)
}

func (s ShardedSettings) validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&s.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&s.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&s.EvictionInterval, validation.Min(time.Duration(0))),
		validation.Field(&s.MaxTTL, validation.Required, validation.Min(time.Second)),
	)
}

func (d DocumentSettings) validate(required bool) error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In(DocumentDrivers...)),
		validation.Field(&d.DSN, validation.When(required, validation.Required)),
		validation.Field(&d.Table, validation.Required, validation.Length(1, 63)),
		validation.Field(&d.MaxValueBytes, validation.Required, validation.Min(1)),
	)
}

func (r RemoteSettings) validate(required bool) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Addr, validation.When(required, validation.Required)),
		validation.Field(&r.DB, validation.Min(0)),
		validation.Field(&r.PoolSize, validation.Min(0)),
		validation.Field(&r.BreakerFailures, validation.Required),
	)
}

// InvalidationScope selects which tags a write invalidates.
type InvalidationScope int

const (
	// InvalidateEntityAndCollection drops the entity tag and the collection tag.
	InvalidateEntityAndCollection InvalidationScope = iota
	// InvalidateEntityAndQueries drops the entity tag and cached query results only.
	InvalidateEntityAndQueries
)

// RepositoryConfig is the per repository cache opt-in.
type RepositoryConfig struct {
	// Enabled defaults to false; every repository must opt in.
	Enabled bool
	// Provider overrides Settings.DefaultProvider for this repository.
	Provider ProviderKind
	// TTL is required when Enabled is true.
	TTL time.Duration
	// KeyPrefix is the second key segment, usually the entity type.
	KeyPrefix string
	// Tags are added to every entry populated by the repository.
	Tags []string
	// Invalidation selects the tags dropped on update and delete.
	Invalidation InvalidationScope
	// PopulateOnCreate stores freshly created records in the cache.
	PopulateOnCreate bool
}

// Validate rejects unusable repository settings. It runs when the repository
// is constructed, never at call time.
func (c RepositoryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0 when caching is enabled"}
	}
	if c.Provider != "" && !c.Provider.Valid() {
		return &ConfigError{Field: "Provider", Message: "unknown provider " + string(c.Provider)}
	}
	if err := ValidateTags(DedupeTags(c.Tags)); err != nil {
		return &ConfigError{Field: "Tags", Message: err.Error()}
	}
	return nil
}

// CallOptions are the per call overrides.
type CallOptions struct {
	ForceRefresh bool
	TTL          time.Duration
	Tags         []string
	Provider     ProviderKind
}

// CallOption configures CallOptions.
type CallOption func(*CallOptions)

// ForceRefresh skips the cache lookup and always re-fetches and re-populates.
func ForceRefresh() CallOption {
	return func(o *CallOptions) {
		o.ForceRefresh = true
	}
}

// WithTTL overrides the TTL for a single call.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *CallOptions) {
		o.TTL = ttl
	}
}

// WithTags adds tags for a single call.
func WithTags(tags ...string) CallOption {
	return func(o *CallOptions) {
		o.Tags = append(o.Tags, tags...)
	}
}

// WithProvider selects the provider for a single call.
func WithProvider(kind ProviderKind) CallOption {
	return func(o *CallOptions) {
		o.Provider = kind
	}
}

// ApplyCallOptions folds opts into a CallOptions value.
func ApplyCallOptions(opts ...CallOption) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// EffectiveConfig is the resolved configuration of a single cache operation.
type EffectiveConfig struct {
	Enabled      bool
	Provider     ProviderKind
	TTL          time.Duration
	KeyPrefix    string
	Tags         []string
	ForceRefresh bool
}

// Resolve merges the global, repository and call layers, later layers winning.
// The global switch short-circuits everything else.
func Resolve(global Settings, repo RepositoryConfig, call CallOptions) EffectiveConfig {
	eff := EffectiveConfig{
		Enabled:      global.Enabled && repo.Enabled,
		Provider:     global.DefaultProvider,
		TTL:          global.DefaultTTL,
		KeyPrefix:    repo.KeyPrefix,
		ForceRefresh: call.ForceRefresh,
	}
	if !eff.Enabled {
		eff.Provider = ProviderNoop
		return eff
	}

	if repo.Provider != "" {
		eff.Provider = repo.Provider
	}
	if call.Provider != "" {
		eff.Provider = call.Provider
	}
	if repo.TTL > 0 {
		eff.TTL = repo.TTL
	}
	if call.TTL > 0 {
		eff.TTL = call.TTL
	}

	tags := make([]string, 0, len(repo.Tags)+len(call.Tags))
	tags = append(tags, repo.Tags...)
	tags = append(tags, call.Tags...)
	eff.Tags = DedupeTags(tags)

	return eff
}

func validProviderKind(value any) error {
	kind, _ := value.(ProviderKind)
	if !kind.Valid() {
		return errors.New("must be one of memory, sharded, document, remote, noop")
	}
	return nil
}

func configError(prefix string, err error) error {
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for field := range fieldErrs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		field := fields[0]
		return &ConfigError{Field: prefix + field, Message: fieldErrs[field].Error()}
	}
	return &ConfigError{Field: prefix, Message: err.Error()}
}

package di

import (
	"github.com/goliatone/go-cache-connector/cache"
	"github.com/goliatone/go-cache-connector/connector"
	"github.com/goliatone/go-cache-connector/internal/settings"
	"github.com/goliatone/go-cache-connector/repositorycache"
	repository "github.com/goliatone/go-repository-bun"
)

// Container wires the cache components of a process. It owns a single
// connector and key serializer shared by every cached repository it builds.
type Container struct {
	conn          *connector.Connector
	keySerializer cache.KeySerializer
	settings      cache.Settings
}

// NewContainer validates settings and builds the connector. Providers are
// constructed lazily on first use, so no backend is contacted here.
func NewContainer(s cache.Settings, opts ...connector.Option) (*Container, error) {
	conn, err := connector.New(s, opts...)
	if err != nil {
		return nil, err
	}

	return &Container{
		conn:          conn,
		keySerializer: cache.NewDefaultKeySerializer(),
		settings:      conn.Settings(),
	}, nil
}

// NewContainerWithDefaults builds a container from cache.DefaultSettings.
func NewContainerWithDefaults(opts ...connector.Option) (*Container, error) {
	return NewContainer(cache.DefaultSettings(), opts...)
}

// NewContainerFromConfig loads settings from configFile, when not empty, and
// CACHE_ environment variables.
func NewContainerFromConfig(configFile string, opts ...connector.Option) (*Container, error) {
	s, err := settings.Load(settings.NewViper(), configFile)
	if err != nil {
		return nil, err
	}
	return NewContainer(s, opts...)
}

// Connector returns the shared connector.
func (c *Container) Connector() *connector.Connector {
	return c.conn
}

// KeySerializer returns the shared key serializer.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Settings returns the settings the connector was built with.
func (c *Container) Settings() cache.Settings {
	return c.settings
}

// Close releases every provider the connector constructed.
func (c *Container) Close() error {
	return c.conn.Close()
}

// NewCachedRepository decorates store with the container's connector.
//
// Go methods cannot have type parameters, so this is a package-level function:
//
//	users, err := di.NewCachedRepository[User](container, store, cfg)
func NewCachedRepository[T any](c *Container, store repositorycache.Store[T], cfg cache.RepositoryConfig, opts ...repositorycache.Option[T]) (*repositorycache.CachedRepository[T], error) {
	opts = append([]repositorycache.Option[T]{repositorycache.WithKeySerializer[T](c.keySerializer)}, opts...)
	return repositorycache.New(store, c.conn, cfg, opts...)
}

// NewBunCachedRepository decorates a go-repository-bun repository.
func NewBunCachedRepository[T any](c *Container, base repository.Repository[T], cfg cache.RepositoryConfig, opts ...repositorycache.Option[T]) (*repositorycache.CachedRepository[T], error) {
	return NewCachedRepository(c, repositorycache.NewBunStore(base), cfg, opts...)
}

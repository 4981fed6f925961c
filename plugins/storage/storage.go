// Package storage registers the persistence backend as a plugin. The backend
// is chosen by the `storage.driver` config key and opened when the server
// starts, retrying with exponential backoff while the database is
// unreachable.
//
//	s := grantd.New(
//		grantd.WithPlugin(storage.Plugin()),
//		grantd.WithPlugin(oauth.Plugin()),
//	)
//
//	func (p *MyPlugin) Init(ctx context.Context, r *grantd.Registry) error {
//		p.store = r.Get(storage.PluginName).(*storage.StoragePlugin)
//		return nil
//	}
package storage

import (
	"context"
	"time"

	"github.com/lumenweb/grantd"
	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/logging"
	"github.com/lumenweb/grantd/storage"
	"github.com/lumenweb/grantd/storage/memory"
	"github.com/lumenweb/grantd/storage/postgres"
	"github.com/lumenweb/grantd/storage/redis"
	"github.com/lumenweb/grantd/storage/sqlite"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/grpc/codes"
)

// PluginName can be used to query the storage plugin.
const PluginName = "storage"

// Drivers understood by `storage.driver`.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// ErrUnknownDriver is returned for an unsupported `storage.driver`.
var ErrUnknownDriver = errors.NewC("storage: unknown driver", codes.InvalidArgument)

func init() {
	grantd.RegisterConfigKeys(
		grantd.ConfigKeyInfo{
			Key:         "storage.driver",
			Description: "Storage backend: memory, sqlite, postgres, or redis",
			Type:        "string",
			Default:     DriverMemory,
		},
		grantd.ConfigKeyInfo{
			Key:         "storage.dsn",
			Description: "SQLite path or Postgres connection string",
			Type:        "string",
		},
		grantd.ConfigKeyInfo{
			Key:         "storage.redis.addr",
			Description: "Redis host:port",
			Type:        "string",
		},
		grantd.ConfigKeyInfo{
			Key:         "storage.redis.password",
			Description: "Redis password",
			Type:        "string",
		},
		grantd.ConfigKeyInfo{
			Key:         "storage.redis.db",
			Description: "Redis database number",
			Type:        "int",
			Default:     0,
		},
		grantd.ConfigKeyInfo{
			Key:         "storage.redis.keyPrefix",
			Description: "Prefix for every Redis key",
			Type:        "string",
			Default:     redis.DefaultKeyPrefix,
		},
		grantd.ConfigKeyInfo{
			Key:         "storage.connectRetries",
			Description: "Attempts made to reach the database at startup",
			Type:        "int",
			Default:     5,
		},
	)
}

// Option customizes the storage plugin.
type Option func(*StoragePlugin)

// WithStore uses an already opened store instead of one built from config.
// The plugin still closes it on shutdown.
func WithStore(s storage.Store) Option {
	return func(p *StoragePlugin) { p.Store = s }
}

// WithDriver overrides `storage.driver`.
func WithDriver(driver string) Option {
	return func(p *StoragePlugin) { p.driver = driver }
}

// WithDSN overrides `storage.dsn`.
func WithDSN(dsn string) Option {
	return func(p *StoragePlugin) { p.dsn = dsn }
}

// WithRedis overrides the `storage.redis.*` keys.
func WithRedis(cfg redis.Config) Option {
	return func(p *StoragePlugin) { p.redis = &cfg }
}

// WithConnectRetries overrides `storage.connectRetries`.
func WithConnectRetries(n int) Option {
	return func(p *StoragePlugin) { p.retries = n }
}

// Plugin returns the storage plugin. Unset options fall back to config when
// the server starts.
func Plugin(opts ...Option) *StoragePlugin {
	p := &StoragePlugin{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StoragePlugin exposes the configured storage.Store to other plugins.
type StoragePlugin struct {
	storage.Store

	driver  string
	dsn     string
	redis   *redis.Config
	retries int

	// Delay before the first retry. Tests shorten it.
	initialInterval time.Duration
}

// From grantd.Plugin.
func (p *StoragePlugin) Name() string {
	return PluginName
}

// From grantd.InitializablePlugin.
func (p *StoragePlugin) Init(ctx context.Context, r *grantd.Registry) error {
	if p.Store != nil {
		return nil
	}
	p.applyConfig()
	logging.Infow(ctx, "storage: opening", "storage.driver", p.driver)

	bo := backoff.NewExponentialBackOff()
	if p.initialInterval > 0 {
		bo.InitialInterval = p.initialInterval
	}
	s, err := backoff.Retry(ctx, func() (storage.Store, error) {
		s, err := p.open(ctx)
		if err != nil && !errors.Is(err, storage.ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.retries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Warnw(ctx, "storage: connection failed, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return err
	}
	p.Store = s
	return nil
}

// From grantd.ShutdownPlugin.
func (p *StoragePlugin) Shutdown(ctx context.Context) error {
	if p.Store == nil {
		return nil
	}
	return p.Store.Close()
}

func (p *StoragePlugin) applyConfig() {
	if p.driver == "" {
		p.driver = grantd.ConfigString("storage.driver")
	}
	if p.dsn == "" {
		p.dsn = grantd.ConfigString("storage.dsn")
	}
	if p.redis == nil {
		p.redis = &redis.Config{
			Addr:      grantd.ConfigString("storage.redis.addr"),
			Password:  grantd.ConfigString("storage.redis.password"),
			DB:        grantd.ConfigInt("storage.redis.db"),
			KeyPrefix: grantd.ConfigString("storage.redis.keyPrefix"),
		}
	}
	if p.retries <= 0 {
		p.retries = grantd.ConfigInt("storage.connectRetries")
	}
	if p.retries <= 0 {
		p.retries = 1
	}
}

func (p *StoragePlugin) open(ctx context.Context) (storage.Store, error) {
	switch p.driver {
	case DriverMemory, "":
		return memory.New(), nil
	case DriverSQLite:
		if p.dsn == "" {
			return nil, errors.New("storage: sqlite requires storage.dsn")
		}
		s, err := sqlite.New(ctx, p.dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		if p.dsn == "" {
			return nil, errors.New("storage: postgres requires storage.dsn")
		}
		s, err := postgres.New(ctx, p.dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverRedis:
		s, err := redis.New(ctx, *p.redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, errors.Mark(ErrUnknownDriver, 0).Append(p.driver)
}

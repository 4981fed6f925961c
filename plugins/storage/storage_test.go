package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lumenweb/grantd/storage"
	"github.com/lumenweb/grantd/storage/memory"
	"github.com/lumenweb/grantd/storage/redis"
	"github.com/lumenweb/grantd/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlugin_DefaultsToMemory(t *testing.T) {
	p := Plugin(WithDriver(DriverMemory))
	require.NoError(t, p.Init(t.Context(), nil))
	t.Cleanup(func() { _ = p.Shutdown(t.Context()) })

	assert.IsType(t, &memory.Store{}, p.Store)
	assert.Equal(t, PluginName, p.Name())
}

func TestPlugin_WithStore(t *testing.T) {
	s := memory.New()
	p := Plugin(WithStore(s), WithDriver("bogus"))
	require.NoError(t, p.Init(t.Context(), nil))
	assert.Same(t, s, p.Store)
}

func TestPlugin_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "grantd.db")
	p := Plugin(WithDriver(DriverSQLite), WithDSN(dsn))
	require.NoError(t, p.Init(t.Context(), nil))
	t.Cleanup(func() { _ = p.Shutdown(t.Context()) })

	assert.IsType(t, &sqlite.Store{}, p.Store)

	ctx := t.Context()
	require.NoError(t, p.PutClient(ctx, &storage.Client{ID: "c1", RedirectURI: "https://app.example/cb"}))
	c, err := p.Client(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example/cb", c.RedirectURI)
}

func TestPlugin_SQLiteRequiresDSN(t *testing.T) {
	p := Plugin(WithDriver(DriverSQLite), WithConnectRetries(3))
	err := p.Init(t.Context(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.dsn")
}

func TestPlugin_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	p := Plugin(WithDriver(DriverRedis), WithRedis(redis.Config{Addr: mr.Addr(), KeyPrefix: "test:"}))
	require.NoError(t, p.Init(t.Context(), nil))
	t.Cleanup(func() { _ = p.Shutdown(t.Context()) })

	assert.IsType(t, &redis.Store{}, p.Store)
}

func TestPlugin_RedisUnreachableRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	p := Plugin(
		WithDriver(DriverRedis),
		WithRedis(redis.Config{Addr: addr, DialTimeout: 50 * time.Millisecond}),
		WithConnectRetries(2),
	)
	p.initialInterval = time.Millisecond

	err := p.Init(t.Context(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Nil(t, p.Store)
}

func TestPlugin_UnknownDriver(t *testing.T) {
	p := Plugin(WithDriver("cassandra"), WithConnectRetries(5))
	err := p.Init(t.Context(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDriver)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestPlugin_ShutdownWithoutStore(t *testing.T) {
	assert.NoError(t, Plugin().Shutdown(t.Context()))
}

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lumenweb/grantd/storage"
	"github.com/lumenweb/grantd/storage/storagetests"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(client, "test:"), mr
}

func TestRedisStore(t *testing.T) {
	storagetests.Run(t, func(t *testing.T) storage.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, DefaultKeyPrefix, s.prefix)

	_, err = New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNewUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Config{Addr: addr, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestCodeKeyExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCode(ctx, &storage.AuthorizationCode{
		Code:        "ttl",
		ClientID:    "client-1",
		UserID:      1,
		RedirectURI: "https://app.example.com/cb",
		Scopes:      "read",
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}))

	ttl := mr.TTL("test:code:ttl")
	assert.Greater(t, ttl, 10*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute+codeGrace)

	mr.FastForward(10*time.Minute + codeGrace + time.Second)
	_, err := s.ConsumeCode(ctx, "ttl")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRotateRemovesOldIndexes(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateToken(ctx, &storage.TokenPair{
		ID:           "pair-1",
		AccessToken:  "a1",
		RefreshToken: "r1",
		ClientID:     "client-1",
		UserID:       9,
		Scopes:       "read",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	_, err := s.RotateToken(ctx, "r1", "client-1", "a2", "r2", time.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.False(t, mr.Exists("test:access:a1"))
	assert.False(t, mr.Exists("test:refresh:r1"))
	assert.True(t, mr.Exists("test:access:a2"))
	assert.True(t, mr.Exists("test:refresh:r2"))
	assert.Equal(t, "a2", mr.HGet("test:token:pair-1", "access_token"))
}

func TestRotateCollision(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, tp := range []*storage.TokenPair{
		{ID: "p1", AccessToken: "a1", RefreshToken: "r1", ClientID: "c", UserID: 1, ExpiresAt: time.Now().Add(time.Hour)},
		{ID: "p2", AccessToken: "a2", RefreshToken: "r2", ClientID: "c", UserID: 1, ExpiresAt: time.Now().Add(time.Hour)},
	} {
		require.NoError(t, s.CreateToken(ctx, tp))
	}

	_, err := s.RotateToken(ctx, "r1", "c", "a2", "r9", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	got, err := s.TokenByAccess(ctx, "a1")
	require.NoError(t, err, "failed rotation must leave the pair intact")
	assert.Equal(t, "r1", got.RefreshToken)
}

package oauth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumenweb/grantd/storage"
	"github.com/lumenweb/grantd/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collidingStore reports the first n creations as collisions.
type collidingStore struct {
	*memory.Store
	collisions atomic.Int32
	attempts   atomic.Int32
}

func (s *collidingStore) CreateCode(ctx context.Context, c *storage.AuthorizationCode) error {
	s.attempts.Add(1)
	if s.collisions.Add(-1) >= 0 {
		return storage.ErrAlreadyExists
	}
	return s.Store.CreateCode(ctx, c)
}

func (s *collidingStore) CreateToken(ctx context.Context, t *storage.TokenPair) error {
	s.attempts.Add(1)
	if s.collisions.Add(-1) >= 0 {
		return storage.ErrAlreadyExists
	}
	return s.Store.CreateToken(ctx, t)
}

func TestCodeManager_RetriesCollisions(t *testing.T) {
	store := &collidingStore{Store: memory.New()}
	store.collisions.Store(2)

	c, err := NewCodeManager(store, 0).Issue(context.Background(), clientA, 1, redirectA, "read")
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.attempts.Load())
	assert.Len(t, c.Code, 32)
	assert.Regexp(t, "^[A-Za-z0-9]+$", c.Code)
}

func TestCodeManager_GivesUpAfterRepeatedCollisions(t *testing.T) {
	store := &collidingStore{Store: memory.New()}
	store.collisions.Store(100)

	_, err := NewCodeManager(store, 0).Issue(context.Background(), clientA, 1, redirectA, "read")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	assert.Equal(t, int32(maxCollisionAttempts), store.attempts.Load())
}

func TestCodeManager_Consume(t *testing.T) {
	m := NewCodeManager(memory.New(), time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }

	c, err := m.Issue(context.Background(), clientA, 9, redirectA, "read")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), c.ExpiresAt)

	got, err := m.Consume(context.Background(), c.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.UserID)

	_, err = m.Consume(context.Background(), c.Code)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	c, err = m.Issue(context.Background(), clientA, 9, redirectA, "read")
	require.NoError(t, err)
	now = now.Add(time.Minute)
	_, err = m.Consume(context.Background(), c.Code)
	assert.ErrorIs(t, err, ErrCodeExpired)
	_, err = m.Consume(context.Background(), c.Code)
	assert.ErrorIs(t, err, storage.ErrNotFound, "expired codes are removed")
}

func TestTokenManager_RetriesCollisions(t *testing.T) {
	store := &collidingStore{Store: memory.New()}
	store.collisions.Store(1)

	pair, err := NewTokenManager(store, 0).Issue(context.Background(), clientA, 3, "read")
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.attempts.Load())
	assert.Len(t, pair.AccessToken, 64)
	assert.Len(t, pair.RefreshToken, 64)
	assert.NotEmpty(t, pair.ID)
}

func TestTokenManager_ValidateUnknown(t *testing.T) {
	m := NewTokenManager(memory.New(), 0)
	_, err := m.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.Validate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestScopes(t *testing.T) {
	assert.Equal(t, "read write", normalizeScope("  read   write ", "x"))
	assert.Equal(t, "x", normalizeScope("   ", "x"))
	assert.True(t, scopeSubset("read", "read write"))
	assert.False(t, scopeSubset("read admin", "read write"))
	assert.True(t, scopeSubset("", ""))
}

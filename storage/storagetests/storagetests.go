// Package storagetests provides acceptance tests shared by every
// storage.Store implementation.
package storagetests

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Concurrency is the number of goroutines racing in the atomicity tests.
const Concurrency = 16

// Run executes the suite. newStore is called once per subtest and must return
// an empty store; the suite closes it.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	ctx := context.Background()

	open := func(t *testing.T) storage.Store {
		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("ClientRoundTrip", func(t *testing.T) {
		s := open(t)
		c := &storage.Client{
			ID:          "client-1",
			Secret:      "s3cret",
			Name:        "Example App",
			RedirectURI: "https://app.example.com/callback",
			Scopes:      "read write",
			CreatedAt:   now(),
		}
		require.NoError(t, s.PutClient(ctx, c))

		got, err := s.Client(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, c.Secret, got.Secret)
		assert.Equal(t, c.Name, got.Name)
		assert.Equal(t, c.RedirectURI, got.RedirectURI)
		assert.Equal(t, c.Scopes, got.Scopes)
		assert.WithinDuration(t, c.CreatedAt, got.CreatedAt, time.Second)

		c.Name = "Renamed"
		require.NoError(t, s.PutClient(ctx, c))
		got, err = s.Client(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)

		require.NoError(t, s.DeleteClient(ctx, "client-1"))
		_, err = s.Client(ctx, "client-1")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
		assert.True(t, errors.Is(s.DeleteClient(ctx, "client-1"), storage.ErrNotFound))
	})

	t.Run("ClientNotFound", func(t *testing.T) {
		s := open(t)
		_, err := s.Client(ctx, "missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("ClientValidation", func(t *testing.T) {
		s := open(t)
		err := s.PutClient(ctx, &storage.Client{ID: "x"})
		assert.True(t, errors.Is(err, storage.ErrInvalidRecord), "got %v", err)
	})

	t.Run("CodeRoundTrip", func(t *testing.T) {
		s := open(t)
		c := newCode("code-round-trip", now().Add(10*time.Minute))
		require.NoError(t, s.CreateCode(ctx, c))

		got, err := s.ConsumeCode(ctx, c.Code)
		require.NoError(t, err)
		assert.Equal(t, c.Code, got.Code)
		assert.Equal(t, c.ClientID, got.ClientID)
		assert.Equal(t, c.UserID, got.UserID)
		assert.Equal(t, c.RedirectURI, got.RedirectURI)
		assert.Equal(t, c.Scopes, got.Scopes)
		assert.WithinDuration(t, c.ExpiresAt, got.ExpiresAt, time.Second)

		_, err = s.ConsumeCode(ctx, c.Code)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "second consume must fail, got %v", err)
	})

	t.Run("CodeCollision", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateCode(ctx, newCode("dupe", now().Add(time.Minute))))

		other := newCode("dupe", now().Add(time.Hour))
		other.ClientID = "someone-else"
		err := s.CreateCode(ctx, other)
		assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "got %v", err)

		got, err := s.ConsumeCode(ctx, "dupe")
		require.NoError(t, err)
		assert.Equal(t, "client-1", got.ClientID, "original must not be overwritten")
	})

	t.Run("ExpiredCodeIsConsumed", func(t *testing.T) {
		s := open(t)
		c := newCode("expired", now().Add(-time.Minute))
		require.NoError(t, s.CreateCode(ctx, c))

		got, err := s.ConsumeCode(ctx, "expired")
		require.NoError(t, err)
		assert.True(t, got.Expired(time.Now()))

		_, err = s.ConsumeCode(ctx, "expired")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("ConcurrentConsume", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateCode(ctx, newCode("contended", now().Add(time.Minute))))

		var wins, losses int
		var mu sync.Mutex
		race(func() {
			_, err := s.ConsumeCode(ctx, "contended")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrNotFound):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
		assert.Equal(t, 1, wins)
		assert.Equal(t, Concurrency-1, losses)
	})

	t.Run("TokenRoundTrip", func(t *testing.T) {
		s := open(t)
		tp := newToken("client-1")
		require.NoError(t, s.CreateToken(ctx, tp))

		got, err := s.TokenByAccess(ctx, tp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, tp.ID, got.ID)
		assert.Equal(t, tp.RefreshToken, got.RefreshToken)
		assert.Equal(t, tp.ClientID, got.ClientID)
		assert.Equal(t, tp.UserID, got.UserID)
		assert.Equal(t, tp.Scopes, got.Scopes)
		assert.WithinDuration(t, tp.ExpiresAt, got.ExpiresAt, time.Second)

		_, err = s.TokenByAccess(ctx, "nope")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("TokenValidation", func(t *testing.T) {
		s := open(t)
		tp := newToken("client-1")
		tp.RefreshToken = tp.AccessToken
		err := s.CreateToken(ctx, tp)
		assert.True(t, errors.Is(err, storage.ErrInvalidRecord), "got %v", err)
	})

	t.Run("TokenCollision", func(t *testing.T) {
		s := open(t)
		first := newToken("client-1")
		require.NoError(t, s.CreateToken(ctx, first))

		second := newToken("client-1")
		second.AccessToken = first.AccessToken
		err := s.CreateToken(ctx, second)
		assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "got %v", err)
	})

	t.Run("RotateReplacesInPlace", func(t *testing.T) {
		s := open(t)
		tp := newToken("client-1")
		require.NoError(t, s.CreateToken(ctx, tp))

		exp := now().Add(time.Hour)
		rotated, err := s.RotateToken(ctx, tp.RefreshToken, "client-1", "access-2-"+uuid.NewString(), "refresh-2-"+uuid.NewString(), exp)
		require.NoError(t, err)
		assert.Equal(t, tp.ID, rotated.ID, "rotation must keep the same record")
		assert.Equal(t, tp.UserID, rotated.UserID)
		assert.Equal(t, tp.Scopes, rotated.Scopes)
		assert.NotEqual(t, tp.AccessToken, rotated.AccessToken)
		assert.NotEqual(t, tp.RefreshToken, rotated.RefreshToken)
		assert.WithinDuration(t, exp, rotated.ExpiresAt, time.Second)

		_, err = s.TokenByAccess(ctx, tp.AccessToken)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "old access token must be gone, got %v", err)

		_, err = s.RotateToken(ctx, tp.RefreshToken, "client-1", "a3-"+uuid.NewString(), "r3-"+uuid.NewString(), exp)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "old refresh token must be gone, got %v", err)

		got, err := s.TokenByAccess(ctx, rotated.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, rotated.RefreshToken, got.RefreshToken)

		_, err = s.RotateToken(ctx, rotated.RefreshToken, "client-1", "a4-"+uuid.NewString(), "r4-"+uuid.NewString(), exp)
		assert.NoError(t, err, "new refresh token must rotate once more")
	})

	t.Run("RotateRefusesOtherClient", func(t *testing.T) {
		s := open(t)
		tp := newToken("client-a")
		require.NoError(t, s.CreateToken(ctx, tp))

		_, err := s.RotateToken(ctx, tp.RefreshToken, "client-b", "a-"+uuid.NewString(), "r-"+uuid.NewString(), now().Add(time.Hour))
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		got, err := s.TokenByAccess(ctx, tp.AccessToken)
		require.NoError(t, err, "owner's pair must be untouched")
		assert.Equal(t, tp.RefreshToken, got.RefreshToken)
	})

	t.Run("ConcurrentRotate", func(t *testing.T) {
		s := open(t)
		tp := newToken("client-1")
		require.NoError(t, s.CreateToken(ctx, tp))

		var wins, losses int
		var mu sync.Mutex
		race(func() {
			id := uuid.NewString()
			_, err := s.RotateToken(ctx, tp.RefreshToken, "client-1", "a-"+id, "r-"+id, now().Add(time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrNotFound):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
		assert.Equal(t, 1, wins)
		assert.Equal(t, Concurrency-1, losses)
	})

	t.Run("PurgeExpiredCodes", func(t *testing.T) {
		s := open(t)
		p, ok := s.(storage.Purger)
		if !ok {
			t.Skip("store expires codes natively")
		}
		require.NoError(t, s.CreateCode(ctx, newCode("old-1", now().Add(-2*time.Minute))))
		require.NoError(t, s.CreateCode(ctx, newCode("old-2", now().Add(-time.Minute))))
		require.NoError(t, s.CreateCode(ctx, newCode("fresh", now().Add(time.Minute))))

		n, err := p.PurgeExpiredCodes(ctx, time.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		_, err = s.ConsumeCode(ctx, "old-1")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		_, err = s.ConsumeCode(ctx, "fresh")
		assert.NoError(t, err)
	})
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func newCode(code string, exp time.Time) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        code,
		ClientID:    "client-1",
		UserID:      42,
		RedirectURI: "https://app.example.com/callback",
		Scopes:      "read write",
		ExpiresAt:   exp,
		CreatedAt:   now(),
	}
}

func newToken(clientID string) *storage.TokenPair {
	id := uuid.NewString()
	return &storage.TokenPair{
		ID:           id,
		AccessToken:  fmt.Sprintf("access-%s", id),
		RefreshToken: fmt.Sprintf("refresh-%s", id),
		ClientID:     clientID,
		UserID:       42,
		Scopes:       "read write",
		ExpiresAt:    now().Add(time.Hour),
		CreatedAt:    now(),
		UpdatedAt:    now(),
	}
}

// race runs fn from Concurrency goroutines released at the same moment.
func race(fn func()) {
	var start, done sync.WaitGroup
	start.Add(1)
	for i := 0; i < Concurrency; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			fn()
		}()
	}
	start.Done()
	done.Wait()
}

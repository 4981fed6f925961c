package oauth

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/storage"
)

const (
	// DefaultCodeTTL is how long an authorization code may be exchanged.
	DefaultCodeTTL = 10 * time.Minute

	codeLength = 32

	// Attempts made to find an unused random value before giving up.
	maxCollisionAttempts = 5
)

// CodeManager mints and redeems authorization codes.
type CodeManager struct {
	store storage.CodeStore
	ttl   time.Duration
	now   func() time.Time
}

// NewCodeManager returns a manager issuing codes valid for ttl. A zero ttl
// means DefaultCodeTTL.
func NewCodeManager(store storage.CodeStore, ttl time.Duration) *CodeManager {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &CodeManager{store: store, ttl: ttl, now: time.Now}
}

// TTL returns the code lifetime.
func (m *CodeManager) TTL() time.Duration {
	return m.ttl
}

// Issue stores a fresh code bound to the client, user, redirect URI and
// scopes. A colliding code is regenerated, never overwritten.
func (m *CodeManager) Issue(ctx context.Context, clientID string, userID int64, redirectURI, scopes string) (*storage.AuthorizationCode, error) {
	return retryOnCollision(ctx, func() (*storage.AuthorizationCode, error) {
		code, err := randomString(codeLength)
		if err != nil {
			return nil, errors.WrapPrefix(err, "generating code", 0)
		}
		now := m.now()
		c := &storage.AuthorizationCode{
			Code:        code,
			ClientID:    clientID,
			UserID:      userID,
			RedirectURI: redirectURI,
			Scopes:      scopes,
			ExpiresAt:   now.Add(m.ttl),
			CreatedAt:   now,
		}
		if err := m.store.CreateCode(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Consume redeems a code. The code is removed whether or not it has expired;
// an expired code reports ErrCodeExpired and an unknown or already redeemed
// one reports storage.ErrNotFound.
func (m *CodeManager) Consume(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	c, err := m.store.ConsumeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if c.Expired(m.now()) {
		return nil, errors.Mark(ErrCodeExpired, 0)
	}
	return c, nil
}

// retryOnCollision runs op until it stops reporting storage.ErrAlreadyExists.
// Any other error ends the attempt immediately.
func retryOnCollision[T any](ctx context.Context, op func() (T, error)) (T, error) {
	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(&backoff.ZeroBackOff{}), backoff.WithMaxTries(maxCollisionAttempts))
	if errors.Is(err, storage.ErrAlreadyExists) {
		return res, errors.WrapPrefix(err, "no unused value after retries", 0)
	}
	return res, err
}

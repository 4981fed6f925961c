package oauth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/storage"
)

const (
	// DefaultAccessTokenTTL is the lifetime of an access token.
	DefaultAccessTokenTTL = time.Hour

	tokenLength = 64
)

// TokenInfo describes the grant behind a valid access token.
type TokenInfo struct {
	UserID    int64
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}

// TokenManager issues, rotates and validates token pairs.
type TokenManager struct {
	store storage.TokenStore
	ttl   time.Duration
	now   func() time.Time
}

// NewTokenManager returns a manager issuing access tokens valid for ttl. A
// zero ttl means DefaultAccessTokenTTL.
func NewTokenManager(store storage.TokenStore, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &TokenManager{store: store, ttl: ttl, now: time.Now}
}

// TTL returns the access token lifetime.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue stores a new pair of distinct tokens.
func (m *TokenManager) Issue(ctx context.Context, clientID string, userID int64, scopes string) (*storage.TokenPair, error) {
	return retryOnCollision(ctx, func() (*storage.TokenPair, error) {
		access, refresh, err := newTokens()
		if err != nil {
			return nil, err
		}
		now := m.now()
		t := &storage.TokenPair{
			ID:           uuid.NewString(),
			AccessToken:  access,
			RefreshToken: refresh,
			ClientID:     clientID,
			UserID:       userID,
			Scopes:       scopes,
			ExpiresAt:    now.Add(m.ttl),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := m.store.CreateToken(ctx, t); err != nil {
			return nil, err
		}
		return t, nil
	})
}

// Rotate replaces the pair holding refreshToken for clientID with fresh
// tokens. The old refresh token is dead once this returns, successfully or
// not. Unknown tokens, or another client's, report storage.ErrNotFound.
func (m *TokenManager) Rotate(ctx context.Context, refreshToken, clientID string) (*storage.TokenPair, error) {
	return retryOnCollision(ctx, func() (*storage.TokenPair, error) {
		access, refresh, err := newTokens()
		if err != nil {
			return nil, err
		}
		return m.store.RotateToken(ctx, refreshToken, clientID, access, refresh, m.now().Add(m.ttl))
	})
}

// Validate resolves an access token. Unknown and expired tokens report
// ErrInvalidToken.
func (m *TokenManager) Validate(ctx context.Context, accessToken string) (*TokenInfo, error) {
	if accessToken == "" {
		return nil, errors.Mark(ErrInvalidToken, 0)
	}
	t, err := m.store.TokenByAccess(ctx, accessToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Mark(ErrInvalidToken, 0)
	} else if err != nil {
		return nil, err
	}
	if t.Expired(m.now()) {
		return nil, errors.Mark(ErrInvalidToken, 0).Append("expired")
	}
	return &TokenInfo{
		UserID:    t.UserID,
		ClientID:  t.ClientID,
		Scopes:    ParseScopes(t.Scopes),
		ExpiresAt: t.ExpiresAt,
	}, nil
}

func newTokens() (string, string, error) {
	access, err := randomString(tokenLength)
	if err != nil {
		return "", "", errors.WrapPrefix(err, "generating token", 0)
	}
	refresh, err := randomString(tokenLength)
	if err != nil {
		return "", "", errors.WrapPrefix(err, "generating token", 0)
	}
	return access, refresh, nil
}

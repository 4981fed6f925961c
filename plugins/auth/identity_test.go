package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lumenweb/grantd/server/serverutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlugin(t *testing.T, opts ...AuthOption) (*AuthPlugin, context.Context) {
	t.Helper()
	opts = append([]AuthOption{WithSigningKey("test-key"), WithExpiration(time.Hour)}, opts...)
	p := Plugin(opts...)
	require.NoError(t, p.Init(t.Context(), nil))
	return p, serverutil.WithAddress(t.Context(), "https://auth.example")
}

func TestTokenRoundTrip(t *testing.T) {
	p, ctx := testPlugin(t)

	token, err := p.IdentityToken(ctx, 42)
	require.NoError(t, err)

	identity, err := p.ParseIdentityToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), identity.UserID)
	assert.NotEmpty(t, identity.SessionID)
	assert.False(t, identity.AuthTime.IsZero())
}

func TestTokenExpiration(t *testing.T) {
	p, ctx := testPlugin(t)

	token, err := p.IdentityToken(ctx, 42)
	require.NoError(t, err)

	timeFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }
	defer func() { timeFunc = time.Now }()

	_, err = p.ParseIdentityToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Contains(t, err.Error(), "token is expired")
}

func TestTokenSigning(t *testing.T) {
	evil, ctx := testPlugin(t, WithSigningKey("evil"))
	actual, _ := testPlugin(t)

	token, err := evil.IdentityToken(ctx, 42)
	require.NoError(t, err)

	_, err = actual.ParseIdentityToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Contains(t, err.Error(), "signature is invalid")
}

func TestTokenAudience(t *testing.T) {
	p, ctx := testPlugin(t)

	token, err := p.IdentityToken(serverutil.WithAddress(ctx, "https://elsewhere.example"), 42)
	require.NoError(t, err)

	_, err = p.ParseIdentityToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenSubjectMustBeUserID(t *testing.T) {
	p, ctx := testPlugin(t)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "https://auth.example",
		Audience:  jwt.ClaimStrings{"https://auth.example"},
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)

	_, err = p.ParseIdentityToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Contains(t, err.Error(), "subject is not a user id")
}

func TestTokenRejectsOtherAlgorithms(t *testing.T) {
	p, ctx := testPlugin(t)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "42"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = p.ParseIdentityToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIdentityFromRequest(t *testing.T) {
	p, ctx := testPlugin(t)
	token, err := p.IdentityToken(ctx, 7)
	require.NoError(t, err)

	tests := []struct {
		name    string
		prepare func(r *http.Request)
		wantErr error
	}{
		{
			name:    "no identity",
			prepare: func(r *http.Request) {},
			wantErr: ErrNotFound,
		},
		{
			name:    "cookie",
			prepare: func(r *http.Request) { r.AddCookie(p.IdentityCookie(ctx, token)) },
		},
		{
			name:    "bearer",
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
		},
		{
			name:    "bare token",
			prepare: func(r *http.Request) { r.Header.Set("Authorization", token) },
		},
		{
			name: "basic with token as username",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(token+":")))
			},
		},
		{
			name: "basic with password",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(token+":secret")))
			},
			wantErr: ErrInvalidHeader,
		},
		{
			name:    "unknown scheme",
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Digest abc") },
			wantErr: ErrInvalidHeader,
		},
		{
			name: "header wins over cookie",
			prepare: func(r *http.Request) {
				r.AddCookie(p.IdentityCookie(ctx, token))
				r.Header.Set("Authorization", "Bearer garbage")
			},
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil).WithContext(ctx)
			tt.prepare(r)

			identity, err := p.IdentityFromRequest(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(7), identity.UserID)
		})
	}
}

func TestIdentityCookie(t *testing.T) {
	p, ctx := testPlugin(t)

	c := p.IdentityCookie(ctx, "tok")
	assert.Equal(t, IdentityTokenCookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	c = p.IdentityCookie(serverutil.WithAddress(ctx, "http://localhost:8000"), "tok")
	assert.False(t, c.Secure)
}

func TestRandomSigningKey(t *testing.T) {
	p := Plugin()
	require.NoError(t, p.Init(t.Context(), nil))
	assert.Len(t, p.signingKey, 64)

	assert.NotEqual(t, randomSigningKey(), randomSigningKey())
}

func TestLoginURL(t *testing.T) {
	p := Plugin(WithLoginURL("https://www.example/login"))
	require.NoError(t, p.Init(t.Context(), nil))
	assert.Equal(t, "https://www.example/login", p.LoginURL())
	assert.Equal(t, PluginName, p.Name())
}

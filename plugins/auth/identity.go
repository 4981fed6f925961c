package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/server/serverutil"
)

// Cookie name used for storing the identity token.
const IdentityTokenCookieName = "gd-id"

// Identity is the authenticated end user.
type Identity struct {
	// Maps to the `sub` claim.
	UserID int64

	// Maps to the `jti` claim.
	SessionID string

	// When the user logged in. Maps to the `auth_time` claim.
	AuthTime time.Time
}

// IdentityToken creates a signed JWT for userID. Issuer and audience are both
// the server address from ctx, so the token is only accepted by this server.
func (ap *AuthPlugin) IdentityToken(ctx context.Context, userID int64) (string, error) {
	address := serverutil.AddressFromContext(ctx)
	now := timeFunc()
	expiration := ap.expiration
	if expiration <= 0 {
		expiration = defaultTokenExpiration
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			Audience:  jwt.ClaimStrings{address},
			Issuer:    address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
		AuthTime: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(ap.signingKey)
	if err != nil {
		return "", errors.WithCode(err, ErrInvalidToken.Code())
	}
	return ss, nil
}

// ParseIdentityToken validates a signed JWT and returns the identity within.
// Invalid and expired tokens report ErrInvalidToken.
func (ap *AuthPlugin) ParseIdentityToken(ctx context.Context, tokenString string) (Identity, error) {
	address := serverutil.AddressFromContext(ctx)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithTimeFunc(timeFunc),
		jwt.WithIssuedAt(),
	}
	if address != "" {
		opts = append(opts, jwt.WithIssuer(address), jwt.WithAudience(address))
	}
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			return ap.signingKey, nil
		},
		opts...,
	)
	if err != nil {
		return Identity{}, errors.Mark(ErrInvalidToken, 0).Append(err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, errors.Mark(ErrInvalidToken, 0).Append("invalid claims")
	}
	if err := claims.Validate(); err != nil {
		return Identity{}, err
	}
	userID, _ := strconv.ParseInt(claims.Subject, 10, 64)
	identity := Identity{UserID: userID, SessionID: claims.ID}
	if claims.AuthTime != nil {
		identity.AuthTime = claims.AuthTime.Time
	}
	return identity, nil
}

// IdentityFromRequest returns the identity carried by the request. An
// `Authorization` header takes precedence over the cookie. Requests with
// neither report ErrNotFound.
func (ap *AuthPlugin) IdentityFromRequest(r *http.Request) (Identity, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		return ap.identityFromAuthHeader(r.Context(), h)
	}
	if c, err := r.Cookie(IdentityTokenCookieName); err == nil && c.Value != "" {
		return ap.ParseIdentityToken(r.Context(), c.Value)
	}
	return Identity{}, errors.Mark(ErrNotFound, 0)
}

// IdentityCookie wraps a token in the cookie IdentityFromRequest reads.
func (ap *AuthPlugin) IdentityCookie(ctx context.Context, token string) *http.Cookie {
	return &http.Cookie{
		Name:     IdentityTokenCookieName,
		Value:    token,
		Path:     "/",
		Secure:   serverutil.IsSecure(ctx),
		HttpOnly: true,
		Expires:  timeFunc().Add(ap.expiration),
		SameSite: http.SameSiteLaxMode,
	}
}

func (ap *AuthPlugin) identityFromAuthHeader(ctx context.Context, header string) (Identity, error) {
	auth := strings.SplitN(header, " ", 2)
	if len(auth) != 2 {
		// Relaxed fallback that accepts a bare token.
		return ap.ParseIdentityToken(ctx, header)
	}

	switch strings.ToLower(auth[0]) {
	case "bearer":
		return ap.ParseIdentityToken(ctx, auth[1])

	case "basic":
		// curl friendly: the token is the username and the password is empty.
		payload, _ := base64.StdEncoding.DecodeString(auth[1])
		pair := strings.SplitN(string(payload), ":", 2)
		if len(pair) != 2 || pair[1] != "" {
			return Identity{}, errors.Mark(ErrInvalidHeader, 0)
		}
		return ap.ParseIdentityToken(ctx, pair[0])

	default:
		return Identity{}, errors.Mark(ErrInvalidHeader, 0)
	}
}

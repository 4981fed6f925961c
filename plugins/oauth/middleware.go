package oauth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/lumenweb/grantd"
	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/logging"
	"github.com/lumenweb/grantd/oauth"
	"google.golang.org/grpc/codes"
)

var (
	// ErrInvalidToken is sent to resource requests without a usable access
	// token.
	ErrInvalidToken = errors.NewC("invalid_token", codes.Unauthenticated).
			WithPublicMessage("the access token is missing, invalid, or expired")

	// ErrInsufficientScope is sent when the token lacks a required scope.
	ErrInsufficientScope = errors.NewC("insufficient_scope", codes.PermissionDenied).
				WithPublicMessage("the access token does not grant the required scope")
)

type tokenInfoKey struct{}

// RequireToken rejects requests that lack a valid bearer access token. On
// success the grant is available through the context helpers below.
//
//	r.With(oauthPlugin.RequireToken, oauth.RequireScope("read")).Get("/api/me", me)
func (p *OAuthPlugin) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		info, err := p.service.Tokens().Validate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, oauth.ErrInvalidToken) {
				grantd.WriteJSONError(w, r, errors.Mark(err, 0).WithCode(codes.Unavailable))
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeResourceError(w, r, ErrInvalidToken)
			return
		}

		logging.Track(r.Context(), "oauth.client_id", info.ClientID)
		logging.Track(r.Context(), "oauth.user_id", info.UserID)
		next.ServeHTTP(w, r.WithContext(WithTokenInfo(r.Context(), info)))
	})
}

// RequireScope rejects requests whose token lacks any of scopes. It must run
// after RequireToken.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasAllScopes(r.Context(), scopes...) {
				w.Header().Set("WWW-Authenticate",
					`Bearer error="insufficient_scope", scope="`+strings.Join(scopes, " ")+`"`)
				writeResourceError(w, r, ErrInsufficientScope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeResourceError(w http.ResponseWriter, r *http.Request, sentinel *errors.Error) {
	err := errors.Mark(sentinel, 1)
	logging.TrackError(r.Context(), err)
	grantd.WriteJSON(w, err.HTTPStatusCode(), map[string]string{
		"error":             sentinel.Err.Error(),
		"error_description": err.PublicMessage(),
	})
}

// WithTokenInfo attaches a validated grant to ctx.
func WithTokenInfo(ctx context.Context, info *oauth.TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoKey{}, info)
}

// TokenInfoFromContext returns the grant attached by RequireToken.
func TokenInfoFromContext(ctx context.Context) (*oauth.TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey{}).(*oauth.TokenInfo)
	return info, ok && info != nil
}

// ClientIDFromContext returns the client the token was issued to.
func ClientIDFromContext(ctx context.Context) string {
	if info, ok := TokenInfoFromContext(ctx); ok {
		return info.ClientID
	}
	return ""
}

// UserIDFromContext returns the user who granted the token.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	if info, ok := TokenInfoFromContext(ctx); ok {
		return info.UserID, true
	}
	return 0, false
}

// ScopesFromContext returns the token's scopes.
func ScopesFromContext(ctx context.Context) []string {
	if info, ok := TokenInfoFromContext(ctx); ok {
		return info.Scopes
	}
	return nil
}

// HasScope checks if the token grants scope.
func HasScope(ctx context.Context, scope string) bool {
	return slices.Contains(ScopesFromContext(ctx), scope)
}

// HasAnyScope checks if the token grants any of scopes.
func HasAnyScope(ctx context.Context, scopes ...string) bool {
	return slices.ContainsFunc(scopes, func(s string) bool { return HasScope(ctx, s) })
}

// HasAllScopes checks if the token grants every one of scopes.
func HasAllScopes(ctx context.Context, scopes ...string) bool {
	for _, scope := range scopes {
		if !HasScope(ctx, scope) {
			return false
		}
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

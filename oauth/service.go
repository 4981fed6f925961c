// Package oauth implements the protocol core of the authorization server:
// turning an end user's consent into a single-use authorization code, and
// exchanging codes or refresh tokens for rotating token pairs.
//
// The package knows nothing about HTTP. Service.Authorize returns a Redirect
// descriptor and Service.Token returns a TokenResponse or an *Error carrying
// the status to respond with; plugins/oauth adapts both to net/http.
//
//	svc := oauth.NewService(store, store, store)
//	redirect, err := svc.Authorize(ctx, oauth.AuthorizeRequest{
//		UserID:      42,
//		ClientID:    "acme",
//		RedirectURI: "https://acme.example/callback",
//		State:       "xyz",
//	})
package oauth

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/logging"
	"github.com/lumenweb/grantd/storage"

	"github.com/go-oauth2/oauth2/v4"
	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
)

// TokenType is the only token type issued.
const TokenType = "Bearer"

// Option configures a Service.
type Option func(*Service)

// WithCodeTTL overrides the authorization code lifetime.
func WithCodeTTL(d time.Duration) Option {
	return func(s *Service) { s.codeTTL = d }
}

// WithAccessTokenTTL overrides the access token lifetime.
func WithAccessTokenTTL(d time.Duration) Option {
	return func(s *Service) { s.accessTTL = d }
}

// WithDefaultScope sets the scope granted when a request names none.
func WithDefaultScope(scope string) Option {
	return func(s *Service) { s.defaultScope = normalizeScope(scope, DefaultScope) }
}

// WithClientScopeEnforcement rejects authorization requests asking for scopes
// outside the client's registered set.
func WithClientScopeEnforcement(enforce bool) Option {
	return func(s *Service) { s.enforceClientScopes = enforce }
}

// WithSecretComparer sets how stored client secrets are checked.
func WithSecretComparer(c SecretComparer) Option {
	return func(s *Service) { s.secrets = c }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements the authorization and token endpoints.
type Service struct {
	clients storage.ClientRegistry
	codes   *CodeManager
	tokens  *TokenManager

	codeTTL             time.Duration
	accessTTL           time.Duration
	defaultScope        string
	enforceClientScopes bool
	secrets             SecretComparer
	now                 func() time.Time
}

// NewService wires the endpoints to their stores. A single storage.Store
// satisfies all three.
func NewService(clients storage.ClientRegistry, codes storage.CodeStore, tokens storage.TokenStore, opts ...Option) *Service {
	s := &Service{
		clients:      clients,
		codeTTL:      DefaultCodeTTL,
		accessTTL:    DefaultAccessTokenTTL,
		defaultScope: DefaultScope,
		secrets:      PlainComparer,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.codes = NewCodeManager(codes, s.codeTTL)
	s.codes.now = s.now
	s.tokens = NewTokenManager(tokens, s.accessTTL)
	s.tokens.now = s.now
	return s
}

// Codes returns the code manager.
func (s *Service) Codes() *CodeManager { return s.codes }

// Tokens returns the token manager, which resource servers use to validate
// access tokens.
func (s *Service) Tokens() *TokenManager { return s.tokens }

// Consent is what an end user is asked to approve.
type Consent struct {
	Client      *storage.Client
	RedirectURI string
	Scope       string
}

// Scopes returns the requested scopes as a list.
func (c *Consent) Scopes() []string {
	return ParseScopes(c.Scope)
}

// Describe validates an authorization request before consent is asked for.
// The redirect URI is only trusted once this returns without error.
func (s *Service) Describe(ctx context.Context, clientID, redirectURI, scope string) (*Consent, error) {
	client, err := s.clients.Client(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		logging.Warnw(ctx, "oauth: authorization for unknown client", "oauth.client_id", clientID)
		return nil, newError(oautherrors.ErrInvalidClient, "", nil)
	} else if err != nil {
		return nil, s.serverError(ctx, err)
	}

	if redirectURI != client.RedirectURI {
		return nil, newError(ErrInvalidRedirectURI, "", nil)
	}

	scope = normalizeScope(scope, s.defaultScope)
	if s.enforceClientScopes && !scopeSubset(scope, client.Scopes) {
		return nil, newError(oautherrors.ErrInvalidScope, "", nil)
	}

	return &Consent{Client: client, RedirectURI: client.RedirectURI, Scope: scope}, nil
}

// AuthorizeRequest is an end user's decision on a consent prompt.
type AuthorizeRequest struct {
	UserID      int64
	ClientID    string
	RedirectURI string
	Scope       string
	State       string

	// Denied is set when the user cancelled.
	Denied bool
}

// Redirect describes where to send the user agent after a decision.
type Redirect struct {
	URI    string
	Params url.Values
}

// URL returns URI with Params merged into any query it already has.
func (r *Redirect) URL() string {
	u, err := url.Parse(r.URI)
	if err != nil {
		return r.URI + "?" + r.Params.Encode()
	}
	q := u.Query()
	for k, v := range r.Params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Authorize records an end user's decision. Approval mints a code; denial
// redirects with access_denied and creates nothing. Errors mean the redirect
// URI could not be trusted and must be shown to the user instead.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (*Redirect, error) {
	consent, err := s.Describe(ctx, req.ClientID, req.RedirectURI, req.Scope)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	if req.Denied {
		params.Set("error", oautherrors.ErrAccessDenied.Error())
		params.Set("error_description", Describe(oautherrors.ErrAccessDenied))
	} else {
		code, err := s.codes.Issue(ctx, consent.Client.ID, req.UserID, consent.RedirectURI, consent.Scope)
		if err != nil {
			return nil, s.serverError(ctx, err)
		}
		params.Set("code", code.Code)
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	return &Redirect{URI: consent.RedirectURI, Params: params}, nil
}

// TokenRequest carries token endpoint parameters for either grant.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TokenResponse is the successful token endpoint body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Token dispatches on the grant type. Failures are always *Error.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch oauth2.GrantType(req.GrantType) {
	case "":
		return nil, newError(oautherrors.ErrInvalidRequest, "missing required parameter: grant_type", nil)
	case oauth2.AuthorizationCode:
		return s.exchangeCode(ctx, req)
	case oauth2.Refreshing:
		return s.refresh(ctx, req)
	}
	return nil, newError(oautherrors.ErrUnsupportedGrantType, "", nil)
}

func (s *Service) exchangeCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if err := requireParams(map[string]string{
		"code":          req.Code,
		"client_id":     req.ClientID,
		"client_secret": req.ClientSecret,
		"redirect_uri":  req.RedirectURI,
	}, "code", "client_id", "client_secret", "redirect_uri"); err != nil {
		return nil, err
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	code, err := s.codes.Consume(ctx, req.Code)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, newError(oautherrors.ErrInvalidGrant, "authorization code is invalid or has already been used", nil)
	case errors.Is(err, ErrCodeExpired):
		return nil, newError(oautherrors.ErrInvalidGrant, "authorization code has expired", nil)
	case err != nil:
		return nil, s.serverError(ctx, err)
	}

	if code.ClientID != client.ID {
		logging.Warnw(ctx, "oauth: code presented by another client",
			"oauth.client_id", client.ID, "oauth.code_client_id", code.ClientID)
		return nil, newError(oautherrors.ErrInvalidGrant, "authorization code is invalid or has already been used", nil)
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, newError(oautherrors.ErrInvalidGrant, "redirect_uri does not match the authorization request", nil)
	}

	pair, err := s.tokens.Issue(ctx, client.ID, code.UserID, code.Scopes)
	if err != nil {
		return nil, s.serverError(ctx, err)
	}
	logging.Track(ctx, "oauth.user_id", code.UserID)
	return s.response(pair), nil
}

func (s *Service) refresh(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if err := requireParams(map[string]string{
		"refresh_token": req.RefreshToken,
		"client_id":     req.ClientID,
		"client_secret": req.ClientSecret,
	}, "refresh_token", "client_id", "client_secret"); err != nil {
		return nil, err
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.Rotate(ctx, req.RefreshToken, client.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(oautherrors.ErrInvalidGrant, "refresh token is invalid or has already been used", nil)
	} else if err != nil {
		return nil, s.serverError(ctx, err)
	}
	logging.Track(ctx, "oauth.user_id", pair.UserID)
	return s.response(pair), nil
}

// authenticateClient resolves the client and checks its secret. Failures are
// logged at warn since repeated ones indicate credential stuffing.
func (s *Service) authenticateClient(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	client, err := s.clients.Client(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		logging.Warnw(ctx, "oauth: client authentication failed", "oauth.client_id", clientID, "oauth.reason", "unknown client")
		return nil, newError(oautherrors.ErrInvalidClient, "", nil)
	} else if err != nil {
		return nil, s.serverError(ctx, err)
	}
	if err := s.secrets.Compare([]byte(client.Secret), []byte(secret)); err != nil {
		logging.Warnw(ctx, "oauth: client authentication failed", "oauth.client_id", clientID, "oauth.reason", "secret mismatch")
		return nil, newError(oautherrors.ErrInvalidClient, "", nil)
	}
	logging.Track(ctx, "oauth.client_id", client.ID)
	return client, nil
}

func (s *Service) response(pair *storage.TokenPair) *TokenResponse {
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    TokenType,
		ExpiresIn:    int64(s.tokens.TTL() / time.Second),
		RefreshToken: pair.RefreshToken,
		Scope:        pair.Scopes,
	}
}

func (s *Service) serverError(ctx context.Context, err error) *Error {
	logging.Errorw(ctx, "oauth: storage failure", "error", err, "error.stack_trace", errors.MinimalStack(err, 0, 5))
	return newError(oautherrors.ErrServerError, "", err)
}

func requireParams(values map[string]string, order ...string) error {
	var missing []string
	for _, name := range order {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return newError(oautherrors.ErrInvalidRequest, "missing required parameter: "+strings.Join(missing, ", "), nil)
	}
	return nil
}

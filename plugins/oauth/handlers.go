package oauth

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/lumenweb/grantd"
	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/logging"
	"github.com/lumenweb/grantd/oauth"
	"github.com/lumenweb/grantd/plugins/auth"
	"github.com/lumenweb/grantd/server"
	"github.com/lumenweb/grantd/server/serverutil"

	"github.com/go-oauth2/oauth2/v4"
	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
)

const maxTokenRequestBytes = 64 << 10

// showConsent validates the request and asks the user to approve it.
func (p *OAuthPlugin) showConsent(w http.ResponseWriter, r *http.Request) {
	if _, ok := p.requireUser(w, r); !ok {
		return
	}
	q := r.URL.Query()

	consent, err := p.service.Describe(r.Context(), q.Get("client_id"), q.Get("redirect_uri"), q.Get("scope"))
	if err != nil {
		p.metrics.authorizations.WithLabelValues(outcomeRejected).Inc()
		renderError(w, r, err)
		return
	}
	if rt := q.Get("response_type"); rt != string(oauth2.Code) {
		p.metrics.authorizations.WithLabelValues(outcomeRejected).Inc()
		renderError(w, r, &oauth.Error{
			Code:        oautherrors.ErrInvalidRequest,
			Description: "response_type must be \"code\"",
		})
		return
	}

	renderPage(w, r, http.StatusOK, "consent.html", consentPage{
		ClientID:    consent.Client.ID,
		ClientName:  clientName(consent),
		RedirectURI: consent.RedirectURI,
		Scope:       consent.Scope,
		Scopes:      consent.Scopes(),
		State:       q.Get("state"),
		CSRFToken:   server.SendCSRFToken(w, r, p.csrfKey),
	})
}

// decide records the user's answer and redirects back to the client.
func (p *OAuthPlugin) decide(w http.ResponseWriter, r *http.Request) {
	identity, ok := p.requireUser(w, r)
	if !ok {
		return
	}
	if err := server.VerifyCSRF(r, p.csrfKey); err != nil {
		logging.Warnw(r.Context(), "oauth: consent form failed csrf check", "error", err)
		renderError(w, r, err)
		return
	}

	action := r.PostFormValue("action")
	if action != "approve" && action != "deny" {
		renderError(w, r, &oauth.Error{
			Code:        oautherrors.ErrInvalidRequest,
			Description: "action must be approve or deny",
		})
		return
	}

	redirect, err := p.service.Authorize(r.Context(), oauth.AuthorizeRequest{
		UserID:      identity.UserID,
		ClientID:    r.PostFormValue("client_id"),
		RedirectURI: r.PostFormValue("redirect_uri"),
		Scope:       r.PostFormValue("scope"),
		State:       r.PostFormValue("state"),
		Denied:      action == "deny",
	})
	if err != nil {
		p.metrics.authorizations.WithLabelValues(outcomeRejected).Inc()
		renderError(w, r, err)
		return
	}

	outcome := outcomeApproved
	if action == "deny" {
		outcome = outcomeDenied
	}
	p.metrics.authorizations.WithLabelValues(outcome).Inc()
	logging.Track(r.Context(), "oauth.outcome", outcome)
	http.Redirect(w, r, redirect.URL(), http.StatusFound)
}

// requireUser resolves the end user, or sends them to log in.
func (p *OAuthPlugin) requireUser(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, err := p.auth.IdentityFromRequest(r)
	if err == nil {
		logging.Track(r.Context(), "oauth.user_id", identity.UserID)
		return identity, true
	}
	if !errors.Is(err, auth.ErrNotFound) {
		logging.Infow(r.Context(), "oauth: rejected identity token", "error", err)
	}

	if login := p.auth.LoginURL(); login != "" && r.Method == http.MethodGet {
		http.Redirect(w, r, loginRedirect(login, returnTo(r)), http.StatusFound)
		return auth.Identity{}, false
	}
	renderError(w, r, errors.Mark(auth.ErrNotFound, 0).WithPublicMessage("you need to be signed in to continue"))
	return auth.Identity{}, false
}

// token serves both grants. Responses are never cacheable.
func (p *OAuthPlugin) token(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	req, basic, err := parseTokenRequest(w, r)
	if err == nil {
		logging.Track(r.Context(), "oauth.grant_type", req.GrantType)
		var resp *oauth.TokenResponse
		resp, err = p.service.Token(r.Context(), req)
		if err == nil {
			p.metrics.tokensIssued.WithLabelValues(grantLabel(req.GrantType)).Inc()
			grantd.WriteJSON(w, http.StatusOK, resp)
			return
		}
	}

	oe := oauth.AsError(err)
	p.metrics.tokenErrors.WithLabelValues(grantLabel(req.GrantType), oe.ErrorCode()).Inc()
	if basic && oe.HTTPStatusCode() == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	grantd.WriteJSONError(w, r, oe)
}

// parseTokenRequest reads a JSON or form body. Credentials in a Basic
// Authorization header take the place of client_id and client_secret.
func parseTokenRequest(w http.ResponseWriter, r *http.Request) (oauth.TokenRequest, bool, error) {
	var req oauth.TokenRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxTokenRequestBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, false, &oauth.Error{Code: oautherrors.ErrInvalidRequest, Description: "malformed JSON body"}
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, false, &oauth.Error{Code: oautherrors.ErrInvalidRequest, Description: "malformed form body"}
		}
		req = oauth.TokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			Code:         r.PostForm.Get("code"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			RefreshToken: r.PostForm.Get("refresh_token"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
		}
	}

	id, secret, basic := r.BasicAuth()
	if !basic {
		return req, false, nil
	}
	if req.ClientSecret != "" {
		return req, true, &oauth.Error{
			Code:        oautherrors.ErrInvalidRequest,
			Description: "client credentials must be sent only once",
		}
	}
	// RFC 6749 2.3.1 form-encodes both values before base64.
	if v, err := url.QueryUnescape(id); err == nil {
		id = v
	}
	if v, err := url.QueryUnescape(secret); err == nil {
		secret = v
	}
	if req.ClientID != "" && req.ClientID != id {
		return req, true, &oauth.Error{
			Code:        oautherrors.ErrInvalidRequest,
			Description: "client_id does not match the Authorization header",
		}
	}
	req.ClientID, req.ClientSecret = id, secret
	return req, true, nil
}

type serverMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

func (p *OAuthPlugin) serverMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := serverutil.AddressFromContext(r.Context())
	if issuer == "" {
		scheme := "https"
		if r.TLS == nil {
			scheme = "http"
		}
		issuer = scheme + "://" + r.Host
	}
	issuer = strings.TrimSuffix(issuer, "/")

	grantd.WriteJSON(w, http.StatusOK, serverMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth/authorize",
		TokenEndpoint:                     issuer + "/oauth/token",
		ResponseTypesSupported:            []string{string(oauth2.Code)},
		GrantTypesSupported:               []string{string(oauth2.AuthorizationCode), string(oauth2.Refreshing)},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
	})
}

func clientName(c *oauth.Consent) string {
	if c.Client.Name != "" {
		return c.Client.Name
	}
	return c.Client.ID
}

func returnTo(r *http.Request) string {
	address := strings.TrimSuffix(serverutil.AddressFromContext(r.Context()), "/")
	return address + r.URL.RequestURI()
}

func loginRedirect(login, returnTo string) string {
	u, err := url.Parse(login)
	if err != nil {
		return login
	}
	q := u.Query()
	q.Set("return_to", returnTo)
	u.RawQuery = q.Encode()
	return u.String()
}

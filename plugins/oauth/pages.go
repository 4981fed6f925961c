package oauth

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/logging"
	"github.com/lumenweb/grantd/oauth"

	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type consentPage struct {
	ClientID    string
	ClientName  string
	RedirectURI string
	Scope       string
	Scopes      []string
	State       string
	CSRFToken   string
}

type errorPage struct {
	Title       string
	Code        string
	Description string
}

func renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		logging.Errorw(r.Context(), "oauth: rendering page", "template", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError shows err to the end user. Used whenever the redirect URI can't
// be trusted, so the error never travels to the client.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	logging.TrackError(r.Context(), err)

	var page errorPage
	status := errors.HTTPStatusCode(err)
	var oe *oauth.Error
	var e *errors.Error
	switch {
	case errors.As(err, &oe):
		page.Code = oe.ErrorCode()
		page.Description = oe.Description
	case errors.As(err, &e) && status < http.StatusInternalServerError:
		page.Code = oautherrors.ErrInvalidRequest.Error()
		page.Description = e.PublicMessage()
	default:
		page.Code = oautherrors.ErrServerError.Error()
		page.Description = oauth.Describe(oautherrors.ErrServerError)
	}
	if status >= http.StatusInternalServerError {
		logging.Errorw(r.Context(), "oauth: authorization failed", "error", err)
	}
	page.Title = http.StatusText(status)
	renderPage(w, r, status, "error.html", page)
}

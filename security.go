package grantd

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/logging"
	"google.golang.org/grpc/codes"
)

type XFramesOptions string

const (
	XFramesOptionsNone       XFramesOptions = ""
	XFramesOptionsDeny       XFramesOptions = "DENY"
	XFramesOptionsSameOrigin XFramesOptions = "SAMEORIGIN"
)

// HSTS requires a minimum expiration of 1 year for preload.
var ErrBadHSTSExpiration = errors.NewC("grantd: HSTS preload requires expiration of at least 1 year", codes.FailedPrecondition)

// SecurityHeaders are set on every HTTP response. The consent page relies on
// X-Frame-Options to prevent clickjacking of the approve button.
type SecurityHeaders struct {
	XFramesOptions XFramesOptions

	// Strict-Transport-Security (HSTS) tells the browser to always use HTTPS
	// when connecting to the site.
	HSTSExpiration        time.Duration
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	staticHeaders map[string]string
	err           error
	once          sync.Once
}

// Apply the security headers to the given response.
func (s *SecurityHeaders) Apply(w http.ResponseWriter) error {
	s.once.Do(s.compute)
	if s.err != nil {
		return s.err
	}
	for k, v := range s.staticHeaders {
		w.Header().Set(k, v)
	}
	return nil
}

// Middleware applies the headers before calling next. Misconfiguration is
// reported as a 500 rather than serving pages without protection.
func (s *SecurityHeaders) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.Apply(w); err != nil {
			logging.Errorw(r.Context(), "grantd: invalid security headers", "error", err)
			http.Error(w, "server misconfigured", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *SecurityHeaders) compute() {
	s.staticHeaders = map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	if s.XFramesOptions != XFramesOptionsNone {
		s.staticHeaders["X-Frame-Options"] = string(s.XFramesOptions)
	}
	if s.HSTSExpiration > 0 {
		h := fmt.Sprintf("max-age=%.0f", s.HSTSExpiration.Seconds())
		if s.HSTSIncludeSubdomains {
			h += "; includeSubDomains"
		}
		if s.HSTSPreload {
			if s.HSTSExpiration < time.Hour*24*365 {
				s.err = ErrBadHSTSExpiration
				return
			}
			h += "; preload"
		}
		s.staticHeaders["Strict-Transport-Security"] = h
	}
}

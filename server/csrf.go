package server

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/server/serverutil"
	"google.golang.org/grpc/codes"
)

const (
	// Cookie name used for storing the CSRF token.
	CSRFCookie = "gd-ct"

	// Form field carrying the double-submitted token.
	CSRFParam = "csrf-token"

	// Duration for which the CSRF token is valid.
	csrfExpiration = time.Hour * 6
)

// ErrCSRF is returned for any failed CSRF check. The appended detail is for
// logs only.
var ErrCSRF = errors.NewC("csrf: verification failed", codes.FailedPrecondition).
	WithHTTPStatusCode(http.StatusForbidden).
	WithPublicMessage("the form has expired, please reload the page and try again")

// SendCSRFToken sets the CSRF cookie on the response and returns the value to
// embed in the form. An existing valid token is reused and its cookie
// refreshed.
func SendCSRFToken(w http.ResponseWriter, r *http.Request, signingKey []byte) string {
	ct := csrfTokenFromCookie(r)
	if ct == "" || verifyCSRFToken(ct, signingKey) != nil {
		ct = generateCSRFToken(signingKey)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    ct,
		Path:     "/",
		Secure:   serverutil.IsSecure(r.Context()),
		HttpOnly: false, // Per OWASP recommendation.
		Expires:  time.Now().Add(csrfExpiration),
		SameSite: http.SameSiteLaxMode,
	})
	return ct
}

// VerifyCSRF checks that the form token matches the cookie and carries a
// valid signature. The request form must be parseable.
func VerifyCSRF(r *http.Request, signingKey []byte) error {
	param := r.PostFormValue(CSRFParam)
	if param == "" {
		return errors.Mark(ErrCSRF, 0).Append("missing token in request")
	}

	fromCookie := csrfTokenFromCookie(r)
	if fromCookie == "" {
		return errors.Mark(ErrCSRF, 0).Append("missing token in cookies")
	}

	if !hmac.Equal([]byte(param), []byte(fromCookie)) {
		return errors.Mark(ErrCSRF, 0).Append("token mismatch")
	}

	return verifyCSRFToken(fromCookie, signingKey)
}

func csrfTokenFromCookie(r *http.Request) string {
	c, err := r.Cookie(CSRFCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func generateCSRFToken(signingKey []byte) string {
	randomData := make([]byte, 32)
	if _, err := rand.Read(randomData); err != nil {
		// Errors should not occur under normal operation and are unlikely to be
		// recoverable. So let it fail hard.
		panic("csrf: random number generation failed: " + err.Error())
	}

	hasher := hmac.New(sha256.New, signingKey)
	hasher.Write(randomData)
	mac := hex.EncodeToString(hasher.Sum(nil))

	return mac + "_" + hex.EncodeToString(randomData)
}

func verifyCSRFToken(token string, signingKey []byte) error {
	parts := strings.SplitN(token, "_", 2)
	if len(parts) != 2 {
		return errors.Mark(ErrCSRF, 0).Append("invalid token")
	}

	actualMac, err := hex.DecodeString(parts[0])
	if err != nil {
		return errors.Mark(ErrCSRF, 0).Append("invalid signature")
	}

	randomData, err := hex.DecodeString(parts[1])
	if err != nil {
		return errors.Mark(ErrCSRF, 0).Append("invalid data")
	}

	hasher := hmac.New(sha256.New, signingKey)
	hasher.Write(randomData)
	expectedMac := hasher.Sum(nil)

	if !hmac.Equal(actualMac, expectedMac) {
		return errors.Mark(ErrCSRF, 0).Append("signature mismatch")
	}

	return nil
}

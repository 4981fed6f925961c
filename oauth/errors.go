package oauth

import (
	"encoding/json"
	"net/http"

	"github.com/lumenweb/grantd/errors"

	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
	"google.golang.org/grpc/codes"
)

// ErrInvalidRedirectURI is reported when a redirect URI is not byte-equal to
// the one registered for the client.
var ErrInvalidRedirectURI = errors.NewC("invalid_redirect_uri", codes.InvalidArgument)

var (
	// ErrCodeExpired is returned by CodeManager.Consume for a code whose
	// lifetime has passed. The code is gone either way.
	ErrCodeExpired = errors.NewC("authorization code expired", codes.InvalidArgument)

	// ErrInvalidToken is returned by TokenManager.Validate for unknown or
	// expired access tokens.
	ErrInvalidToken = errors.NewC("invalid access token", codes.Unauthenticated)
)

var statusCodes = map[error]int{
	oautherrors.ErrInvalidRequest:       http.StatusBadRequest,
	oautherrors.ErrInvalidClient:        http.StatusUnauthorized,
	oautherrors.ErrInvalidGrant:         http.StatusBadRequest,
	oautherrors.ErrUnsupportedGrantType: http.StatusBadRequest,
	oautherrors.ErrInvalidScope:         http.StatusBadRequest,
	oautherrors.ErrAccessDenied:         http.StatusForbidden,
	oautherrors.ErrServerError:          http.StatusInternalServerError,
	ErrInvalidRedirectURI:               http.StatusBadRequest,
}

var descriptions = map[error]string{
	ErrInvalidRedirectURI: "The redirect URI does not match the one registered for the client",
}

// Error is a protocol error as returned to clients. Code is one of the
// go-oauth2 error values or ErrInvalidRedirectURI and is what errors.Is
// matches against.
type Error struct {
	Code        error
	Description string
	cause       error
}

func newError(code error, description string, cause error) *Error {
	if description == "" {
		description = Describe(code)
	}
	return &Error{Code: code, Description: description, cause: cause}
}

// Describe returns the default description for an error code.
func Describe(code error) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	if d, ok := oautherrors.Descriptions[code]; ok {
		return d
	}
	return code.Error()
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code.Error() + ": " + e.Description + ": " + e.cause.Error()
	}
	return e.Code.Error() + ": " + e.Description
}

// Is matches the protocol error code.
func (e *Error) Is(target error) bool {
	return target == e.Code
}

// Unwrap exposes the underlying cause, if any, for logging.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the status the error is delivered with.
func (e *Error) HTTPStatusCode() int {
	if s, ok := statusCodes[e.Code]; ok {
		return s
	}
	return http.StatusBadRequest
}

// ErrorCode returns the value of the "error" field.
func (e *Error) ErrorCode() string {
	return e.Code.Error()
}

// MarshalJSON renders the {error, error_description} body. Causes are never
// included.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error       string `json:"error"`
		Description string `json:"error_description,omitempty"`
	}{e.ErrorCode(), e.Description})
}

// AsError extracts a protocol error, converting anything else into
// server_error so internal detail never reaches a client.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return newError(oautherrors.ErrServerError, "", err)
}

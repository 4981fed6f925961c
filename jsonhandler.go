package grantd

import (
	"encoding/json"
	"net/http"

	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/logging"

	"github.com/iancoleman/strcase"
)

// JSONHandler is an HTTP handler whose result is encoded as JSON. Errors are
// encoded as {"error", "error_description"} with the error's HTTP status.
// Errors that implement json.Marshaler encode themselves.
type JSONHandler func(req *http.Request) (any, error)

func (fn JSONHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := fn(r)
	if err != nil {
		WriteJSONError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// WithJSONHandler adds a JSON handler for a chi pattern.
func WithJSONHandler(pattern string, h JSONHandler) ServerOption {
	return WithHTTPHandler(pattern, h)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// WriteJSONError writes err using its HTTP status. Details of server errors
// are logged, never written.
func WriteJSONError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	logging.TrackError(r.Context(), err)
	if status >= http.StatusInternalServerError {
		logging.Errorw(r.Context(), "grantd: handler error", "error", err)
	}

	var m json.Marshaler
	if errors.As(err, &m) {
		WriteJSON(w, status, m)
		return
	}

	msg := "internal server error"
	var e *errors.Error
	if errors.As(err, &e) && status < http.StatusInternalServerError {
		msg = e.PublicMessage()
	}
	WriteJSON(w, status, map[string]string{
		"error":             strcase.ToSnake(errors.Code(err).String()),
		"error_description": msg,
	})
}

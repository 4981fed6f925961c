package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMiddlewareAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Middleware(NewZapLogger(zap.New(core)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Track(r.Context(), "oauth.client_id", "c1")
		w.WriteHeader(http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/token", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "request rejected", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "c1", fields["oauth.client_id"])
	assert.Equal(t, "/oauth/token", fields["http.path"])
	assert.EqualValues(t, http.StatusBadRequest, fields["http.status"])
}

func TestMiddlewareKeepsIncomingRequestID(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	h := Middleware(NewZapLogger(zap.New(core)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Middleware(NewZapLogger(zap.New(core)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"server_error","error_description":"internal server error"}`, rec.Body.String())

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, true, fields["error.panic"])
	assert.Equal(t, "panic", fields["error.original_type"])
}

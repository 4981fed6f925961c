package grantd

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name            string
		conf            *SecurityHeaders
		expectedHeaders map[string]string
		expectedError   error
	}{
		{
			name: "empty",
			conf: &SecurityHeaders{},
			expectedHeaders: map[string]string{
				"Referrer-Policy":        "strict-origin-when-cross-origin",
				"X-Content-Type-Options": "nosniff",
			},
		},
		{
			name: "x-frame-options-deny",
			conf: &SecurityHeaders{XFramesOptions: XFramesOptionsDeny},
			expectedHeaders: map[string]string{
				"Referrer-Policy":        "strict-origin-when-cross-origin",
				"X-Content-Type-Options": "nosniff",
				"X-Frame-Options":        "DENY",
			},
		},
		{
			name: "x-frame-options-sameorigin",
			conf: &SecurityHeaders{XFramesOptions: XFramesOptionsSameOrigin},
			expectedHeaders: map[string]string{
				"Referrer-Policy":        "strict-origin-when-cross-origin",
				"X-Content-Type-Options": "nosniff",
				"X-Frame-Options":        "SAMEORIGIN",
			},
		},
		{
			name: "hsts expiration only",
			conf: &SecurityHeaders{HSTSExpiration: time.Hour * 24},
			expectedHeaders: map[string]string{
				"Referrer-Policy":           "strict-origin-when-cross-origin",
				"X-Content-Type-Options":    "nosniff",
				"Strict-Transport-Security": "max-age=86400",
			},
		},
		{
			name: "hsts full",
			conf: &SecurityHeaders{
				HSTSExpiration:        time.Hour * 24 * 365,
				HSTSIncludeSubdomains: true,
				HSTSPreload:           true,
			},
			expectedHeaders: map[string]string{
				"Referrer-Policy":           "strict-origin-when-cross-origin",
				"X-Content-Type-Options":    "nosniff",
				"Strict-Transport-Security": "max-age=31536000; includeSubDomains; preload",
			},
		},
		{
			name: "hsts full short expiration",
			conf: &SecurityHeaders{
				HSTSExpiration:        time.Hour * 24,
				HSTSIncludeSubdomains: true,
				HSTSPreload:           true,
			},
			expectedError: ErrBadHSTSExpiration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			err := tt.conf.Apply(w)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Len(t, w.Header(), len(tt.expectedHeaders))
			for k, v := range tt.expectedHeaders {
				assert.Equal(t, v, w.Header().Get(k), k)
			}
		})
	}
}

func TestSecurityHeaders_Middleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	h := (&SecurityHeaders{XFramesOptions: XFramesOptionsDeny}).Middleware(ok)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	bad := (&SecurityHeaders{HSTSExpiration: time.Hour, HSTSPreload: true}).Middleware(ok)
	w = httptest.NewRecorder()
	bad.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

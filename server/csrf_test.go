package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/lumenweb/grantd/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var signingKey = []byte("secret-key")

func TestGenerateAndVerifyCSRFToken(t *testing.T) {
	token := generateCSRFToken(signingKey)
	require.NotEmpty(t, token)
	assert.NoError(t, verifyCSRFToken(token, signingKey))
	assert.Error(t, verifyCSRFToken(token, []byte("other-key")))
}

func TestVerifyCSRFToken_Malformed(t *testing.T) {
	for _, token := range []string{"invalidtokenformat", "ZZZZ_ABCD1234", "ABC123_ZZZZ"} {
		t.Run(token, func(t *testing.T) {
			err := verifyCSRFToken(token, signingKey)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCSRF)

			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, codes.FailedPrecondition, st.Code())
			assert.Equal(t, http.StatusForbidden, errors.HTTPStatusCode(err))
		})
	}
}

func postForm(token string, cookie string) *http.Request {
	form := url.Values{}
	if token != "" {
		form.Set(CSRFParam, token)
	}
	r := httptest.NewRequest(http.MethodPost, "/oauth/authorize", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != "" {
		r.AddCookie(&http.Cookie{Name: CSRFCookie, Value: cookie})
	}
	return r
}

func TestVerifyCSRF(t *testing.T) {
	good := generateCSRFToken(signingKey)
	other := generateCSRFToken(signingKey)
	forged := generateCSRFToken([]byte("attacker"))

	tests := []struct {
		name   string
		token  string
		cookie string
		ok     bool
	}{
		{"valid", good, good, true},
		{"missing param", "", good, false},
		{"missing cookie", good, "", false},
		{"mismatch", good, other, false},
		{"forged signature", forged, forged, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyCSRF(postForm(tt.token, tt.cookie), signingKey)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrCSRF)
			}
		})
	}
}

func TestSendCSRFToken(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	token := SendCSRFToken(w, r, signingKey)
	require.NoError(t, verifyCSRFToken(token, signingKey))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CSRFCookie, cookies[0].Name)
	assert.Equal(t, token, cookies[0].Value)
	assert.False(t, cookies[0].HttpOnly)

	// An existing valid cookie is reused.
	r.AddCookie(cookies[0])
	assert.Equal(t, token, SendCSRFToken(httptest.NewRecorder(), r, signingKey))

	// A cookie signed with another key is replaced.
	r = httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	r.AddCookie(&http.Cookie{Name: CSRFCookie, Value: generateCSRFToken([]byte("old"))})
	assert.NotEqual(t, cookies[0].Value, SendCSRFToken(httptest.NewRecorder(), r, signingKey))
}

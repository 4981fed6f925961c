package grantd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lumenweb/grantd/logging"
	"github.com/lumenweb/grantd/server/serverutil"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type routedPlugin struct {
	initialized bool
}

func (p *routedPlugin) Name() string { return "routed" }

func (p *routedPlugin) Init(ctx context.Context, r *Registry) error {
	p.initialized = true
	return nil
}

func (p *routedPlugin) ServerOptions() []ServerOption {
	return []ServerOption{
		WithRoutes(func(r chi.Router) {
			r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, serverutil.AddressFromContext(r.Context()))
			})
		}),
	}
}

func TestNew_RoutesAndMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := logging.With(context.Background(), logging.NewZapLogger(zap.New(core)))

	p := &routedPlugin{}
	s := New(
		WithContext(ctx),
		WithAddress("https://auth.example.com"),
		WithPlugin(p),
		WithJSONHandler("/ping", func(*http.Request) (any, error) { return map[string]bool{"ok": true}, nil }),
	)
	require.NoError(t, s.Init(ctx))
	assert.True(t, p.initialized)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://auth.example.com", w.Body.String())
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get(logging.RequestIDHeader))

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.NotZero(t, logs.FilterMessage("request handled").Len())
}

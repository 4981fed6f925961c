// Package grantd assembles the authorization server from configuration and
// plugins.
//
//	grantd.LoadConfigFile("./grantd.yaml")
//	s := grantd.New(
//		grantd.WithPlugin(storage.Plugin()),
//		grantd.WithPlugin(auth.Plugin()),
//		grantd.WithPlugin(oauth.Plugin()),
//	)
//	if err := s.Start(); err != nil {
//		log.Fatal(err)
//	}
package grantd

import (
	"context"
	"net/http"

	"github.com/lumenweb/grantd/internal/config"
	"github.com/lumenweb/grantd/logging"
	"github.com/lumenweb/grantd/server"
	"github.com/lumenweb/grantd/server/serverutil"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc"
)

// ServerOption customizes the server built by New.
type ServerOption func(*builder)

// OptionProvider can be implemented by plugins to augment the server at build
// time, typically to mount routes.
type OptionProvider interface {
	ServerOptions() []ServerOption
}

type builder struct {
	baseContext     context.Context
	host            string
	port            int
	address         string
	certFile        string
	keyFile         string
	securityHeaders *SecurityHeaders

	plugins      *Registry
	routes       []func(chi.Router)
	interceptors []grpc.UnaryServerInterceptor
}

// New returns a server configured from Config and opts. Plugins are
// initialized, in dependency order, when the server starts.
func New(opts ...ServerOption) *server.Server {
	config.EnsureDefaultsLoaded(Config)

	b := &builder{
		host:     Config.String("server.host"),
		port:     Config.Int("server.port"),
		address:  Config.String("address"),
		certFile: Config.String("server.tls.certFile"),
		keyFile:  Config.String("server.tls.keyFile"),
		securityHeaders: &SecurityHeaders{
			XFramesOptions:        XFramesOptions(Config.String("server.security.xFramesOptions")),
			HSTSExpiration:        Config.Duration("server.security.hstsExpiration"),
			HSTSIncludeSubdomains: Config.Bool("server.security.hstsIncludeSubdomains"),
			HSTSPreload:           Config.Bool("server.security.hstsPreload"),
		},
		plugins: &Registry{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b.build()
}

func (b *builder) build() *server.Server {
	if b.baseContext == nil {
		b.baseContext = context.Background()
	}
	ctx := b.baseContext
	if logging.FromContext(ctx) == nil {
		if Config.String("logging.format") == "json" {
			ctx = logging.With(ctx, logging.NewProdLogger())
		} else {
			ctx = logging.With(ctx, logging.NewDevLogger())
		}
	}
	ctx = serverutil.WithAddress(ctx, b.address)

	if w := ConfigWarnings(); w != "" {
		logging.Warnf(ctx, "%s", w)
	}

	r := chi.NewRouter()
	r.Use(
		logging.Middleware(logging.FromContext(ctx)),
		addressMiddleware(b.address),
		b.securityHeaders.Middleware,
	)
	for _, fn := range b.routes {
		fn(r)
	}

	return server.New(server.Config{
		Host:         b.host,
		Port:         b.port,
		CertFile:     b.certFile,
		KeyFile:      b.keyFile,
		BaseContext:  ctx,
		Handler:      r,
		Interceptors: b.interceptors,
		OnStart:      []func(context.Context) error{b.plugins.Init},
		OnShutdown:   []func(context.Context) error{b.plugins.Shutdown},
	})
}

func addressMiddleware(address string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(serverutil.WithAddress(r.Context(), address)))
		})
	}
}

// WithContext sets the base context for the server. A logger attached with
// logging.With is used for all request scopes.
func WithContext(ctx context.Context) ServerOption {
	return func(b *builder) {
		b.baseContext = ctx
	}
}

// WithHost configures the hostname or IP the server will listen on.
//
// Config key: `server.host`.
func WithHost(host string) ServerOption {
	return func(b *builder) {
		b.host = host
	}
}

// WithPort configures the port the server will listen on.
//
// Config key: `server.port`.
func WithPort(port int) ServerOption {
	return func(b *builder) {
		b.port = port
	}
}

// WithAddress sets the external address used for issuers and cookies.
//
// Config key: `address`.
func WithAddress(address string) ServerOption {
	return func(b *builder) {
		b.address = address
	}
}

// WithTLS configures the server to allow traffic via TLS using the provided
// cert. If not called server will use HTTP/H2C.
//
// Config keys: `server.tls.certFile`, `server.tls.keyFile`.
func WithTLS(certFile, keyFile string) ServerOption {
	return func(b *builder) {
		b.certFile = certFile
		b.keyFile = keyFile
	}
}

// WithSecurityHeaders sets the security headers applied to HTTP responses.
//
// Config keys: `server.security.*`.
func WithSecurityHeaders(headers *SecurityHeaders) ServerOption {
	return func(b *builder) {
		b.securityHeaders = headers
	}
}

// WithRoutes mounts routes on the server's router.
func WithRoutes(fn func(r chi.Router)) ServerOption {
	return func(b *builder) {
		b.routes = append(b.routes, fn)
	}
}

// WithHTTPHandler adds an HTTP handler for a chi pattern.
func WithHTTPHandler(pattern string, h http.Handler) ServerOption {
	return WithRoutes(func(r chi.Router) {
		r.Handle(pattern, h)
	})
}

// WithGRPCInterceptor configures gRPC unary interceptors. They will be
// executed in the order they were added.
func WithGRPCInterceptor(interceptor grpc.UnaryServerInterceptor) ServerOption {
	return func(b *builder) {
		b.interceptors = append(b.interceptors, interceptor)
	}
}

// WithPlugin registers a plugin with the server's registry. If the plugin
// implements OptionProvider its options are applied too.
func WithPlugin(p Plugin) ServerOption {
	return func(b *builder) {
		if so, ok := p.(OptionProvider); ok {
			for _, opt := range so.ServerOptions() {
				opt(b)
			}
		}
		b.plugins.Register(p)
	}
}

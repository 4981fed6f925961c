// Package server runs the HTTP routes and the gRPC health service on a single
// port. gRPC requests are recognised by content type and everything else goes
// to the HTTP handler; plaintext HTTP/2 is served via h2c.
//
//	s := server.New(server.Config{Host: "localhost", Port: 8000, Handler: router})
//	if err := s.Start(); err != nil {
//		log.Fatal(err)
//	}
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/logging"

	"github.com/NYTimes/gziphandler"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultShutdownTimeout bounds how long in-flight requests may drain.
const DefaultShutdownTimeout = 5 * time.Second

// Config describes how to build a Server.
type Config struct {
	// Hostname or IP to bind to.
	Host string

	// Port to listen on. Zero picks a free port.
	Port int

	// Certificate and key, if TLS is to be used.
	CertFile string
	KeyFile  string

	// Context that request contexts derive from. Carries the logger.
	BaseContext context.Context

	// Handles regular HTTP requests.
	Handler http.Handler

	// Additional gRPC interceptors, run after logging.
	Interceptors []grpc.UnaryServerInterceptor

	// Run once, in order, before the server reports SERVING.
	OnStart []func(context.Context) error

	// Run once, in order, after connections have drained.
	OnShutdown []func(context.Context) error

	ShutdownTimeout time.Duration
}

// Server wraps an HTTP server and a gRPC server sharing one listener.
type Server struct {
	cfg Config

	baseContext context.Context
	grpcServer  *grpc.Server
	health      *health.Server
	handler     http.Handler

	initOnce     sync.Once
	initErr      error
	shutdownOnce sync.Once

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// New builds a server. Nothing listens until Start or Serve is called.
func New(cfg Config) *Server {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Handler == nil {
		cfg.Handler = http.NotFoundHandler()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	ctx := logging.EnsureLogger(cfg.BaseContext)

	interceptors := append([]grpc.UnaryServerInterceptor{
		baseLoggerInterceptor(logging.FromContext(ctx)),
		logging.Interceptor(),
	}, cfg.Interceptors...)

	s := &Server{
		cfg:         cfg,
		baseContext: ctx,
		grpcServer:  grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...)),
		health:      health.NewServer(),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	httpHandler := gziphandler.GzipHandler(cfg.Handler)
	s.handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor == 2 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc") {
			s.grpcServer.ServeHTTP(w, r)
		} else {
			httpHandler.ServeHTTP(w, r)
		}
	})
	return s
}

// ServiceRegistrar returns the gRPC registrar for additional services.
func (s *Server) ServiceRegistrar() grpc.ServiceRegistrar {
	return s.grpcServer
}

// Health returns the health service, e.g. to report a dependency outage.
func (s *Server) Health() *health.Server {
	return s.health
}

// Handler returns the multiplexing handler without h2c or TLS, for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// BaseContext returns the context requests derive from, carrying the logger.
func (s *Server) BaseContext() context.Context {
	return s.baseContext
}

// Addr returns the bound address once the server is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Init runs the start hooks once and marks the server SERVING. Serve calls
// it implicitly; call it directly to do work between init and serving.
func (s *Server) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		for _, fn := range s.cfg.OnStart {
			if err := fn(ctx); err != nil {
				s.initErr = err
				return
			}
		}
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	})
	return s.initErr
}

// Start serving requests on the configured address. Blocks until SIGINT or
// SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(s.baseContext, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.ListenAndServe(ctx)
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapPrefix(err, "server: failed to listen", 0)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then drains them and
// runs the shutdown hooks.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.Init(ctx); err != nil {
		ln.Close()
		return err
	}

	hs := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return s.baseContext },
		ReadHeaderTimeout: 10 * time.Second,
	}
	secure := s.cfg.CertFile != "" && s.cfg.KeyFile != ""
	if secure {
		hs.Handler = s.handler
		hs.TLSConfig = safeTLSConfig()
	} else {
		hs.Handler = h2c.NewHandler(s.handler, &http2.Server{})
	}

	s.mu.Lock()
	s.httpServer = hs
	s.addr = ln.Addr()
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if secure {
			logging.Infof(s.baseContext, "listening for traffic on https://%s", ln.Addr())
			errCh <- hs.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			logging.Infof(s.baseContext, "listening for traffic on http://%s", ln.Addr())
			errCh <- hs.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logging.Info(s.baseContext, "graceful shutdown triggered")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(s.baseContext), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections, drains in-flight requests, and runs
// the shutdown hooks.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	s.mu.Lock()
	hs := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	var err error
	if hs != nil {
		err = hs.Shutdown(ctx)
		if err != nil {
			logging.Errorw(s.baseContext, "shutdown error", "error", err)
		} else {
			logging.Info(s.baseContext, "connections drained")
		}
	}
	s.grpcServer.Stop()

	s.shutdownOnce.Do(func() {
		for _, fn := range s.cfg.OnShutdown {
			if herr := fn(ctx); herr != nil && err == nil {
				err = herr
			}
		}
	})
	return err
}

func baseLoggerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if logging.FromContext(ctx) == nil {
			ctx = logging.With(ctx, base)
		}
		return handler(ctx, req)
	}
}

// TLS1.2 min and support for HTTP2.
func safeTLSConfig() *tls.Config {
	return &tls.Config{
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
}

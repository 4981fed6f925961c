package logging

import (
	"context"
	"reflect"

	"github.com/lumenweb/grantd/errors"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"google.golang.org/grpc"
)

const stackSize = 5

// Interceptor returns a gRPC unary interceptor that scopes a logger to each
// call, recovers panics, and writes one log line per call.
func Interceptor() grpc.UnaryServerInterceptor {
	return grpc_middleware.ChainUnaryServer(scopingInterceptor, grpcLoggingInterceptor, errorInterceptor)
}

func scopingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx = EnsureLogger(ctx)
	return handler(With(ctx, FromContext(ctx).Named(info.FullMethod)), req)
}

func errorInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			Track(ctx, "error.panic", true)
			err = errors.FromPanic(r, 2)
			resp = nil
		}
		if err != nil {
			TrackError(ctx, err)
		}
	}()
	resp, err = handler(ctx, req)
	return
}

// TrackError adds type, status, and a short stack for err to the current scope.
func TrackError(ctx context.Context, err error) {
	Track(ctx, "error.type", reflect.TypeOf(err).String())
	Track(ctx, "error.http_status", errors.HTTPStatusCode(err))

	var e *errors.Error
	if errors.As(err, &e) {
		Track(ctx, "error.stack_trace", e.MinimalStack(0, stackSize))
		Track(ctx, "error.original_type", e.TypeName())
	}
}

var grpcLoggingInterceptor = grpc_logging.UnaryServerInterceptor(grpc_logging.LoggerFunc(func(ctx context.Context, lvl grpc_logging.Level, msg string, fields ...any) {
	logger := quiet(FromContext(ctx))
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := fields[i].(string)
		logger = logger.With(key, fields[i+1])
	}

	switch lvl {
	case grpc_logging.LevelDebug:
		logger.Debug(msg)
	case grpc_logging.LevelInfo:
		logger.Info(msg)
	case grpc_logging.LevelWarn:
		logger.Warn(msg)
	default:
		logger.Error(msg)
	}
}))

// quiet strips zap's own stack capture; the interceptor's frames add nothing
// and errors carry their own.
func quiet(l Logger) Logger {
	if z, ok := l.(*ZapLogger); ok {
		return z.withoutStacktraces()
	}
	return l
}

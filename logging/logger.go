// Package logging provides a context scoped, structured logger backed by zap.
//
// Each request gets its own scope. Handlers add fields with Track, and those
// fields show up on the access log line written when the request completes:
//
//	func (h *handler) token(w http.ResponseWriter, r *http.Request) {
//		logging.Track(r.Context(), "oauth.client_id", clientID)
//		...
//	}
package logging

import (
	"context"
	"sync"
)

type ctxkey struct {
	mu     sync.Mutex
	logger Logger
}

// With attaches a logger to the context, creating a new scope.
//
//	for _, c := range clients {
//		ctx := logging.With(ctx, logger.Named(c.ID))
//		seed(ctx, c)
//	}
func With(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxkey{}, &ctxkey{logger: logger})
}

// FromContext returns the scoped logger, or nil if none is attached.
func FromContext(ctx context.Context) Logger {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.logger
	}
	return nil
}

// EnsureLogger returns ctx unchanged if it already carries a logger, otherwise
// a context with a development logger attached.
func EnsureLogger(ctx context.Context) context.Context {
	if FromContext(ctx) != nil {
		return ctx
	}
	return With(ctx, NewDevLogger())
}

// Track adds a field to the current scope. Tracked fields persist for the rest
// of the scope, including the access log line written by the middleware, so
// open a new scope with With before tracking inside a loop.
func Track(ctx context.Context, field string, value any) {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok {
		c.mu.Lock()
		c.logger = c.logger.With(field, value)
		c.mu.Unlock()
	}
}

// Logger is modelled on zap's SugaredLogger so other backends can be adapted.
type Logger interface {
	Debug(args ...any)
	Debugw(msg string, keysAndValues ...any)
	Debugf(msg string, args ...any)
	Info(args ...any)
	Infow(msg string, keysAndValues ...any)
	Infof(msg string, args ...any)
	Warn(args ...any)
	Warnw(msg string, keysAndValues ...any)
	Warnf(msg string, args ...any)
	Error(args ...any)
	Errorw(msg string, keysAndValues ...any)
	Errorf(msg string, args ...any)
	Fatalw(msg string, keysAndValues ...any)

	// Named creates a child logger with the given name segment.
	Named(name string) Logger

	// With creates a child logger with a structured field attached.
	With(field string, value any) Logger
}

// scoped returns the context logger, or a no-op logger when none is attached.
func scoped(ctx context.Context) Logger {
	if l := FromContext(ctx); l != nil {
		return l
	}
	return nop
}

func Debugw(ctx context.Context, msg string, fields ...any) {
	scoped(ctx).Debugw(msg, fields...)
}

func Debugf(ctx context.Context, msg string, args ...any) {
	scoped(ctx).Debugf(msg, args...)
}

func Info(ctx context.Context, msg string) {
	scoped(ctx).Info(msg)
}

func Infow(ctx context.Context, msg string, fields ...any) {
	scoped(ctx).Infow(msg, fields...)
}

func Infof(ctx context.Context, msg string, args ...any) {
	scoped(ctx).Infof(msg, args...)
}

func Warnw(ctx context.Context, msg string, fields ...any) {
	scoped(ctx).Warnw(msg, fields...)
}

func Warnf(ctx context.Context, msg string, args ...any) {
	scoped(ctx).Warnf(msg, args...)
}

func Error(ctx context.Context, msg string) {
	scoped(ctx).Error(msg)
}

func Errorw(ctx context.Context, msg string, fields ...any) {
	scoped(ctx).Errorw(msg, fields...)
}

func Errorf(ctx context.Context, msg string, args ...any) {
	scoped(ctx).Errorf(msg, args...)
}

func Fatalw(ctx context.Context, msg string, fields ...any) {
	scoped(ctx).Fatalw(msg, fields...)
}

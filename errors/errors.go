// Package errors provides an error type that carries a stack trace, a gRPC
// status code, an optional HTTP status override, and a message that is safe to
// show to callers.
//
// Errors that cross a trust boundary (an HTTP response, a gRPC status) should
// use PublicMessage() so that storage or driver details are never leaked:
//
//	var ErrStorage = errors.NewC("storage failure", codes.Internal).
//		WithPublicMessage("temporary server error")
//
//	func load(ctx context.Context) error {
//		if err := db.PingContext(ctx); err != nil {
//			return errors.Mark(ErrStorage, 0).Append(err.Error())
//		}
//		return nil
//	}
//
// Callers test identity with Is, which sees through wrapping and marking:
//
//	if errors.Is(err, ErrStorage) {
//		logging.Errorw(ctx, "storage failure", "stack", errors.MinimalStack(err, 0, 5))
//	}
package errors

import (
	baseErrors "errors"
	"fmt"
	"net/http"
	"reflect"
	"runtime"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MaxStackDepth limits the number of frames captured on any error.
var MaxStackDepth = 50

// Error is an error with an attached stack trace.
type Error struct {
	Err    error
	stack  []uintptr
	frames []StackFrame
	prefix string
	suffix string

	// gRPC status code associated with the error.
	code codes.Code

	// Overrides the HTTP status derived from code.
	httpStatusCode int

	// Message returned to clients in place of Error().
	publicMessage string
}

// New makes an Error from the given value with codes.Unknown.
func New(e any) *Error {
	return newError(e, codes.Unknown, 1)
}

// NewC makes an Error with the given gRPC code.
func NewC(e any, code codes.Code) *Error {
	return newError(e, code, 1)
}

func newError(e any, code codes.Code, skip int) *Error {
	return &Error{
		Err:   toError(e),
		stack: callers(2 + skip),
		code:  code,
	}
}

// Wrap makes an Error from the given value. Values that are already *Error
// are returned untouched. The skip parameter indicates how far up the stack to
// start the trace; 0 is the caller of Wrap.
func Wrap(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		return err
	}
	return &Error{
		Err:   toError(e),
		stack: callers(2 + skip),
		code:  codes.Unknown,
	}
}

// MaybeWrap wraps e if it is a non-nil error and returns a nil error
// otherwise. It avoids the typed-nil trap of returning a nil *Error as error.
func MaybeWrap(e error, skip int) error {
	if e == nil {
		return nil
	}
	return Wrap(e, 1+skip)
}

// WrapPrefix is like Wrap but prepends prefix to the message.
func WrapPrefix(e any, prefix string, skip int) *Error {
	if e == nil {
		return nil
	}
	err := Wrap(e, 1+skip)
	if err.prefix != "" {
		prefix = prefix + ": " + err.prefix
	}
	c := err.clone()
	c.prefix = prefix
	return c
}

// Mark returns a copy of e with the stack trace reset to the point of the
// call. Sentinel errors declared at package level should be marked at the
// point they are returned so that traces are useful.
func Mark(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		c := err.clone()
		c.stack = callers(2 + skip)
		c.frames = nil
		return c
	}
	return Wrap(e, 1+skip)
}

// Errorf is a drop-in replacement for fmt.Errorf that records a stack trace.
func Errorf(format string, a ...any) *Error {
	return Wrap(fmt.Errorf(format, a...), 1)
}

// WithCode wraps err and sets its gRPC code.
func WithCode(err error, code codes.Code) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithCode(code)
}

// WithHTTPStatusCode wraps err and sets an explicit HTTP status.
func WithHTTPStatusCode(err error, code int) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithHTTPStatusCode(code)
}

// WithPublicMessage wraps err and sets the client facing message.
func WithPublicMessage(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithPublicMessage(msg)
}

// Is reports whether e matches original, looking through *Error wrappers on
// either side.
func Is(e error, original error) bool {
	if baseErrors.Is(e, original) {
		return true
	}
	if err, ok := e.(*Error); ok {
		return Is(err.Err, original)
	}
	if err, ok := original.(*Error); ok {
		return Is(e, err.Err)
	}
	return false
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return baseErrors.As(err, target)
}

// Error returns the message, including any prefix and appended detail.
func (err *Error) Error() string {
	msg := err.Err.Error()
	if err.prefix != "" {
		msg = err.prefix + ": " + msg
	}
	if err.suffix != "" {
		msg = msg + ": " + err.suffix
	}
	return msg
}

// Append returns a copy of the error with extra detail added to the message.
// The public message is not affected.
func (err *Error) Append(detail string) *Error {
	c := err.clone()
	if c.suffix != "" {
		c.suffix = c.suffix + ": " + detail
	} else {
		c.suffix = detail
	}
	return c
}

// Is lets the standard library match marked or cloned copies of a sentinel
// against the sentinel itself.
func (err *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return baseErrors.Is(err.Err, t.Err)
	}
	return false
}

// Unwrap supports errors.Is and errors.As.
func (err *Error) Unwrap() error {
	return err.Err
}

// Code returns the gRPC code.
func (err *Error) Code() codes.Code {
	return err.code
}

// WithCode sets the gRPC code.
func (err *Error) WithCode(code codes.Code) *Error {
	err.code = code
	return err
}

// HTTPStatusCode returns the explicit HTTP status if one was set, otherwise a
// status derived from the gRPC code.
func (err *Error) HTTPStatusCode() int {
	if err.httpStatusCode != 0 {
		return err.httpStatusCode
	}
	switch err.code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WithHTTPStatusCode sets the HTTP status.
func (err *Error) WithHTTPStatusCode(code int) *Error {
	err.httpStatusCode = code
	return err
}

// PublicMessage returns the message that may be shown to clients.
func (err *Error) PublicMessage() string {
	if err.publicMessage != "" {
		return err.publicMessage
	}
	return err.Error()
}

// WithPublicMessage sets the client facing message.
func (err *Error) WithPublicMessage(msg string) *Error {
	err.publicMessage = msg
	return err
}

// GRPCStatus lets the gRPC runtime convert the error into a status.
func (err *Error) GRPCStatus() *status.Status {
	return status.New(err.code, err.PublicMessage())
}

// TypeName returns the type of the wrapped error, e.g. *fmt.wrapError.
func (err *Error) TypeName() string {
	if _, ok := err.Err.(panicError); ok {
		return "panic"
	}
	return reflect.TypeOf(err.Err).String()
}

func (err *Error) clone() *Error {
	return &Error{
		Err:            err.Err,
		stack:          err.stack,
		prefix:         err.prefix,
		suffix:         err.suffix,
		code:           err.code,
		httpStatusCode: err.httpStatusCode,
		publicMessage:  err.publicMessage,
	}
}

// Code returns the gRPC code for err, looking through wrapped errors.
// Errors without a code report codes.Unknown.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var c codedError
	if baseErrors.As(err, &c) {
		return c.Code()
	}
	return codes.Unknown
}

// HTTPStatusCode returns the HTTP status for err, looking through wrapped
// errors. Errors without a status report 500.
func HTTPStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var h httpError
	if baseErrors.As(err, &h) {
		return h.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

type codedError interface {
	Code() codes.Code
}

type httpError interface {
	HTTPStatusCode() int
}

// panicError is used when a recovered panic value is not itself an error.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// FromPanic converts a value returned by recover() into an Error with
// codes.Internal. The skip parameter works as in Wrap.
func FromPanic(r any, skip int) *Error {
	var err error
	if e, ok := r.(error); ok {
		err = e
	} else {
		err = panicError{value: r}
	}
	return &Error{
		Err:   err,
		stack: callers(2 + skip),
		code:  codes.Internal,
	}
}

func toError(e any) error {
	switch e := e.(type) {
	case error:
		return e
	default:
		return fmt.Errorf("%v", e)
	}
}

func callers(skip int) []uintptr {
	stack := make([]uintptr, MaxStackDepth)
	length := runtime.Callers(1+skip, stack)
	return stack[:length]
}

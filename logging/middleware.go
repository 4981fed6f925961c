package logging

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lumenweb/grantd/errors"
)

// RequestIDHeader is echoed on every response handled by Middleware.
const RequestIDHeader = "X-Request-Id"

// Middleware opens a logging scope per HTTP request and writes an access log
// line when the handler returns. Panics are recovered, logged with a stack,
// and answered with a 500 carrying an OAuth style server_error body.
func Middleware(base Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			logger := base
			if logger == nil {
				logger = FromContext(r.Context())
			}
			if logger == nil {
				logger = NewDevLogger()
			}
			ctx := With(r.Context(), logger.Named("http").With("http.request_id", reqID))
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				if rec := recover(); rec != nil {
					err := errors.FromPanic(rec, 2)
					Track(ctx, "error.panic", true)
					TrackError(ctx, err)
					if !rw.wroteHeader {
						rw.Header().Set("Content-Type", "application/json")
						rw.WriteHeader(http.StatusInternalServerError)
						_, _ = rw.Write([]byte(`{"error":"server_error","error_description":"internal server error"}`))
					}
				}

				l := quiet(FromContext(ctx)).
					With("http.method", r.Method).
					With("http.path", r.URL.Path).
					With("http.status", rw.status).
					With("http.duration", time.Since(start).String())
				switch {
				case rw.status >= 500:
					l.Error("request failed")
				case rw.status >= 400:
					l.Warn("request rejected")
				default:
					l.Info("request handled")
				}
			}()

			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// Actor is the authenticated identity attached to a request.
type Actor struct {
	ID             string
	Role           string
	OrganizationID string
	SessionID      string
}

// actorKey is the context key for the authenticated actor.
type actorKey struct{}

// errorCodeKey is the context key for error code.
type errorCodeKey struct{}

// errorCodeHolder lets a handler publish an error code to middleware that
// wrapped it: the logging middleware injects a holder before the handler
// runs and reads it after the handler returns.
type errorCodeHolder struct {
	mu   sync.Mutex
	code string
}

// SetActor stores the authenticated actor in the context.
// This should be called by authentication middleware after validating the token.
func SetActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// GetActor retrieves the actor from context. Returns the zero Actor if not present.
func GetActor(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{}
}

// SetErrorCode stores an error code in the context.
// This should be called by handlers when returning error responses. When the
// logging middleware has injected a holder the code is visible to it even
// though the handler's derived context never propagates back up the chain.
func SetErrorCode(ctx context.Context, code string) context.Context {
	if h, ok := ctx.Value(errorCodeKey{}).(*errorCodeHolder); ok {
		h.mu.Lock()
		h.code = code
		h.mu.Unlock()
		return ctx
	}
	h := &errorCodeHolder{code: code}
	return context.WithValue(ctx, errorCodeKey{}, h)
}

// GetErrorCode retrieves the error code from context. Returns empty string if not present.
func GetErrorCode(ctx context.Context) string {
	if h, ok := ctx.Value(errorCodeKey{}).(*errorCodeHolder); ok {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.code
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code and response size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
// Only the first call sets the status code; subsequent calls are ignored
// to match http.ResponseWriter behavior where only the first status is sent.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// newResponseWriter creates a new responseWriter with default 200 status.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// NewLogger creates an slog.Logger based on the environment.
// In production (env == "production"), it returns a JSON handler.
// Otherwise, it returns a text handler for development.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

// Logging is a middleware that logs HTTP requests with structured fields.
// It captures: method, path, status, latency (ms), request ID, actor ID (if
// authenticated), response size, and error_code (for error responses).
//
// Note: If a handler panics, the log entry will not be written. To ensure logging
// even on panics, place a recovery middleware outside of the logging middleware.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := newResponseWriter(w)

			// Inject a holder so handlers can surface an error code here.
			r = r.WithContext(context.WithValue(r.Context(), errorCodeKey{}, &errorCodeHolder{}))

			next.ServeHTTP(rw, r)

			latency := time.Since(start).Milliseconds()

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", latency),
				slog.Int("size", rw.size),
			}

			if requestID := GetRequestID(r.Context()); requestID != "" {
				attrs = append(attrs, slog.String("request_id", requestID))
			}

			if actor := GetActor(r.Context()); actor.ID != "" {
				attrs = append(attrs, slog.String("actor_id", actor.ID))
			}

			// Add error code for error responses (4xx and 5xx)
			if rw.statusCode >= 400 {
				if errorCode := GetErrorCode(r.Context()); errorCode != "" {
					attrs = append(attrs, slog.String("error_code", errorCode))
				}
			}

			if rw.statusCode >= 500 {
				logger.LogAttrs(r.Context(), slog.LevelError, "request completed", attrs...)
			} else if rw.statusCode >= 400 {
				logger.LogAttrs(r.Context(), slog.LevelWarn, "request completed", attrs...)
			} else {
				logger.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
			}
		})
	}
}

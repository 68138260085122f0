package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/aetherhome/aether/pkg/logger"
	"github.com/aetherhome/aether/pkg/response"
)

// RequestID adds a unique request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), logger.RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging writes one line per request through chi's RequestLogger. Server
// errors log at error level and client errors at warn.
func Logging(next http.Handler) http.Handler {
	return middleware.RequestLogger(requestLogger{})(next)
}

type requestLogger struct{}

func (requestLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestEntry{r: r}
}

type requestEntry struct {
	r *http.Request
}

func (e *requestEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}
	logger.WithContext(e.r.Context()).Log(e.r.Context(), level, "Request handled",
		"method", e.r.Method,
		"route", routePattern(e.r),
		"status", status,
		"bytes", bytes,
		"elapsed_ms", elapsed.Milliseconds(),
		"remote_ip", ClientIP(e.r),
	)
}

func (e *requestEntry) Panic(v interface{}, stack []byte) {
	logger.ErrorContext(e.r.Context(), "Handler panicked",
		"panic", v,
		"stack", string(stack),
		"route", routePattern(e.r),
	)
}

// routePattern prefers the matched chi pattern so ids stay out of log keys.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// Recover turns a handler panic into a 500 with the usual error body.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.ErrorContext(r.Context(), "Panic recovered", "error", err)
				response.InternalError(w, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ServiceName adds service name to context for logging
func ServiceName(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), logger.ServiceKey, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Health answers /healthz. With a ping it also reports whether the
// database is reachable, and answers 503 when it is not.
func Health(ping func(context.Context) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			status, code := "ok", http.StatusOK
			if ping != nil {
				ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
				defer cancel()
				if err := ping(ctx); err != nil {
					logger.WarnContext(ctx, "Health check failed", "error", err)
					status, code = "degraded", http.StatusServiceUnavailable
				}
			}
			response.WriteJSON(w, code, map[string]string{
				"status":    status,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		})
	}
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-relay/internal/infra/logging"
	"agent-relay/internal/infra/metrics"
)

type Middleware func(http.Handler) http.Handler

// TraceID reuses an incoming X-Request-ID or mints one, and echoes it back.
func TraceID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tid := r.Header.Get("X-Request-ID")
			if tid == "" {
				tid = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", tid)
			ctx := logging.WithTraceID(r.Context(), tid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLog logs and measures every request under its chi route pattern.
func RequestLog(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			d := time.Since(start)
			metrics.ObserveHTTP(route, r.Method, ww.status, d)

			l := logging.With(r.Context(), logger)
			ev := l.Info()
			if ww.status >= http.StatusInternalServerError {
				ev = l.Error()
			}
			ev.Str("method", r.Method).
				Str("route", route).
				Int("status", ww.status).
				Dur("duration", d).
				Msg("http_request")
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func Recover(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l := logging.With(r.Context(), logger)
					l.Error().Interface("panic", rec).Msg("panic recovered")
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

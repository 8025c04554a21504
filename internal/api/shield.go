package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/smartboot/internal/idgen"
	"github.com/hazyhaar/smartboot/internal/kit"
)

// apiHeaders locks a JSON-only API down: nothing may frame, embed or
// sniff its responses.
var apiHeaders = http.Header{
	"Content-Security-Policy": {"default-src 'none'; frame-ancestors 'none'"},
	"X-Frame-Options":         {"DENY"},
	"X-Content-Type-Options":  {"nosniff"},
	"Referrer-Policy":         {"no-referrer"},
	"Permissions-Policy":      {"camera=(), microphone=(), geolocation=()"},
}

// SecurityHeaders copies headers onto every response.
func SecurityHeaders(headers http.Header) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dst := w.Header()
			for k, v := range headers {
				dst[k] = v
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HeadToGet lets HEAD reach the GET routes; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBody caps request bodies at n bytes.
func MaxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

const maxRequestIDLen = 64

type loggerKey struct{}

// RequestID echoes a caller's X-Request-ID, or mints one with gen, and
// attaches it to the context and to a per-request logger.
func RequestID(logger *slog.Logger, gen idgen.Generator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > maxRequestIDLen {
				id = gen()
			}
			w.Header().Set("X-Request-ID", id)

			log := logger.With("request_id", id)
			log.Debug("api: request", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

			ctx := context.WithValue(kit.WithRequestID(r.Context(), id), loggerKey{}, log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLogger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}

package httpapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"promptgate/internal/ratelimit"
	"promptgate/pkg/logx"
)

// Middleware is one link in the adapter's interceptor chain.
type Middleware func(http.Handler) http.Handler

// chain composes middlewares so the first listed runs outermost.
func chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type ctxKey int

const identityKey ctxKey = iota

// identityFrom returns the client identity resolved by the auth
// middleware. Handlers always run behind it, so the fallback is only
// for tests hitting handlers directly.
func identityFrom(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey).(string); ok {
		return v
	}
	return "ip:unknown"
}

func recoverMiddleware(log logx.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("handler panicked",
						logx.String("path", r.URL.Path),
						logx.Any("panic", rec),
						logx.Stack(string(debug.Stack())))
					writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func logMiddleware(log logx.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Debug("request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", sw.status),
				logx.Duration("elapsed", time.Since(start)))
		})
	}
}

// AuthConfig mirrors the config section; keys map to subjects.
type AuthConfig struct {
	Enabled bool
	APIKeys map[string]string
}

// authMiddleware resolves the client identity and, when auth is
// enabled, rejects requests without a recognized key. The resolved
// identity lands in the request context for the rate limiter.
func authMiddleware(cfg AuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
					apiKey = strings.TrimPrefix(h, "Bearer ")
				}
			}
			subject := ""
			if apiKey != "" {
				subject = cfg.APIKeys[apiKey]
			}
			if cfg.Enabled && subject == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or unknown API key")
				return
			}
			identity := ratelimit.Identity(subject, apiKey, r.RemoteAddr)
			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

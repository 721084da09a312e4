package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"keepalive/internal/models"

	"github.com/gorilla/mux"
)

// KeyStore resolves bearer tokens to configured API keys. Keys are indexed by
// their SHA-256 hash, so raw keys never stay in memory after startup.
type KeyStore struct {
	byHash map[string]*models.APIKey
}

// NewKeyStore indexes the configured keys. A later duplicate of the same key
// replaces an earlier one.
func NewKeyStore(cfgs []models.APIKeyConfig) *KeyStore {
	ks := &KeyStore{byHash: make(map[string]*models.APIKey, len(cfgs))}
	for _, cfg := range cfgs {
		key := models.NewAPIKey(cfg)
		if key.KeyHash == "" {
			continue
		}
		ks.byHash[key.KeyHash] = key
	}
	return ks
}

// Lookup returns the enabled key for a raw bearer token.
func (ks *KeyStore) Lookup(token string) (*models.APIKey, bool) {
	key, ok := ks.byHash[models.HashAPIKey(token)]
	if !ok || !key.Enabled {
		return nil, false
	}
	return key, true
}

// Len returns the number of indexed keys.
func (ks *KeyStore) Len() int {
	return len(ks.byHash)
}

// authMiddleware requires a valid bearer API key and stores it in the request context.
func authMiddleware(keys *KeyStore, l *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="keepalive"`)
				writeJSONLogged(l, w, http.StatusUnauthorized, models.NewErrorResponse("Authorization required", models.ErrorCodeUnauthorized))
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeJSONLogged(l, w, http.StatusUnauthorized, models.NewErrorResponse("Invalid authorization format", models.ErrorCodeUnauthorized))
				return
			}
			key, ok := keys.Lookup(strings.TrimSpace(authHeader[len(prefix):]))
			if !ok {
				l.Warn("Rejected API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeJSONLogged(l, w, http.StatusUnauthorized, models.NewErrorResponse("Invalid API key", models.ErrorCodeUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(models.ContextWithAPIKey(r.Context(), key)))
		})
	}
}

// RequirePermission creates middleware that enforces a specific permission
func RequirePermission(required string, l *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, _ := models.APIKeyFromContext(r.Context())
			if !key.HasPermission(required) {
				writeJSONLogged(l, w, http.StatusForbidden, models.NewErrorResponse(
					"Insufficient permissions for this operation",
					models.ErrorCodeForbidden,
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests to l. Health endpoints are logged at
// debug level since container health checks hit them every few seconds.
func loggingMiddleware(l *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			if r.URL.Path == "/health" || r.URL.Path == "/api/v1/health" {
				level = slog.LevelDebug
			}
			l.Log(r.Context(), level, "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr)
		})
	}
}

// recoveryMiddleware handles panics
func recoveryMiddleware(l *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					l.Error("Panic recovered", "error", err, "path", r.URL.Path)
					writeJSONLogged(l, w, http.StatusInternalServerError, models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

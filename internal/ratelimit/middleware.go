package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"keepalive/internal/models"
)

// Option configures Middleware.
type Option func(*options)

type options struct {
	proxies *Proxies
	logger  *slog.Logger
}

// WithTrustedProxies lets the listed peers name the client through
// forwarding headers. Without it anonymous requests are keyed by RemoteAddr.
func WithTrustedProxies(p *Proxies) Option {
	return func(o *options) { o.proxies = p }
}

// WithLogger sets the logger used for denied requests.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Middleware returns HTTP middleware that enforces rate limits. It takes two
// limiters: one for anonymous requests (keyed by IP) and one for authenticated
// requests (keyed by API key name). The auth middleware must run first for
// the authenticated limiter to apply.
func Middleware(anonymous Limiter, authenticated Limiter, opts ...Option) func(http.Handler) http.Handler {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, limiter := resolveKeyAndLimiter(r, o.proxies, anonymous, authenticated)

			allowed, info := limiter.Allow(key)

			// Always set rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !allowed {
				retryAfterSecs := int(info.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited)
				_ = json.NewEncoder(w).Encode(errorResp)

				o.logger.Warn("Rate limit exceeded",
					"key", key,
					"path", r.URL.Path,
					"limit", info.Limit,
					"retry_after", retryAfterSecs,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// resolveKeyAndLimiter determines the rate limit key and which limiter to use
// based on the request's authentication context.
func resolveKeyAndLimiter(r *http.Request, proxies *Proxies, anonymous Limiter, authenticated Limiter) (string, Limiter) {
	if apiKey, ok := models.APIKeyFromContext(r.Context()); ok {
		return "auth:" + apiKey.Name, authenticated
	}
	return "ip:" + proxies.ClientIP(r), anonymous
}

package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"keepalive/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trigger sends a manual run request through h, optionally as an API key.
func trigger(h http.Handler, remoteAddr string, key *models.APIKey, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if key != nil {
		req = req.WithContext(models.ContextWithAPIKey(req.Context(), key))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func limited(t *testing.T, anonymous, authenticated Limiter, opts ...Option) http.Handler {
	t.Helper()
	return Middleware(anonymous, authenticated, opts...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
}

func TestMiddleware_Headers(t *testing.T) {
	limiter := NewMemoryLimiter(60, 3, time.Minute)
	defer limiter.Close()
	h := limited(t, limiter, limiter)

	rr := trigger(h, "192.0.2.1:5000", nil, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rr.Header().Get("Retry-After"))
}

func TestMiddleware_Denied(t *testing.T) {
	limiter := NewMemoryLimiter(60, 1, time.Minute)
	defer limiter.Close()
	h := limited(t, limiter, limiter)

	require.Equal(t, http.StatusAccepted, trigger(h, "192.0.2.1:5000", nil, nil).Code)

	rr := trigger(h, "192.0.2.1:5000", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "Rate limit exceeded", body.Message)
	assert.Equal(t, models.ErrorCodeRateLimited, body.Code)
}

func TestMiddleware_AuthenticatedBucket(t *testing.T) {
	anonymous := NewMemoryLimiter(60, 1, time.Minute)
	defer anonymous.Close()
	authenticated := NewMemoryLimiter(120, 2, time.Minute)
	defer authenticated.Close()
	h := limited(t, anonymous, authenticated)

	ci := &models.APIKey{Name: "ci", Permissions: []string{models.PermissionTrigger}, Enabled: true}

	trigger(h, "192.0.2.1:5000", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, trigger(h, "192.0.2.1:5000", nil, nil).Code)

	// same address, but the key has its own bucket and limit
	rr := trigger(h, "192.0.2.1:5000", ci, nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "120", rr.Header().Get("X-RateLimit-Limit"))

	// and that bucket follows the key across addresses
	assert.Equal(t, http.StatusAccepted, trigger(h, "198.51.100.9:1", ci, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, trigger(h, "198.51.100.10:1", ci, nil).Code)
}

func TestMiddleware_AnonymousBuckets(t *testing.T) {
	tests := []struct {
		name         string
		first        string
		second       string
		firstHeader  map[string]string
		secondHeader map[string]string
		shared       bool
	}{
		{"port ignored", "192.0.2.1:1000", "192.0.2.1:2000", nil, nil, true},
		{"different hosts", "192.0.2.1:1000", "192.0.2.2:1000", nil, nil, false},
		{"forwarded for ignored", "192.0.2.1:1", "192.0.2.1:1",
			map[string]string{"X-Forwarded-For": "203.0.113.50"},
			map[string]string{"X-Forwarded-For": "203.0.113.51"}, true},
		{"real ip ignored", "192.0.2.1:1", "192.0.2.1:1",
			map[string]string{"X-Real-IP": "203.0.113.60"},
			map[string]string{"X-Real-IP": "203.0.113.61"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewMemoryLimiter(60, 1, time.Minute)
			defer limiter.Close()
			h := limited(t, limiter, limiter)

			require.Equal(t, http.StatusAccepted, trigger(h, tt.first, nil, tt.firstHeader).Code)
			second := trigger(h, tt.second, nil, tt.secondHeader)
			if tt.shared {
				assert.Equal(t, http.StatusTooManyRequests, second.Code)
			} else {
				assert.Equal(t, http.StatusAccepted, second.Code)
			}
		})
	}
}

func TestMiddleware_RotatingForwardedFor(t *testing.T) {
	limiter := NewMemoryLimiter(60, 3, time.Minute)
	defer limiter.Close()
	h := limited(t, limiter, limiter)

	var codes []int
	for i := 0; i < 5; i++ {
		rr := trigger(h, "192.0.2.1:4000", nil, map[string]string{
			"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1),
			"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i+1),
		})
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{
		http.StatusAccepted, http.StatusAccepted, http.StatusAccepted,
		http.StatusTooManyRequests, http.StatusTooManyRequests,
	}, codes)
}

func TestMiddleware_TrustedProxies(t *testing.T) {
	proxies, err := ParseProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name         string
		first        string
		second       string
		firstHeader  map[string]string
		secondHeader map[string]string
		shared       bool
	}{
		{"proxy forwards distinct clients", "10.0.0.1:1", "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "203.0.113.50"},
			map[string]string{"X-Forwarded-For": "203.0.113.51"}, false},
		{"same client through two proxies", "10.0.0.1:1", "10.0.0.2:1",
			map[string]string{"X-Forwarded-For": "203.0.113.50, 10.0.0.9"},
			map[string]string{"X-Forwarded-For": "203.0.113.50"}, true},
		{"spoofed leftmost entry ignored", "10.0.0.1:1", "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "198.51.100.1, 203.0.113.50"},
			map[string]string{"X-Forwarded-For": "198.51.100.2, 203.0.113.50"}, true},
		{"untrusted peer headers ignored", "192.0.2.1:1", "192.0.2.1:1",
			map[string]string{"X-Forwarded-For": "203.0.113.50"},
			map[string]string{"X-Forwarded-For": "203.0.113.51"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewMemoryLimiter(60, 1, time.Minute)
			defer limiter.Close()
			h := limited(t, limiter, limiter, WithTrustedProxies(proxies))

			require.Equal(t, http.StatusAccepted, trigger(h, tt.first, nil, tt.firstHeader).Code)
			second := trigger(h, tt.second, nil, tt.secondHeader)
			if tt.shared {
				assert.Equal(t, http.StatusTooManyRequests, second.Code)
			} else {
				assert.Equal(t, http.StatusAccepted, second.Code)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{"remote addr with port", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"ipv6 remote addr", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"remote addr without port", "192.168.1.1", nil, "192.168.1.1"},
		{"forwarded for ignored", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.50"}, "10.0.0.1"},
		{"real ip ignored", "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.60"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIP(req))
		})
	}
}

func TestProxies_ClientIP(t *testing.T) {
	proxies, err := ParseProxies([]string{"10.0.0.0/8", "192.168.1.1", "fd00::/8"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		proxies    *Proxies
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{"nil trusts no one", nil, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.50"}, "10.0.0.1"},
		{"untrusted peer", proxies, "192.0.2.1:1", map[string]string{"X-Forwarded-For": "203.0.113.50"}, "192.0.2.1"},
		{"single hop", proxies, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.50"}, "203.0.113.50"},
		{"rightmost untrusted hop", proxies, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "198.51.100.1, 203.0.113.50, 10.1.2.3"}, "203.0.113.50"},
		{"bare address proxy", proxies, "192.168.1.1:1", map[string]string{"X-Forwarded-For": "203.0.113.50"}, "203.0.113.50"},
		{"neighbouring address not trusted", proxies, "192.168.1.2:1", map[string]string{"X-Forwarded-For": "203.0.113.50"}, "192.168.1.2"},
		{"ipv6 proxy", proxies, "[fd00::1]:443", map[string]string{"X-Forwarded-For": "2001:db8::7"}, "2001:db8::7"},
		{"all hops trusted", proxies, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "10.0.0.7, 10.0.0.8"}, "10.0.0.7"},
		{"garbage hop stops the walk", proxies, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "nonsense, 10.0.0.8"}, "10.0.0.8"},
		{"real ip from proxy", proxies, "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.60"}, "203.0.113.60"},
		{"invalid real ip", proxies, "10.0.0.1:1", map[string]string{"X-Real-IP": "unknown"}, "10.0.0.1"},
		{"forwarded for wins", proxies, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.50", "X-Real-IP": "203.0.113.60"}, "203.0.113.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, tt.proxies.ClientIP(req))
		})
	}
}

func TestParseProxies(t *testing.T) {
	_, err := ParseProxies([]string{"10.0.0.0/8", " 2001:db8::1 "})
	require.NoError(t, err)

	_, err = ParseProxies([]string{"proxy.internal"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an IP address or CIDR")
}

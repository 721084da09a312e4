// Package httpc builds the resty clients used for every outbound call: the
// liveness probe, the workflow dispatch and the platform redeploy.
package httpc

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"keepalive/internal/models"

	"github.com/go-resty/resty/v2"
)

// Options configures a client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	UserAgent  string
	TLS        models.ClientConfig
	Logger     *slog.Logger
}

// New returns a resty.Client configured from opts. Retries are attempted only
// when RetryCount is positive, on transport errors and 5xx or 429 responses.
func New(opts Options) *resty.Client {
	c := resty.New()

	if opts.BaseURL != "" {
		c.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	}
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	if opts.UserAgent != "" {
		c.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Logger != nil {
		c.SetLogger(&slogAdapter{l: opts.Logger})
	}

	if cfg := tlsConfig(opts.TLS); cfg != nil {
		c.SetTLSClientConfig(cfg)
	}

	if opts.RetryCount > 0 {
		c.SetRetryCount(opts.RetryCount).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil || r == nil {
					return true
				}
				return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
			})
	}

	return c
}

// tlsConfig returns nil when no TLS setting departs from the Go defaults.
func tlsConfig(cc models.ClientConfig) *tls.Config {
	minV := parseTLSVersion(cc.MinTLSVersion)
	maxV := parseTLSVersion(cc.MaxTLSVersion)
	if minV == 0 && maxV == 0 && !cc.Insecure {
		return nil
	}

	cfg := &tls.Config{MinVersion: minV, MaxVersion: maxV}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	if cc.Insecure {
		// #nosec G402 -- only when explicitly configured, for self-signed staging targets
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

// parseTLSVersion converts a TLS version string to the corresponding crypto/tls constant.
// Accepts "1.2", "12", "tls1.2", "tls12" and the same for 1.0, 1.1 and 1.3.
// Returns 0 if the version string is not recognized.
func parseTLSVersion(version string) uint16 {
	switch strings.ToLower(strings.TrimSpace(version)) {
	case "1.0", "10", "tls1.0", "tls10":
		return tls.VersionTLS10
	case "1.1", "11", "tls1.1", "tls11":
		return tls.VersionTLS11
	case "1.2", "12", "tls1.2", "tls12":
		return tls.VersionTLS12
	case "1.3", "13", "tls1.3", "tls13":
		return tls.VersionTLS13
	default:
		return 0
	}
}

// StatusError is returned for a response whose status is not the one expected.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("unexpected status %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), body)
}

// slogAdapter routes resty's internal logging through slog.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Errorf(format string, v ...interface{}) {
	a.l.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "http_client")
}

func (a *slogAdapter) Warnf(format string, v ...interface{}) {
	a.l.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "http_client")
}

func (a *slogAdapter) Debugf(format string, v ...interface{}) {
	a.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "http_client")
}

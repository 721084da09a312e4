// Package probe performs the single liveness request of a run.
package probe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"keepalive/internal/httpc"
	"keepalive/internal/logger"
	"keepalive/internal/models"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds a probe when none is configured.
const DefaultTimeout = 30 * time.Second

// Prober issues GET requests against a fixed URL.
type Prober struct {
	url    string
	client *resty.Client
	logger *slog.Logger
}

// Option customizes a Prober.
type Option func(*Prober)

// WithLogger sets the logger used for probe diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) { p.logger = l }
}

// New creates a Prober for cfg.URL. Redirects are not followed: a 3xx answer
// is reported as observed and therefore classified as a failure.
func New(cfg models.MonitorConfig, opts ...Option) *Prober {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	p := &Prober{url: cfg.URL, logger: logger.Discard()}
	for _, opt := range opts {
		opt(p)
	}

	p.client = httpc.New(httpc.Options{
		Timeout:   timeout,
		UserAgent: cfg.UserAgent,
		TLS:       cfg.Client,
		Logger:    p.logger,
	})
	p.client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))
	// the body is never inspected
	p.client.SetDoNotParseResponse(true)

	return p
}

// URL returns the probed URL.
func (p *Prober) URL() string {
	return p.url
}

// Probe performs one GET and classifies the result. It never returns an error:
// a request that produced no response is recorded with StatusCode 0.
func (p *Prober) Probe(ctx context.Context) models.ProbeResult {
	result := models.ProbeResult{
		URL:       p.url,
		CheckedAt: time.Now().UTC(),
	}

	start := time.Now()
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	result.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0

	if resp != nil && resp.RawBody() != nil {
		_ = resp.RawBody().Close()
	}

	if err != nil {
		result.StatusCode = 0
		result.Error = describe(err)
	} else {
		result.StatusCode = resp.StatusCode()
	}
	result.Outcome = models.ClassifyStatus(result.StatusCode)

	p.logger.Debug("Probe finished",
		"url", p.url,
		"status_code", result.StatusCode,
		"outcome", result.Outcome,
		"latency_ms", result.LatencyMS,
	)

	return result
}

func describe(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout: " + err.Error()
	case errors.Is(err, context.Canceled):
		return "canceled: " + err.Error()
	default:
		return err.Error()
	}
}

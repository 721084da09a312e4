// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the health endpoint returns HTTP 200, and 1
// otherwise. Compile with CGO_ENABLED=0 for a fully static binary.
//
// The URL is taken from the first argument, then KEEPALIVE_HEALTHCHECK_URL,
// then defaults to http://localhost:8080/health.
package main

import (
	"context"
	"os"
	"time"

	"keepalive/internal/models"
	"keepalive/internal/probe"
)

const (
	defaultURL = "http://localhost:8080/health"
	timeout    = 5 * time.Second
)

func targetURL(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if u := os.Getenv("KEEPALIVE_HEALTHCHECK_URL"); u != "" {
		return u
	}
	return defaultURL
}

func check(ctx context.Context, url string) int {
	p := probe.New(models.MonitorConfig{URL: url, Timeout: timeout, UserAgent: "keepalive-healthcheck"})
	if p.Probe(ctx).Outcome != models.OutcomeSuccess {
		return 1
	}
	return 0
}

func main() {
	os.Exit(check(context.Background(), targetURL(os.Args[1:])))
}

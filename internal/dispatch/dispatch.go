// Package dispatch triggers the CI workflow that rebuilds and redeploys the
// watched service. The call is fire-and-forget: acceptance (204) is success
// and the dispatched workflow is never awaited.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"keepalive/internal/httpc"
	"keepalive/internal/logger"
	"keepalive/internal/models"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

const (
	githubAccept     = "application/vnd.github+json"
	githubAPIVersion = "2022-11-28"
)

// Client dispatches workflow_dispatch events through the GitHub REST API.
type Client struct {
	cfg    models.DispatchConfig
	client *resty.Client
	tokens oauth2.TokenSource
	logger *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenSource overrides the token source derived from the config.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New creates a dispatch client for cfg.
func New(cfg models.DispatchConfig, userAgent string, opts ...Option) (*Client, error) {
	c := &Client{cfg: cfg, logger: logger.Discard()}
	for _, opt := range opts {
		opt(c)
	}

	c.client = httpc.New(httpc.Options{
		BaseURL:    cfg.APIURL,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
		UserAgent:  userAgent,
		Logger:     c.logger,
	})

	if c.tokens == nil {
		ts, err := NewTokenSource(cfg, c.client)
		if err != nil {
			return nil, err
		}
		c.tokens = ts
	}

	return c, nil
}

// Target returns owner/repo/workflow for logs.
func (c *Client) Target() string {
	return fmt.Sprintf("%s/%s/%s", c.cfg.Owner, c.cfg.Repo, c.cfg.WorkflowID)
}

type dispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// Dispatch sends one workflow_dispatch event. The returned StepResult is
// always populated; err is non-nil exactly when the step failed.
func (c *Client) Dispatch(ctx context.Context) (models.StepResult, error) {
	started := time.Now().UTC()
	result := models.StepResult{Attempted: true, StartedAt: &started}
	finish := func(err error) (models.StepResult, error) {
		finished := time.Now().UTC()
		result.FinishedAt = &finished
		if err != nil {
			result.Error = err.Error()
		}
		return result, err
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return finish(fmt.Errorf("obtain github token: %w", err))
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(tok.AccessToken).
		SetHeader("Accept", githubAccept).
		SetHeader("X-GitHub-Api-Version", githubAPIVersion).
		SetPathParams(map[string]string{
			"owner":    c.cfg.Owner,
			"repo":     c.cfg.Repo,
			"workflow": c.cfg.WorkflowID,
		}).
		SetBody(dispatchRequest{Ref: c.cfg.Ref, Inputs: c.cfg.Inputs}).
		Post("/repos/{owner}/{repo}/actions/workflows/{workflow}/dispatches")
	if err != nil {
		return finish(fmt.Errorf("dispatch workflow %s: %w", c.Target(), err))
	}

	result.StatusCode = resp.StatusCode()
	if resp.StatusCode() != http.StatusNoContent {
		return finish(fmt.Errorf("dispatch workflow %s: %w", c.Target(), &httpc.StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}))
	}
	result.RemoteID = c.cfg.WorkflowID
	result.RemoteState = "dispatched"

	c.logger.Info("Workflow dispatched", "workflow", c.Target(), "ref", c.cfg.Ref)
	return finish(nil)
}

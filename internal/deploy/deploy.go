// Package deploy asks the hosting platform (Render) to redeploy the watched
// service directly, optionally waiting until the new deploy is live.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keepalive/internal/httpc"
	"keepalive/internal/logger"
	"keepalive/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// Deploy states reported by the platform.
const (
	StatusLive            = "live"
	StatusBuildFailed     = "build_failed"
	StatusUpdateFailed    = "update_failed"
	StatusCanceled        = "canceled"
	StatusPreDeployFailed = "pre_deploy_failed"
	StatusDeactivated     = "deactivated"
)

// ErrDeployFailed is wrapped by errors for deploys that reached a failed terminal state.
var ErrDeployFailed = errors.New("deploy failed")

// IsTerminal reports whether no further transition is expected from status.
func IsTerminal(status string) bool {
	switch status {
	case StatusLive, StatusBuildFailed, StatusUpdateFailed, StatusCanceled, StatusPreDeployFailed, StatusDeactivated:
		return true
	}
	return false
}

// Client talks to the platform REST API.
type Client struct {
	cfg    models.DeployConfig
	client *resty.Client
	logger *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a deploy client for cfg.
func New(cfg models.DeployConfig, userAgent string, opts ...Option) *Client {
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
	c.client.SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json")

	return c
}

type triggerRequest struct {
	ClearCache string `json:"clearCache"`
}

// Deploy triggers a deploy of the configured service. With WaitForSuccess it
// then polls until the deploy is live or has failed. The returned StepResult
// is always populated; err is non-nil exactly when the step failed.
func (c *Client) Deploy(ctx context.Context) (models.StepResult, error) {
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

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("service_id", c.cfg.ServiceID).
		SetBody(triggerRequest{ClearCache: c.cfg.ClearCache}).
		Post("/v1/services/{service_id}/deploys")
	if err != nil {
		return finish(fmt.Errorf("trigger deploy of %s: %w", c.cfg.ServiceID, err))
	}

	result.StatusCode = resp.StatusCode()
	if !resp.IsSuccess() {
		return finish(fmt.Errorf("trigger deploy of %s: %w", c.cfg.ServiceID, &httpc.StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}))
	}

	body := gjson.ParseBytes(resp.Body())
	result.RemoteID = body.Get("id").String()
	result.RemoteState = body.Get("status").String()

	c.logger.Info("Deploy triggered",
		"service_id", c.cfg.ServiceID,
		"deploy_id", result.RemoteID,
		"status", result.RemoteState,
		"clear_cache", c.cfg.ClearCache,
	)

	if !c.cfg.WaitForSuccess {
		return finish(nil)
	}
	if result.RemoteID == "" {
		return finish(errors.New("deploy response has no id to wait on"))
	}

	state, err := c.wait(ctx, result.RemoteID, result.RemoteState)
	result.RemoteState = state
	return finish(err)
}

// wait polls the deploy until it reaches a terminal state or WaitTimeout elapses.
func (c *Client) wait(ctx context.Context, deployID, state string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for !IsTerminal(state) {
		select {
		case <-ctx.Done():
			return state, fmt.Errorf("wait for deploy %s (last status %q): %w", deployID, state, ctx.Err())
		case <-ticker.C:
		}

		next, err := c.Status(ctx, deployID)
		if err != nil {
			// a failed poll is not fatal; the next tick tries again
			c.logger.Warn("Failed to poll deploy status", "deploy_id", deployID, "error", err)
			continue
		}
		if next != state {
			c.logger.Info("Deploy status changed", "deploy_id", deployID, "status", next)
		}
		state = next
	}

	if state != StatusLive {
		return state, fmt.Errorf("deploy %s ended as %s: %w", deployID, state, ErrDeployFailed)
	}
	return state, nil
}

// Status fetches the current status of a deploy.
func (c *Client) Status(ctx context.Context, deployID string) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"service_id": c.cfg.ServiceID,
			"deploy_id":  deployID,
		}).
		Get("/v1/services/{service_id}/deploys/{deploy_id}")
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", &httpc.StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	status := gjson.GetBytes(resp.Body(), "status").String()
	if status == "" {
		return "", errors.New("deploy status missing from response")
	}
	return status, nil
}

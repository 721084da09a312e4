// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every keepalive component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (monitor, dispatch, deploy, etc.)
// - Defaults reproduce the production watch of the progress service out of the box
// - Validation catches misconfigurations before the first probe
package models

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Default targets of the watch.
const (
	DefaultTargetURL      = "https://progress-ytar.onrender.com/wakeup"
	DefaultSchedule       = "*/5 * * * *"
	DefaultWorkflowID     = "render-deploy.yml"
	DefaultWorkflowRef    = "main"
	DefaultRenderService  = "srv-d24ufore5dus73f2t7gg"
	DefaultGitHubAPIURL   = "https://api.github.com"
	DefaultRenderAPIURL   = "https://api.render.com"
	ClearCacheDoNotClear  = "do_not_clear"
	ClearCacheClear       = "clear"
	DispatchAuthToken     = "token"
	DispatchAuthGitHubApp = "app"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP API for manual dispatch and run history
// - Monitor: probe target, schedule and timeouts
// - Dispatch: CI workflow dispatch on failure
// - Deploy: hosting platform redeploy on failure
// - Storage: run history persistence
// - Security: API keys and rate limiting for manual triggers
// - Logging, Metrics, Observability: ambient concerns
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Monitor       MonitorConfig       `yaml:"monitor" json:"monitor"`
	Dispatch      DispatchConfig      `yaml:"dispatch" json:"dispatch"`
	Deploy        DeployConfig        `yaml:"deploy" json:"deploy"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// MonitorConfig describes what is probed and when.
type MonitorConfig struct {
	URL          string        `yaml:"url" json:"url"`
	Schedule     string        `yaml:"schedule" json:"schedule"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	RunTimeout   time.Duration `yaml:"run_timeout" json:"run_timeout"`
	RunOnStartup bool          `yaml:"run_on_startup" json:"run_on_startup"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
	Client       ClientConfig  `yaml:"client" json:"client"`
}

// ClientConfig holds transport settings shared by outbound HTTP clients.
type ClientConfig struct {
	Insecure      bool   `yaml:"insecure" json:"insecure"`
	MinTLSVersion string `yaml:"min_tls_version" json:"min_tls_version"`
	MaxTLSVersion string `yaml:"max_tls_version" json:"max_tls_version"`
}

// DispatchConfig configures the CI workflow dispatch fired on failure.
type DispatchConfig struct {
	Enabled    bool              `yaml:"enabled" json:"enabled"`
	APIURL     string            `yaml:"api_url" json:"api_url"`
	Owner      string            `yaml:"owner" json:"owner"`
	Repo       string            `yaml:"repo" json:"repo"`
	WorkflowID string            `yaml:"workflow_id" json:"workflow_id"`
	Ref        string            `yaml:"ref" json:"ref"`
	Inputs     map[string]string `yaml:"inputs" json:"inputs,omitempty"`
	Auth       string            `yaml:"auth" json:"auth"`
	Token      string            `yaml:"token" json:"-"`
	App        GitHubAppConfig   `yaml:"app" json:"app"`
	Timeout    time.Duration     `yaml:"timeout" json:"timeout"`
	RetryCount int               `yaml:"retry_count" json:"retry_count"`
}

// GitHubAppConfig holds GitHub App credentials used to mint installation tokens.
type GitHubAppConfig struct {
	AppID          string `yaml:"app_id" json:"app_id"`
	InstallationID string `yaml:"installation_id" json:"installation_id"`
	PrivateKey     string `yaml:"private_key" json:"-"`
	PrivateKeyFile string `yaml:"private_key_file" json:"private_key_file"`
}

// DeployConfig configures the direct redeploy on the hosting platform.
type DeployConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	APIURL         string        `yaml:"api_url" json:"api_url"`
	ServiceID      string        `yaml:"service_id" json:"service_id"`
	APIKey         string        `yaml:"api_key" json:"-"`
	ClearCache     string        `yaml:"clear_cache" json:"clear_cache"`
	WaitForSuccess bool          `yaml:"wait_for_success" json:"wait_for_success"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	WaitTimeout    time.Duration `yaml:"wait_timeout" json:"wait_timeout"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	RetryCount     int           `yaml:"retry_count" json:"retry_count"`
}

// StorageConfig selects the run history backend. Runs older than Retention
// are pruned after each run; zero keeps everything.
type StorageConfig struct {
	Type      string            `yaml:"type" json:"type"`
	Path      string            `yaml:"path" json:"path"`
	Retention time.Duration     `yaml:"retention" json:"retention"`
	Database  DatabaseConfig    `yaml:"database" json:"database"`
	Options   map[string]string `yaml:"options" json:"options"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type SecurityConfig struct {
	EnableAuth bool            `yaml:"enable_auth" json:"enable_auth"`
	APIKeys    []APIKeyConfig  `yaml:"api_keys" json:"api_keys"`
	RateLimit  RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// APIKeyConfig declares an API key. Either Key (raw) or KeyHash (SHA-256 hex) is set.
type APIKeyConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Key         string   `yaml:"key" json:"-"`
	KeyHash     string   `yaml:"key_hash" json:"key_hash"`
	Permissions []string `yaml:"permissions" json:"permissions"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
}

type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	// TrustedProxies lists the addresses or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers identify the client. Empty means the peer address is used.
	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies,omitempty"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration that watches the progress service
// every five minutes and redeploys it through both channels on failure.
//
// Credentials (dispatch token, deploy API key) have no defaults and come from
// the config file or the environment.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:      true,
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Monitor: MonitorConfig{
			URL:        DefaultTargetURL,
			Schedule:   DefaultSchedule,
			Timeout:    30 * time.Second,
			RunTimeout: 4 * time.Minute,
			UserAgent:  "keepalive",
		},
		Dispatch: DispatchConfig{
			Enabled:    true,
			APIURL:     DefaultGitHubAPIURL,
			WorkflowID: DefaultWorkflowID,
			Ref:        DefaultWorkflowRef,
			Auth:       DispatchAuthToken,
			Timeout:    30 * time.Second,
		},
		Deploy: DeployConfig{
			Enabled:      true,
			APIURL:       DefaultRenderAPIURL,
			ServiceID:    DefaultRenderService,
			ClearCache:   ClearCacheDoNotClear,
			PollInterval: 10 * time.Second,
			WaitTimeout:  15 * time.Minute,
			Timeout:      30 * time.Second,
		},
		Storage: StorageConfig{
			Type:      StorageTypeMemory,
			Path:      "./data/runs.json",
			Retention: 30 * 24 * time.Hour,
			Database: DatabaseConfig{
				MaxOpenConns:    5,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Options: make(map[string]string),
		},
		Security: SecurityConfig{
			EnableAuth: false,
			APIKeys:    []APIKeyConfig{},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 6,
				BurstSize:         2,
				CleanupInterval:   5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "keepalive",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("invalid monitor config: %w", err)
	}

	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("invalid dispatch config: %w", err)
	}

	if err := c.Deploy.Validate(); err != nil {
		return fmt.Errorf("invalid deploy config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if !sc.Enabled {
		return nil
	}

	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	return nil
}

func (mc *MonitorConfig) Validate() error {
	if err := validateHTTPURL(mc.URL); err != nil {
		return fmt.Errorf("url: %w", err)
	}

	if strings.TrimSpace(mc.Schedule) == "" {
		return errors.New("schedule cannot be empty")
	}

	if mc.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if mc.RunTimeout <= 0 {
		return errors.New("run timeout must be positive")
	}

	return nil
}

func (dc *DispatchConfig) Validate() error {
	if !dc.Enabled {
		return nil
	}

	if err := validateHTTPURL(dc.APIURL); err != nil {
		return fmt.Errorf("api_url: %w", err)
	}

	if dc.Owner == "" || dc.Repo == "" {
		return errors.New("owner and repo are required when dispatch is enabled")
	}

	if dc.WorkflowID == "" {
		return errors.New("workflow_id cannot be empty")
	}

	if dc.Ref == "" {
		return errors.New("ref cannot be empty")
	}

	if dc.RetryCount < 0 {
		return errors.New("retry count cannot be negative")
	}

	// An unset mode means a static token, as in dispatch.NewTokenSource.
	switch dc.Auth {
	case DispatchAuthToken, "":
		if dc.Token == "" {
			return errors.New("token is required for token auth")
		}
	case DispatchAuthGitHubApp:
		if dc.App.AppID == "" || dc.App.InstallationID == "" {
			return errors.New("app_id and installation_id are required for app auth")
		}
		if dc.App.PrivateKey == "" && dc.App.PrivateKeyFile == "" {
			return errors.New("private_key or private_key_file is required for app auth")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s", dc.Auth)
	}

	return nil
}

func (dc *DeployConfig) Validate() error {
	if !dc.Enabled {
		return nil
	}

	if err := validateHTTPURL(dc.APIURL); err != nil {
		return fmt.Errorf("api_url: %w", err)
	}

	if dc.ServiceID == "" {
		return errors.New("service_id cannot be empty")
	}

	if dc.APIKey == "" {
		return errors.New("api_key is required when deploy is enabled")
	}

	if dc.ClearCache != ClearCacheDoNotClear && dc.ClearCache != ClearCacheClear {
		return fmt.Errorf("invalid clear_cache value: %s", dc.ClearCache)
	}

	if dc.RetryCount < 0 {
		return errors.New("retry count cannot be negative")
	}

	if dc.WaitForSuccess && (dc.PollInterval <= 0 || dc.WaitTimeout <= 0) {
		return errors.New("poll interval and wait timeout must be positive when waiting for success")
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	if stc.Retention < 0 {
		return errors.New("retention cannot be negative")
	}

	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.RateLimit.Enabled {
		if sec.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("requests per minute must be positive")
		}
		if sec.RateLimit.BurstSize <= 0 {
			return errors.New("burst size must be positive")
		}
		if sec.RateLimit.CleanupInterval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
	}
	for _, proxy := range sec.RateLimit.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("trusted proxy %q is not an IP address or CIDR", proxy)
		}
	}

	for _, k := range sec.APIKeys {
		if k.Name == "" {
			return errors.New("API key name cannot be empty")
		}
		if k.Key == "" && k.KeyHash == "" {
			return fmt.Errorf("API key %s needs key or key_hash", k.Name)
		}
	}

	if sec.EnableAuth && len(sec.APIKeys) == 0 {
		return errors.New("at least one API key is required when auth is enabled")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func validProxy(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

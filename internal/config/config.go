package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"keepalive/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// deprecatedConfig mirrors keys operators commonly copy from workflow files.
type deprecatedConfig struct {
	RenderAPIKey string `yaml:"render_api_key"`
	GitHubToken  string `yaml:"github_token"`
	Monitor      struct {
		Retries interface{} `yaml:"retries"`
	} `yaml:"monitor"`
}

// warnMisplacedKeys logs a warning for each top-level secret or unsupported key
// found in the YAML data. They are ignored by the main decoder.
func warnMisplacedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.RenderAPIKey != "" {
		slog.Warn("Config key is ignored; set deploy.api_key or the RENDER_API_KEY environment variable.", "config_key", "render_api_key")
	}
	if dep.GitHubToken != "" {
		slog.Warn("Config key is ignored; set dispatch.token or the GITHUB_TOKEN environment variable.", "config_key", "github_token")
	}
	if dep.Monitor.Retries != nil {
		slog.Warn("Config key is not supported; a failed probe is never retried within a run.", "config_key", "monitor.retries")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnMisplacedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envBool("KEEPALIVE_SERVER_ENABLED", &config.Server.Enabled)
	envInt("KEEPALIVE_PORT", &config.Server.Port)
	envString("KEEPALIVE_HOST", &config.Server.Host)
	envDuration("KEEPALIVE_READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("KEEPALIVE_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("KEEPALIVE_IDLE_TIMEOUT", &config.Server.IdleTimeout)

	// Monitor configuration
	envString("KEEPALIVE_URL", &config.Monitor.URL)
	envString("KEEPALIVE_SCHEDULE", &config.Monitor.Schedule)
	envDuration("KEEPALIVE_TIMEOUT", &config.Monitor.Timeout)
	envDuration("KEEPALIVE_RUN_TIMEOUT", &config.Monitor.RunTimeout)
	envBool("KEEPALIVE_RUN_ON_STARTUP", &config.Monitor.RunOnStartup)
	envString("KEEPALIVE_USER_AGENT", &config.Monitor.UserAgent)
	envBool("KEEPALIVE_INSECURE", &config.Monitor.Client.Insecure)

	// Dispatch configuration. GITHUB_REPOSITORY is set on every Actions runner,
	// so the dispatch targets the repository the monitor itself runs in.
	if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" {
		if owner, name, ok := strings.Cut(repo, "/"); ok {
			config.Dispatch.Owner = owner
			config.Dispatch.Repo = name
		}
	}
	envString("GITHUB_API_URL", &config.Dispatch.APIURL)
	envString("GITHUB_TOKEN", &config.Dispatch.Token)
	envBool("KEEPALIVE_DISPATCH_ENABLED", &config.Dispatch.Enabled)
	envString("KEEPALIVE_DISPATCH_OWNER", &config.Dispatch.Owner)
	envString("KEEPALIVE_DISPATCH_REPO", &config.Dispatch.Repo)
	envString("KEEPALIVE_DISPATCH_WORKFLOW", &config.Dispatch.WorkflowID)
	envString("KEEPALIVE_DISPATCH_REF", &config.Dispatch.Ref)
	envString("KEEPALIVE_DISPATCH_AUTH", &config.Dispatch.Auth)
	envString("KEEPALIVE_DISPATCH_TOKEN", &config.Dispatch.Token)
	envString("KEEPALIVE_GITHUB_APP_ID", &config.Dispatch.App.AppID)
	envString("KEEPALIVE_GITHUB_APP_INSTALLATION_ID", &config.Dispatch.App.InstallationID)
	envString("KEEPALIVE_GITHUB_APP_PRIVATE_KEY", &config.Dispatch.App.PrivateKey)
	envString("KEEPALIVE_GITHUB_APP_PRIVATE_KEY_FILE", &config.Dispatch.App.PrivateKeyFile)
	envInt("KEEPALIVE_DISPATCH_RETRY_COUNT", &config.Dispatch.RetryCount)

	// Deploy configuration
	envString("RENDER_API_KEY", &config.Deploy.APIKey)
	envBool("KEEPALIVE_DEPLOY_ENABLED", &config.Deploy.Enabled)
	envString("KEEPALIVE_DEPLOY_API_URL", &config.Deploy.APIURL)
	envString("KEEPALIVE_DEPLOY_SERVICE_ID", &config.Deploy.ServiceID)
	envString("KEEPALIVE_DEPLOY_API_KEY", &config.Deploy.APIKey)
	envString("KEEPALIVE_DEPLOY_CLEAR_CACHE", &config.Deploy.ClearCache)
	envBool("KEEPALIVE_DEPLOY_WAIT", &config.Deploy.WaitForSuccess)
	envDuration("KEEPALIVE_DEPLOY_POLL_INTERVAL", &config.Deploy.PollInterval)
	envDuration("KEEPALIVE_DEPLOY_WAIT_TIMEOUT", &config.Deploy.WaitTimeout)
	envInt("KEEPALIVE_DEPLOY_RETRY_COUNT", &config.Deploy.RetryCount)

	// Storage configuration
	envString("KEEPALIVE_STORAGE_TYPE", &config.Storage.Type)
	envString("KEEPALIVE_STORAGE_PATH", &config.Storage.Path)
	envDuration("KEEPALIVE_STORAGE_RETENTION", &config.Storage.Retention)
	envString("KEEPALIVE_DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("KEEPALIVE_DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("KEEPALIVE_DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)

	// Security configuration
	envBool("KEEPALIVE_ENABLE_AUTH", &config.Security.EnableAuth)
	if key := os.Getenv("KEEPALIVE_API_KEY"); key != "" {
		config.Security.APIKeys = append(config.Security.APIKeys, models.APIKeyConfig{
			Name:        "env",
			Key:         key,
			Permissions: []string{models.PermissionAdmin},
			Enabled:     true,
		})
	}
	envBool("KEEPALIVE_RATE_LIMIT_ENABLED", &config.Security.RateLimit.Enabled)
	envInt("KEEPALIVE_RATE_LIMIT_RPM", &config.Security.RateLimit.RequestsPerMinute)
	if proxies := os.Getenv("KEEPALIVE_RATE_LIMIT_TRUSTED_PROXIES"); proxies != "" {
		config.Security.RateLimit.TrustedProxies = nil
		for _, p := range strings.Split(proxies, ",") {
			if p = strings.TrimSpace(p); p != "" {
				config.Security.RateLimit.TrustedProxies = append(config.Security.RateLimit.TrustedProxies, p)
			}
		}
	}

	// Logging configuration
	envString("KEEPALIVE_LOG_LEVEL", &config.Logging.Level)
	envString("KEEPALIVE_LOG_FORMAT", &config.Logging.Format)
	envString("KEEPALIVE_LOG_OUTPUT", &config.Logging.Output)
	envString("KEEPALIVE_LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("KEEPALIVE_METRICS_ENABLED", &config.Metrics.Enabled)
	envString("KEEPALIVE_METRICS_PATH", &config.Metrics.Path)
	envInt("KEEPALIVE_METRICS_PORT", &config.Metrics.Port)

	// Tracing configuration
	envBool("KEEPALIVE_TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("KEEPALIVE_TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()
	config.Dispatch.Owner = "your-github-user"
	config.Dispatch.Repo = "your-repo"
	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "file:./data/keepalive.db"

	// Enable authentication for example
	config.Security.EnableAuth = true
	config.Security.APIKeys = []models.APIKeyConfig{
		{
			Name:        "operator",
			KeyHash:     models.HashAPIKey("ka_replace-me"),
			Permissions: []string{models.PermissionTrigger},
			Enabled:     true,
		},
	}

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

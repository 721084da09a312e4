package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"keepalive/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearCredentialEnv blanks the variables a CI runner may already export.
func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GITHUB_REPOSITORY", "GITHUB_TOKEN", "GITHUB_API_URL", "RENDER_API_KEY",
		"KEEPALIVE_DISPATCH_TOKEN", "KEEPALIVE_DEPLOY_API_KEY", "KEEPALIVE_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "keepalive.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	clearCredentialEnv(t)

	configFile := writeConfig(t, `
server:
  port: 9000
  host: "127.0.0.1"
  read_timeout: 10s

monitor:
  url: "https://example.onrender.com/wakeup"
  schedule: "*/10 * * * *"
  timeout: 15s
  run_on_startup: true

dispatch:
  owner: "acme"
  repo: "progress"
  workflow_id: "deploy.yml"
  token: "ghp_file"
  inputs:
    reason: "keepalive"

deploy:
  service_id: "srv-test"
  api_key: "rnd_file"
  clear_cache: "clear"
  wait_for_success: true
  poll_interval: 5s

storage:
  type: "json"
  path: "./data/test.json"

security:
  enable_auth: true
  api_keys:
    - name: "ci"
      key: "ka_test-key"
      permissions: ["trigger"]
      enabled: true
  rate_limit:
    enabled: true
    requests_per_minute: 12
    burst_size: 3
    cleanup_interval: 300s
    trusted_proxies: ["10.0.0.0/8"]

logging:
  level: "debug"
  format: "text"
  output: "stdout"
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 10*time.Second, config.Server.ReadTimeout)

	assert.Equal(t, "https://example.onrender.com/wakeup", config.Monitor.URL)
	assert.Equal(t, "*/10 * * * *", config.Monitor.Schedule)
	assert.Equal(t, 15*time.Second, config.Monitor.Timeout)
	assert.True(t, config.Monitor.RunOnStartup)
	// untouched fields keep their defaults
	assert.Equal(t, 4*time.Minute, config.Monitor.RunTimeout)

	assert.Equal(t, "acme", config.Dispatch.Owner)
	assert.Equal(t, "deploy.yml", config.Dispatch.WorkflowID)
	assert.Equal(t, "main", config.Dispatch.Ref)
	assert.Equal(t, "ghp_file", config.Dispatch.Token)
	assert.Equal(t, map[string]string{"reason": "keepalive"}, config.Dispatch.Inputs)

	assert.Equal(t, "srv-test", config.Deploy.ServiceID)
	assert.Equal(t, models.ClearCacheClear, config.Deploy.ClearCache)
	assert.True(t, config.Deploy.WaitForSuccess)
	assert.Equal(t, 5*time.Second, config.Deploy.PollInterval)

	assert.Equal(t, "json", config.Storage.Type)
	assert.True(t, config.Security.EnableAuth)
	require.Len(t, config.Security.APIKeys, 1)
	assert.Equal(t, []string{"trigger"}, config.Security.APIKeys[0].Permissions)
	assert.Equal(t, 12, config.Security.RateLimit.RequestsPerMinute)
	assert.Equal(t, []string{"10.0.0.0/8"}, config.Security.RateLimit.TrustedProxies)
	assert.Equal(t, "text", config.Logging.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("GITHUB_REPOSITORY", "octo/progress")
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	t.Setenv("RENDER_API_KEY", "rnd_env")
	t.Setenv("KEEPALIVE_PORT", "7070")
	t.Setenv("KEEPALIVE_URL", "http://localhost:3000/wakeup")
	t.Setenv("KEEPALIVE_TIMEOUT", "5s")
	t.Setenv("KEEPALIVE_DEPLOY_WAIT", "true")
	t.Setenv("KEEPALIVE_LOG_LEVEL", "warn")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "octo", config.Dispatch.Owner)
	assert.Equal(t, "progress", config.Dispatch.Repo)
	assert.Equal(t, "ghp_env", config.Dispatch.Token)
	assert.Equal(t, "rnd_env", config.Deploy.APIKey)
	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "http://localhost:3000/wakeup", config.Monitor.URL)
	assert.Equal(t, 5*time.Second, config.Monitor.Timeout)
	assert.True(t, config.Deploy.WaitForSuccess)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestLoad_PrefixedOverridesWinOverWellKnown(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("GITHUB_REPOSITORY", "octo/progress")
	t.Setenv("GITHUB_TOKEN", "ghp_runner")
	t.Setenv("KEEPALIVE_DISPATCH_TOKEN", "ghp_pat")
	t.Setenv("KEEPALIVE_DISPATCH_REPO", "other")
	t.Setenv("RENDER_API_KEY", "rnd_env")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ghp_pat", config.Dispatch.Token)
	assert.Equal(t, "other", config.Dispatch.Repo)
}

func TestLoad_APIKeyFromEnvironment(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("GITHUB_REPOSITORY", "octo/progress")
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	t.Setenv("RENDER_API_KEY", "rnd_env")
	t.Setenv("KEEPALIVE_ENABLE_AUTH", "true")
	t.Setenv("KEEPALIVE_API_KEY", "ka_from-env")

	config, err := Load("")
	require.NoError(t, err)
	assert.True(t, config.Security.EnableAuth)
	require.Len(t, config.Security.APIKeys, 1)
	assert.Equal(t, "ka_from-env", config.Security.APIKeys[0].Key)
	assert.Equal(t, []string{models.PermissionAdmin}, config.Security.APIKeys[0].Permissions)
}

func TestLoad_MissingCredentials(t *testing.T) {
	clearCredentialEnv(t)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_RemediationDisabled(t *testing.T) {
	clearCredentialEnv(t)

	configFile := writeConfig(t, `
dispatch:
  enabled: false
deploy:
  enabled: false
`)

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.False(t, config.Dispatch.Enabled)
	assert.False(t, config.Deploy.Enabled)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configFile := writeConfig(t, "monitor: [unclosed")

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoad_InvalidValues(t *testing.T) {
	clearCredentialEnv(t)

	configFile := writeConfig(t, `
monitor:
  url: "ftp://example.com"
dispatch:
  enabled: false
deploy:
  enabled: false
`)

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid monitor config")
}

func TestSaveExample(t *testing.T) {
	clearCredentialEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "keepalive.yaml")

	require.NoError(t, SaveExample(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "*/5 * * * *")
	assert.Contains(t, string(data), "service_id: srv-d24ufore5dus73f2t7gg")

	// The example only lacks credentials, which the environment supplies.
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	t.Setenv("RENDER_API_KEY", "rnd_env")
	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.StorageTypeSQLite, config.Storage.Type)
}

func TestLoad_TrustedProxiesFromEnvironment(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("GITHUB_REPOSITORY", "octo/progress")
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	t.Setenv("RENDER_API_KEY", "rnd_env")
	t.Setenv("KEEPALIVE_RATE_LIMIT_TRUSTED_PROXIES", "10.0.0.1, 172.16.0.0/12,")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, config.Security.RateLimit.TrustedProxies)

	t.Setenv("KEEPALIVE_RATE_LIMIT_TRUSTED_PROXIES", "proxy.internal")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an IP address or CIDR")
}

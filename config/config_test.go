package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		validate    func(t *testing.T, cfg *Config)
	}{
		{
			name: "complete valid config",
			configYAML: `
server:
  port: 9090
  api_keys:
    - name: "ops-key"
      key: "sk_live_abc123"
    - name: "ci-key"
      key: "sk_live_def456"

aws:
  region: "eu-west-1"
  access_key_id: "AKIATEST"
  secret_access_key: "secret"

traffic:
  error_rate_threshold: 0.02
  latency_threshold_ms: 2500
  weight_steps: [20, 40, 60, 80, 100]
  settle_delay: 45s
  monitor_window: 3m
  poll_interval: 20s
  canary_percent: 10
  canary_window: 15m

reliability:
  failure_threshold: 7
  recovery_timeout: 90s
  half_open_max_calls: 2
  retry_max_attempts: 4
  retry_base_delay: 2s
  retry_max_delay: 20s

discovery:
  namespace: "prod.internal"

config_store:
  type: "ssm"
  ssm_prefix: "/myapp"

database:
  path: "/tmp/test.db"

logging:
  level: "debug"
  format: "text"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Len(t, cfg.Server.APIKeys, 2)
				assert.Equal(t, "ops-key", cfg.Server.APIKeys[0].Name)
				assert.Equal(t, "eu-west-1", cfg.AWS.Region)
				assert.Equal(t, 0.02, cfg.Traffic.ErrorRateThreshold)
				assert.Equal(t, float64(2500), cfg.Traffic.LatencyThresholdMs)
				assert.Equal(t, []int{20, 40, 60, 80, 100}, cfg.Traffic.WeightSteps)
				assert.Equal(t, 45*time.Second, cfg.Traffic.SettleDelay)
				assert.Equal(t, 3*time.Minute, cfg.Traffic.MonitorWindow)
				assert.Equal(t, 10, cfg.Traffic.CanaryPercent)
				assert.Equal(t, 15*time.Minute, cfg.Traffic.CanaryWindow)
				assert.Equal(t, 7, cfg.Reliability.FailureThreshold)
				assert.Equal(t, 90*time.Second, cfg.Reliability.RecoveryTimeout)
				assert.Equal(t, 4, cfg.Reliability.RetryMaxAttempts)
				assert.Equal(t, "prod.internal", cfg.Discovery.Namespace)
				assert.Equal(t, "ssm", cfg.ConfigStore.Type)
				assert.Equal(t, "/myapp", cfg.ConfigStore.SSMPrefix)
				assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "text", cfg.Logging.Format)
			},
		},
		{
			name: "minimal config with defaults",
			configYAML: `
server:
  api_keys:
    - name: "key"
      key: "secret"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "us-east-1", cfg.AWS.Region)
				assert.Equal(t, "/data/shiftsmith.db", cfg.Database.Path)
				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, 0.05, cfg.Traffic.ErrorRateThreshold)
				assert.Equal(t, float64(5000), cfg.Traffic.LatencyThresholdMs)
				assert.Equal(t, []int{10, 25, 50, 75, 100}, cfg.Traffic.WeightSteps)
				assert.Equal(t, 30*time.Second, cfg.Traffic.SettleDelay)
				assert.Equal(t, 2*time.Minute, cfg.Traffic.MonitorWindow)
				assert.Equal(t, 15*time.Second, cfg.Traffic.PollInterval)
				assert.Equal(t, 5, cfg.Traffic.CanaryPercent)
				assert.Equal(t, 10*time.Minute, cfg.Traffic.CanaryWindow)
				assert.Equal(t, 5*time.Minute, cfg.Traffic.MetricsWindow)
				assert.Equal(t, 10*time.Second, cfg.Traffic.ProbeTimeout)
				assert.Equal(t, 5, cfg.Reliability.FailureThreshold)
				assert.Equal(t, 60*time.Second, cfg.Reliability.RecoveryTimeout)
				assert.Equal(t, 3, cfg.Reliability.HalfOpenMaxCalls)
				assert.Equal(t, 3, cfg.Reliability.RetryMaxAttempts)
				assert.Equal(t, time.Second, cfg.Reliability.RetryBaseDelay)
				assert.Equal(t, 30*time.Second, cfg.Reliability.RetryMaxDelay)
				assert.Equal(t, "memory", cfg.ConfigStore.Type)
				assert.Equal(t, "/shiftsmith", cfg.ConfigStore.SSMPrefix)
				assert.Equal(t, "main", cfg.ConfigStore.Git.Branch)
				assert.Equal(t, "docker", cfg.Registry.Type)
			},
		},
		{
			name:        "invalid yaml",
			configYAML:  "server: [not a mapping",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.configYAML), 0o600))

			cfg, err := Load(path)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_SHIFTD_KEY", "sk_from_env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  api_keys:
    - name: "env-key"
      key: "${TEST_SHIFTD_KEY}"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk_from_env", cfg.Server.APIKeys[0].Key)
}

func TestValidateAPIKey(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			APIKeys: []APIKey{
				{Name: "ops", Key: "valid-key"},
			},
		},
	}

	assert.True(t, cfg.ValidateAPIKey("valid-key"))
	assert.False(t, cfg.ValidateAPIKey("wrong-key"))
	assert.False(t, cfg.ValidateAPIKey(""))
}

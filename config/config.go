package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	AWS         AWSConfig         `yaml:"aws"`
	Traffic     TrafficConfig     `yaml:"traffic"`
	Reliability ReliabilityConfig `yaml:"reliability"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	ConfigStore ConfigStoreConfig `yaml:"config_store"`
	Registry    RegistryConfig    `yaml:"registry"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port    int      `yaml:"port"`
	APIKeys []APIKey `yaml:"api_keys"`
}

type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type TrafficConfig struct {
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	LatencyThresholdMs float64       `yaml:"latency_threshold_ms"`
	WeightSteps        []int         `yaml:"weight_steps"`
	SettleDelay        time.Duration `yaml:"settle_delay"`
	MonitorWindow      time.Duration `yaml:"monitor_window"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	CanaryPercent      int           `yaml:"canary_percent"`
	CanaryWindow       time.Duration `yaml:"canary_window"`
	MetricsWindow      time.Duration `yaml:"metrics_window"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
}

type ReliabilityConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
}

type DiscoveryConfig struct {
	Namespace string `yaml:"namespace"`
}

type ConfigStoreConfig struct {
	Type      string    `yaml:"type"` // "memory", "ssm", "gitops"
	SSMPrefix string    `yaml:"ssm_prefix"`
	Git       GitConfig `yaml:"git"`
}

type GitConfig struct {
	RepositoryURL string `yaml:"repository_url"`
	Branch        string `yaml:"branch"`
	Username      string `yaml:"username"`
	Token         string `yaml:"token"`
	LocalPath     string `yaml:"local_path"`
	AuthorName    string `yaml:"author_name"`
	AuthorEmail   string `yaml:"author_email"`
}

type RegistryConfig struct {
	Type     string `yaml:"type"` // "docker", "ecr"
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	dataStr := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(dataStr), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/data/shiftsmith.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Traffic.ErrorRateThreshold == 0 {
		cfg.Traffic.ErrorRateThreshold = 0.05
	}
	if cfg.Traffic.LatencyThresholdMs == 0 {
		cfg.Traffic.LatencyThresholdMs = 5000
	}
	if len(cfg.Traffic.WeightSteps) == 0 {
		cfg.Traffic.WeightSteps = []int{10, 25, 50, 75, 100}
	}
	if cfg.Traffic.SettleDelay == 0 {
		cfg.Traffic.SettleDelay = 30 * time.Second
	}
	if cfg.Traffic.MonitorWindow == 0 {
		cfg.Traffic.MonitorWindow = 2 * time.Minute
	}
	if cfg.Traffic.PollInterval == 0 {
		cfg.Traffic.PollInterval = 15 * time.Second
	}
	if cfg.Traffic.CanaryPercent == 0 {
		cfg.Traffic.CanaryPercent = 5
	}
	if cfg.Traffic.CanaryWindow == 0 {
		cfg.Traffic.CanaryWindow = 10 * time.Minute
	}
	if cfg.Traffic.MetricsWindow == 0 {
		cfg.Traffic.MetricsWindow = 5 * time.Minute
	}
	if cfg.Traffic.ProbeTimeout == 0 {
		cfg.Traffic.ProbeTimeout = 10 * time.Second
	}

	if cfg.Reliability.FailureThreshold == 0 {
		cfg.Reliability.FailureThreshold = 5
	}
	if cfg.Reliability.RecoveryTimeout == 0 {
		cfg.Reliability.RecoveryTimeout = 60 * time.Second
	}
	if cfg.Reliability.HalfOpenMaxCalls == 0 {
		cfg.Reliability.HalfOpenMaxCalls = 3
	}
	if cfg.Reliability.RetryMaxAttempts == 0 {
		cfg.Reliability.RetryMaxAttempts = 3
	}
	if cfg.Reliability.RetryBaseDelay == 0 {
		cfg.Reliability.RetryBaseDelay = time.Second
	}
	if cfg.Reliability.RetryMaxDelay == 0 {
		cfg.Reliability.RetryMaxDelay = 30 * time.Second
	}

	if cfg.ConfigStore.Type == "" {
		cfg.ConfigStore.Type = "memory"
	}
	if cfg.ConfigStore.SSMPrefix == "" {
		cfg.ConfigStore.SSMPrefix = "/shiftsmith"
	}
	if cfg.ConfigStore.Git.Branch == "" {
		cfg.ConfigStore.Git.Branch = "main"
	}
	if cfg.ConfigStore.Git.LocalPath == "" {
		cfg.ConfigStore.Git.LocalPath = "/data/gitops-repo"
	}

	if cfg.Registry.Type == "" {
		cfg.Registry.Type = "docker"
	}

	return &cfg, nil
}

func (c *Config) ValidateAPIKey(key string) bool {
	for _, ak := range c.Server.APIKeys {
		if ak.Key == key {
			return true
		}
	}
	return false
}

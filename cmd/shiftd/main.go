package main

import (
	"context"
	"flag"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/servicediscovery"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/shiftsmith/shiftsmith/api"
	"github.com/shiftsmith/shiftsmith/cloud"
	"github.com/shiftsmith/shiftsmith/config"
	"github.com/shiftsmith/shiftsmith/configstore"
	"github.com/shiftsmith/shiftsmith/db"
	"github.com/shiftsmith/shiftsmith/dependency"
	"github.com/shiftsmith/shiftsmith/discovery"
	"github.com/shiftsmith/shiftsmith/orchestrator"
	"github.com/shiftsmith/shiftsmith/probe"
	"github.com/shiftsmith/shiftsmith/registry"
	"github.com/shiftsmith/shiftsmith/reliability"
	"github.com/shiftsmith/shiftsmith/traffic"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	log.Printf("shiftd %s (commit: %s, built: %s)", version, commit, date)

	configPath := flag.String("config", "/etc/shiftsmith/config.yaml", "Path to configuration file")
	flag.Parse()

	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	log.Printf("Database initialized at %s", cfg.Database.Path)

	// Cloud control plane
	cloudClient, err := cloud.NewAWSClient(ctx, cloud.AWSConfig{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		ProbeTimeout:    cfg.Traffic.ProbeTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize AWS client: %v", err)
	}

	// Reliability primitives shared by every outbound cloud call
	breakers := reliability.NewBreakerSet(reliability.BreakerConfig{
		FailureThreshold: cfg.Reliability.FailureThreshold,
		RecoveryTimeout:  cfg.Reliability.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.Reliability.HalfOpenMaxCalls,
	})
	retrier := reliability.Retrier{
		MaxAttempts: cfg.Reliability.RetryMaxAttempts,
		BaseDelay:   cfg.Reliability.RetryBaseDelay,
		MaxDelay:    cfg.Reliability.RetryMaxDelay,
		Exponential: true,
	}

	// Monitoring inputs
	sampler := probe.NewMetricsProbe(cloudClient, cfg.Traffic.MetricsWindow, cfg.Traffic.ProbeTimeout)
	health := probe.NewHealthChecker(cloudClient, cfg.Traffic.ProbeTimeout)

	trafficManager := traffic.NewManager(cloudClient, sampler, health, breakers, retrier, traffic.Config{
		ErrorRateThreshold: cfg.Traffic.ErrorRateThreshold,
		LatencyThresholdMs: cfg.Traffic.LatencyThresholdMs,
		WeightSteps:        cfg.Traffic.WeightSteps,
		SettleDelay:        cfg.Traffic.SettleDelay,
		MonitorWindow:      cfg.Traffic.MonitorWindow,
		PollInterval:       cfg.Traffic.PollInterval,
		CanaryPercent:      cfg.Traffic.CanaryPercent,
		CanaryWindow:       cfg.Traffic.CanaryWindow,
	})

	// Shared AWS SDK config for discovery and the SSM store
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	var external discovery.Client
	if cfg.Discovery.Namespace != "" {
		external = discovery.NewCloudMapClient(servicediscovery.NewFromConfig(awsCfg), cfg.Discovery.Namespace)
		log.Printf("Service discovery enabled (namespace: %s)", cfg.Discovery.Namespace)
	}

	store, err := buildConfigStore(cfg, awsCfg)
	if err != nil {
		log.Fatalf("Failed to initialize configuration store: %v", err)
	}
	log.Printf("Configuration store: %s", cfg.ConfigStore.Type)

	serviceRegistry := discovery.NewRegistry()
	dependencyManager := dependency.NewManager(serviceRegistry, external, store, cloudClient, retrier)

	artifacts := buildArtifactChecker(cfg, awsCfg)
	deployer := orchestrator.New(artifacts, dependencyManager, trafficManager, database)

	// Create and start API server
	server := api.NewServer(cfg, database, trafficManager, deployer, traffic.NewTracker(), dependencyManager)

	log.Printf("Starting shiftd v%s on port %d", api.Version, cfg.Server.Port)

	if err := server.Run(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.AccessKeyID != "" && cfg.AWS.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func buildArtifactChecker(cfg *config.Config, awsCfg aws.Config) registry.ArtifactChecker {
	if cfg.Registry.Type == "ecr" {
		return registry.NewECRClient(ecr.NewFromConfig(awsCfg))
	}
	return registry.NewClient(cfg.Registry.Username, cfg.Registry.Password)
}

func buildConfigStore(cfg *config.Config, awsCfg aws.Config) (configstore.Store, error) {
	switch cfg.ConfigStore.Type {
	case "ssm":
		return configstore.NewSSMStore(ssm.NewFromConfig(awsCfg), cfg.ConfigStore.SSMPrefix), nil
	case "gitops":
		git := cfg.ConfigStore.Git
		return configstore.NewGitopsStore(git.RepositoryURL, git.Branch, git.LocalPath,
			git.Username, git.Token, git.AuthorName, git.AuthorEmail)
	default:
		return configstore.NewMemoryStore(), nil
	}
}

package cmd

import (
	"github.com/shiftsmith/shiftsmith/internal/shared/config"
	"github.com/spf13/cobra"
)

var (
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "shiftctl",
	Short: "ShiftSmith CLI for managing traffic shifts and deployments",
	Long: `shiftctl is a command-line tool for operators to interact with shiftd.

It allows you to:
  - Start immediate, gradual, or canary traffic shifts
  - Poll and cancel running shifts
  - Resolve dependency graphs for deployments
  - Inject configuration for deployment components
  - Check deployment health

Configuration:
  Environment variables:
    SHIFTD_URL          - shiftd API endpoint (required)
    SHIFTD_API_KEY      - shiftd API authentication key (required)

  Config file (~/.shiftsmith/config.yaml):
    url: https://shiftd.example.com
    apiKey: sk_live_abc123

  CLI flags override environment variables and config file.

Example usage:
  shiftctl shift start --strategy gradual --old blue.yaml --new green.yaml
  shiftctl shift status 42540c4e-3f1a-4b2e-9f2c-7d8e9a0b1c2d
  shiftctl deployment health my-deployment`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	config.InitConfig()
	config.AddFlags(rootCmd)

	// Add shiftctl-specific flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
}

// GetShiftdURL returns the configured shiftd URL
func GetShiftdURL() string {
	return config.GetShiftdURL()
}

// GetShiftdAPIKey returns the configured shiftd API key
func GetShiftdAPIKey() string {
	return config.GetShiftdAPIKey()
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}

// ValidateConfig validates that required configuration is present
func ValidateConfig() error {
	return config.ValidateConfig()
}

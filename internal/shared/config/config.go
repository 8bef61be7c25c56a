package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	shiftdURL    string
	shiftdAPIKey string
)

// InitConfig initializes the shared configuration system
func InitConfig() {
	cobra.OnInitialize(loadConfig)
}

// AddFlags adds common configuration flags to a cobra command
func AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.shiftsmith/config.yaml)")
	cmd.PersistentFlags().StringVar(&shiftdURL, "url", "", "shiftd API endpoint")
	cmd.PersistentFlags().StringVar(&shiftdAPIKey, "api-key", "", "shiftd API key")

	// Bind flags to viper
	viper.BindPFlag("url", cmd.PersistentFlags().Lookup("url"))
	viper.BindPFlag("apiKey", cmd.PersistentFlags().Lookup("api-key"))
}

// loadConfig loads configuration from file and environment
func loadConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		configPath := filepath.Join(home, ".shiftsmith")
		viper.AddConfigPath(configPath)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read environment variables
	viper.SetEnvPrefix("SHIFTD")
	viper.AutomaticEnv()

	// A missing config file is fine; env vars and flags still apply.
	_ = viper.ReadInConfig()
}

// GetShiftdURL returns the configured shiftd URL
func GetShiftdURL() string {
	if shiftdURL != "" {
		return shiftdURL
	}
	return viper.GetString("url")
}

// GetShiftdAPIKey returns the configured shiftd API key
func GetShiftdAPIKey() string {
	if shiftdAPIKey != "" {
		return shiftdAPIKey
	}
	return viper.GetString("apiKey")
}

// ValidateConfig validates that required configuration is present
func ValidateConfig() error {
	if GetShiftdURL() == "" {
		return fmt.Errorf("shiftd URL not configured (set SHIFTD_URL, use --url, or add url to ~/.shiftsmith/config.yaml)")
	}
	if GetShiftdAPIKey() == "" {
		return fmt.Errorf("shiftd API key not configured (set SHIFTD_API_KEY, use --api-key, or add apiKey to ~/.shiftsmith/config.yaml)")
	}
	return nil
}

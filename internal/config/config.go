// This file defines the configuration structure for the application.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Uploads struct {
		Path      string `mapstructure:"path"`
		MaxSizeMB int64  `mapstructure:"max_size_mb"`
	} `mapstructure:"uploads"`
	Worker struct {
		Count               int `mapstructure:"count"`
		PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
		StaleAfterMinutes   int `mapstructure:"stale_after_minutes"`
	} `mapstructure:"worker"`
	Classifier struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"classifier"`
	Narrator struct {
		URL            string `mapstructure:"url"`
		Model          string `mapstructure:"model"`
		TimeoutMinutes int    `mapstructure:"timeout_minutes"`
	} `mapstructure:"narrator"`
}

// Load reads configuration from a file named "config.yml" in the current
// directory and unmarshals it into a Config struct. Environment variables
// with a "CHATLENS_" prefix override file values, e.g. CHATLENS_DATABASE_PATH
// overrides the `database.path` key.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CHATLENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("port", 8080)
	viper.SetDefault("database.path", "./chatlens.db")
	viper.SetDefault("uploads.path", "./uploads")
	viper.SetDefault("uploads.max_size_mb", 200)
	viper.SetDefault("worker.count", 2)
	viper.SetDefault("worker.poll_interval_seconds", 2)
	viper.SetDefault("worker.stale_after_minutes", 30)
	viper.SetDefault("classifier.url", "http://localhost:8001")
	viper.SetDefault("narrator.url", "http://localhost:11434")
	viper.SetDefault("narrator.model", "llama3")
	viper.SetDefault("narrator.timeout_minutes", 10)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults and environment overrides.
		} else {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

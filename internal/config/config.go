package config

import (
	"fmt"
	"go-curseforge-resolver/internal/models" // Import models for the Config struct

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus" // Use logrus
)

const (
	DefaultApiBaseUrl          = "https://api.curseforge.com"
	DefaultUserAgent           = "curseforge-resolver"
	DefaultApiClientTimeoutSec = 60
	DefaultManifestPath        = "pack.toml"
)

// DefaultInstanceSubdirs are created under the instance directory before manual downloads start.
var DefaultInstanceSubdirs = []string{"mods", "resourcepacks", "config"}

// LoadConfig reads the configuration from the specified path (defaulting to "config.toml")
// and returns it with defaults applied.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml" // Default path
	}
	var cfg models.Config
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		return ApplyDefaults(models.Config{}), fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}
	cfg = ApplyDefaults(cfg)

	if cfg.ApiKey == "" {
		log.Warn("Warning: ApiKey is not set in config.toml (set it or export CFR_API_KEY)")
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults fills unset or invalid fields.
func ApplyDefaults(cfg models.Config) models.Config {
	if cfg.ApiBaseUrl == "" {
		cfg.ApiBaseUrl = DefaultApiBaseUrl
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.ApiClientTimeoutSec <= 0 {
		cfg.ApiClientTimeoutSec = DefaultApiClientTimeoutSec
	}
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = DefaultManifestPath
	}
	if len(cfg.InstanceSubdirs) == 0 {
		cfg.InstanceSubdirs = append([]string(nil), DefaultInstanceSubdirs...)
	}
	if cfg.WaitTimeoutSec < 0 {
		log.Warnf("Invalid WaitTimeoutSec %d, waiting without a deadline", cfg.WaitTimeoutSec)
		cfg.WaitTimeoutSec = 0
	}
	return cfg
}

// Validate reports the settings the resolve command cannot run without.
func Validate(cfg models.Config) error {
	if cfg.ApiKey == "" {
		return fmt.Errorf("ApiKey is required (config file, --api-key or CFR_API_KEY)")
	}
	if cfg.PackRoot == "" {
		return fmt.Errorf("PackRoot is required (config file or --pack-root)")
	}
	return nil
}

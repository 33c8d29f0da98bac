package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/authkeeper/pkg/logging"
)

const (
	userConfigDir  = ".config/authkeeper"
	configFileName = "config.yaml"

	// EnvPrefix prefixes every environment override, e.g.
	// AUTHKEEPER_PROVIDER_CLIENT_ID.
	EnvPrefix = "AUTHKEEPER_"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// DefaultConfigDir returns ~/.config/authkeeper.
func DefaultConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// DefaultConfigPath returns ~/.config/authkeeper/config.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LoadConfig reads configPath (the default path when empty) over the
// defaults, applies AUTHKEEPER_* environment overrides and validates the
// result. A missing file is not an error.
func LoadConfig(configPath string) (Config, error) {
	cfg := GetDefaultConfig()

	if configPath == "" {
		path, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		configPath = path
	}

	// #nosec G304 -- the path is chosen by the user running the command
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config file at %s, using defaults and environment", configPath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading config from %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configPath, err)
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configPath)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("error applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

package config

import "time"

// Config is the top-level configuration for authkeeper.
type Config struct {
	Provider ProviderConfig `yaml:"provider" envPrefix:"PROVIDER_"`
	Session  SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
}

// ProviderConfig identifies the OAuth2 provider and this client.
//
// Endpoints are taken from AuthorizationEndpoint/TokenEndpoint when both are
// set, otherwise derived from Domain (hosted UI layout), otherwise discovered
// from Issuer.
type ProviderConfig struct {
	ClientID              string   `yaml:"client_id" env:"CLIENT_ID"`
	Domain                string   `yaml:"domain,omitempty" env:"DOMAIN"`
	Issuer                string   `yaml:"issuer,omitempty" env:"ISSUER"`
	AuthorizationEndpoint string   `yaml:"authorization_endpoint,omitempty" env:"AUTHORIZATION_ENDPOINT"`
	TokenEndpoint         string   `yaml:"token_endpoint,omitempty" env:"TOKEN_ENDPOINT"`
	RedirectURI           string   `yaml:"redirect_uri" env:"REDIRECT_URI"`
	Scopes                []string `yaml:"scopes,omitempty" env:"SCOPES" envSeparator:" "`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	RefreshThreshold   time.Duration `yaml:"refresh_threshold" env:"REFRESH_THRESHOLD"`
	AutoRefresh        bool          `yaml:"auto_refresh" env:"AUTO_REFRESH"`
	TickInterval       time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	PKCEVerifierLength int           `yaml:"pkce_verifier_length" env:"PKCE_VERIFIER_LENGTH"`
	PKCEMaxAge         time.Duration `yaml:"pkce_max_age" env:"PKCE_MAX_AGE"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// StorageConfig selects where the session is persisted. An empty Path uses
// the backend's default location.
type StorageConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	Path    string `yaml:"path,omitempty" env:"PATH"`
}

// LoggingConfig controls log level and the optional rotating log file.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	File       string `yaml:"file,omitempty" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups,omitempty" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty" env:"MAX_AGE_DAYS"`
}

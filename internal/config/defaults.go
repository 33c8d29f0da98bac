package config

import "time"

const (
	// DefaultRedirectURI is the loopback address the login command listens on.
	DefaultRedirectURI = "http://127.0.0.1:8765/callback"

	DefaultRefreshThreshold   = 5 * time.Minute
	DefaultTickInterval       = time.Second
	DefaultPKCEVerifierLength = 64
	DefaultPKCEMaxAge         = 10 * time.Minute
)

// GetDefaultConfig returns the configuration used before the file and the
// environment are applied.
func GetDefaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			RedirectURI: DefaultRedirectURI,
		},
		Session: SessionConfig{
			RefreshThreshold:   DefaultRefreshThreshold,
			AutoRefresh:        true,
			TickInterval:       DefaultTickInterval,
			PKCEVerifierLength: DefaultPKCEVerifierLength,
			PKCEMaxAge:         DefaultPKCEMaxAge,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

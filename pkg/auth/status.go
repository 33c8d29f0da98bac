package auth

import "time"

// StatusResponse is the machine-readable session state printed by
// `authkeeper status --json`.
type StatusResponse struct {
	// State is one of: "logged_out", "awaiting_authorization",
	// "exchanging_code", "authenticated", "refreshing".
	State string `json:"state"`

	Authenticated bool `json:"authenticated"`

	// User is present while a session is held.
	User *UserInfo `json:"user,omitempty"`

	// ExpiresAt is the access token expiry, also set for an expired session.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// ExpiresInSeconds is zero once the token has expired.
	ExpiresInSeconds int64 `json:"expires_in_seconds"`

	HasRefreshToken bool `json:"has_refresh_token"`

	Refresh RefreshSettings `json:"refresh"`

	Provider string `json:"provider,omitempty"`

	Storage *StorageInfo `json:"storage,omitempty"`
}

// UserInfo is the identity taken from the ID token.
type UserInfo struct {
	Subject string `json:"sub,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

// RefreshSettings describes when the token gets refreshed.
type RefreshSettings struct {
	Auto             bool  `json:"auto"`
	ThresholdSeconds int64 `json:"threshold_seconds"`
}

// StorageInfo names where the session is kept.
type StorageInfo struct {
	Backend string `json:"backend"`
	Path    string `json:"path,omitempty"`
}

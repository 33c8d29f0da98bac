package oauth

import (
	"strings"
	"time"
)

// DefaultScopes are requested when no scopes are configured.
var DefaultScopes = []string{"email", "openid", "phone"}

// Endpoints describes the identity provider and this client's registration.
type Endpoints struct {
	// ClientID is the public client identifier registered with the provider.
	ClientID string

	// AuthorizationEndpoint is the hosted login UI, e.g. https://{domain}/login.
	AuthorizationEndpoint string

	// TokenEndpoint is where codes and refresh tokens are exchanged.
	TokenEndpoint string

	// RedirectURI receives the authorization response.
	RedirectURI string

	// Scopes requested at login. Empty means DefaultScopes.
	Scopes []string
}

// EndpointsForDomain returns Cognito-style hosted UI endpoints for a domain.
func EndpointsForDomain(domain string) (authorizationEndpoint, tokenEndpoint string) {
	base := strings.TrimSuffix(domain, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return base + "/login", base + "/oauth2/token"
}

// scope joins the configured scopes, falling back to DefaultScopes.
func (e Endpoints) scope() string {
	if len(e.Scopes) == 0 {
		return strings.Join(DefaultScopes, " ")
	}
	return strings.Join(e.Scopes, " ")
}

// TokenResult is a successful token endpoint response.
type TokenResult struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
}

// ExpiresAt returns the absolute expiry relative to now.
func (t *TokenResult) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Metadata is the subset of OpenID Connect discovery metadata this client uses.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	EndSessionEndpoint            string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsPKCE returns true if the provider advertises S256, or advertises nothing.
func (m *Metadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == ChallengeMethodS256 {
			return true
		}
	}
	return len(m.CodeChallengeMethodsSupported) == 0
}

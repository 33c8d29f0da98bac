// Package oauth implements the protocol side of an OAuth2 Authorization Code
// login with PKCE against a hosted identity provider UI (for example Amazon
// Cognito).
//
// # Core Components
//
//   - PKCEGenerator: verifier/challenge pairs (RFC 7636, S256 only)
//   - Client: hosted UI URL, authorization_code and refresh_token grants,
//     optional OpenID Connect discovery
//   - ParseCallback / MatchesRedirect: authorization redirect handling
//   - ExtractClaims: identity claims from an unverified ID token
//   - Secret: token wrapper that never prints its value
//
// Token endpoint failures are *TokenError values whose kind is one of
// ErrNetwork, ErrAuth or ErrProtocol:
//
//	tokens, err := client.ExchangeRefresh(ctx, refreshToken)
//	if oauth.IsAuthError(err) {
//		// the refresh token is no longer valid
//	}
//
// Session persistence and refresh scheduling live in internal/session.
package oauth

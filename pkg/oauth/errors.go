package oauth

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	// ErrNetwork covers transport failures and timeouts talking to the token endpoint.
	ErrNetwork = errors.New("network error")

	// ErrAuth is returned when the token endpoint rejects the grant (HTTP 400/401).
	ErrAuth = errors.New("authorization rejected")

	// ErrProtocol is returned for any other non-2xx status or an unusable response body.
	ErrProtocol = errors.New("protocol error")

	// ErrMalformedToken is returned when an ID token cannot be decoded.
	ErrMalformedToken = errors.New("malformed token")

	// ErrInvalidCallback is returned when a redirect carries neither a code nor an error.
	ErrInvalidCallback = errors.New("invalid callback format")

	// ErrMissingVerifier is returned when a code arrives but no PKCE verifier is pending.
	ErrMissingVerifier = errors.New("code verifier not found")

	// ErrForeignRedirect is returned for redirects whose scheme or host does not match
	// the configured redirect URI.
	ErrForeignRedirect = errors.New("redirect does not match configured redirect URI")
)

// TokenError describes a failed token endpoint request.
type TokenError struct {
	// Kind is one of ErrNetwork, ErrAuth or ErrProtocol.
	Kind error

	// Op is the grant that failed ("authorization_code" or "refresh_token").
	Op string

	// StatusCode is the HTTP status, zero for transport failures.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *TokenError) Error() string {
	msg := fmt.Sprintf("%s grant failed: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *TokenError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsAuthError reports whether err means the provider rejected the grant.
// A refresh failing this way ends the session.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsNetworkError reports whether err is a transport failure worth retrying.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsProtocolError reports whether err is an unexpected response from the provider.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}

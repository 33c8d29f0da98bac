package session

// AuthState is the position of the session in the login lifecycle.
type AuthState int

const (
	// StateLoggedOut is the initial state; no usable session exists.
	StateLoggedOut AuthState = iota

	// StateAwaitingAuthorization means a login URL was handed out and a
	// PKCE verifier is pending.
	StateAwaitingAuthorization

	// StateExchangingCode means an authorization code is being exchanged.
	StateExchangingCode

	// StateAuthenticated means the access token is present and unexpired.
	StateAuthenticated

	// StateRefreshing means a refresh exchange is in flight.
	StateRefreshing
)

// String returns the string representation of the auth state.
func (s AuthState) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateAwaitingAuthorization:
		return "awaiting_authorization"
	case StateExchangingCode:
		return "exchanging_code"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

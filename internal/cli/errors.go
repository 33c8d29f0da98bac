package cli

import "fmt"

// AuthRequiredError indicates there is no session and the command needs one.
type AuthRequiredError struct{}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	return `Not logged in

To log in, run:
  authkeeper login

To check the current session:
  authkeeper status`
}

// AuthExpiredError indicates the access token has expired and could not be
// refreshed automatically.
type AuthExpiredError struct{}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthExpiredError) Error() string {
	return `Session expired

Try to refresh the token:
  authkeeper refresh

Or log in again:
  authkeeper login`
}

// AuthFailedError indicates a login or refresh attempt was rejected.
type AuthFailedError struct {
	// Reason is the underlying error.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication failed: %v

To retry, run:
  authkeeper login`, e.Reason)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

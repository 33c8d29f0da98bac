// Package cli holds the terminal-facing pieces shared by the authkeeper
// commands: errors that map to exit codes, session status tables, the
// pasted-redirect prompt and a progress spinner.
//
// # Output
//
// PrintStatus and PrintUserData render go-pretty tables. Pass NoColor (the
// --no-color flag) for plain text.
//
// # Exit codes
//
// AuthRequiredError and AuthExpiredError map to exit code 2 and
// AuthFailedError to exit code 3 in cmd.
package cli

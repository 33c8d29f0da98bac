// Package logging provides subsystem-tagged structured logging for authkeeper,
// built on log/slog.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Session", "Restored session for %s", email)
//	logging.Debug("Scheduler", "Token expires in %s", remaining)
//	logging.Error("Session", err, "Token refresh failed")
//
// Library code that takes an injected *slog.Logger gets one from Logger:
//
//	client := oauth.NewClient(endpoints, oauth.WithLogger(logging.Logger("OAuth")))
//
// # Log File
//
// Init additionally writes to a rotating file (lumberjack) when FileOptions.Path
// is set. The agent command uses this for long-running sessions.
//
// # Audit Logging
//
// Login, logout and refresh outcomes go through Audit, which prefixes the
// message with SECURITY_AUDIT: for filtering. Token values are never logged.
package logging

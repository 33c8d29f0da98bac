// Package config loads authkeeper's configuration.
//
// Values are layered: built-in defaults, then ~/.config/authkeeper/config.yaml
// (or the file given with --config), then AUTHKEEPER_* environment variables.
// The result is validated before use.
//
//	provider:
//	  client_id: 1example23456789
//	  domain: auth.example.com
//	  redirect_uri: http://127.0.0.1:8765/callback
//	session:
//	  refresh_threshold: 5m
//	storage:
//	  backend: file
//
// Nested keys map to environment variables by upper-casing and joining with
// underscores: provider.client_id becomes AUTHKEEPER_PROVIDER_CLIENT_ID and
// logging.level becomes AUTHKEEPER_LOG_LEVEL.
package config

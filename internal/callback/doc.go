// Package callback receives the authorization redirect on a loopback address.
//
// A Server listens on the host and port of an http://127.0.0.1:<port>/<path>
// redirect URI, answers the first request with a small result page and hands
// the full redirect URL to Wait. The URL is then given to
// session.Manager.HandleRedirect, which performs the code exchange.
package callback

// Package session keeps one OAuth2 login session alive for a host application.
//
// The Manager is the only owner of session state. It starts logins
// (OpenLoginUI), consumes redirects (HandleRedirect), restores persisted
// sessions (Restore), refreshes tokens ahead of expiry (Tick, driven by a
// Scheduler, or ForceRefreshToken) and ends sessions (Logout). Consumers
// observe it through events:
//
//	unsubscribe := manager.Subscribe(func(ev session.Event) {
//		switch ev.Type {
//		case session.EventLoginSuccess:
//		case session.EventLoginFailed:
//		case session.EventLogout:
//		}
//	})
//
// or read it through the SessionView interface. The Manager also implements
// oauth2.TokenSource.
//
// # State
//
//	logged_out --OpenLoginUI--> awaiting_authorization
//	awaiting_authorization --code--> exchanging_code --ok--> authenticated
//	authenticated --threshold--> refreshing --ok--> authenticated
//	refreshing --rejected--> logged_out
//	any --Logout--> logged_out
//
// # Storage
//
// Tokens, identity claims and the pending PKCE verifier are persisted through
// a Storage: FileStorage (JSON, 0600), SQLiteStorage or MemoryStorage.
// WatchFile lets a long-running process follow changes made by another one.
package session

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"

	"github.com/giantswarm/authkeeper/pkg/logging"
	"github.com/giantswarm/authkeeper/pkg/oauth"
)

const (
	// DefaultRefreshThreshold is how long before expiry a refresh starts.
	DefaultRefreshThreshold = 5 * time.Minute

	// MinRefreshThreshold is the lowest accepted refresh threshold.
	MinRefreshThreshold = time.Minute

	// DefaultPKCEMaxAge is how long a pending verifier stays usable.
	DefaultPKCEMaxAge = 10 * time.Minute

	subsystem = "Session"
)

var (
	// ErrNotAuthenticated is returned by Token when there is no valid session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrExchangeInProgress is returned by OpenLoginUI while a code exchange runs.
	ErrExchangeInProgress = errors.New("authorization code exchange in progress")
)

// ProviderError is returned by HandleRedirect when the provider redirected
// with an error instead of a code.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("login rejected by provider: %s: %s", e.Code, e.Description)
}

// TokenClient performs the provider calls the manager needs.
// *oauth.Client implements it.
type TokenClient interface {
	BuildLoginURL(codeChallenge string) (string, error)
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth.TokenResult, error)
	ExchangeRefresh(ctx context.Context, refreshToken string) (*oauth.TokenResult, error)
}

// URLOpener presents the login URL to the user.
type URLOpener interface {
	Open(url string) error
}

// URLOpenerFunc adapts a function to URLOpener.
type URLOpenerFunc func(url string) error

func (f URLOpenerFunc) Open(url string) error { return f(url) }

// SessionView is the read-only surface offered to code outside the login flow.
type SessionView interface {
	IsAuthenticated() bool
	GetAccessToken() string
	GetUserData() oauth.Claims
	GetTokenTimeRemaining() time.Duration
}

// Config configures a Manager.
type Config struct {
	// Client talks to the provider. Required.
	Client TokenClient

	// Storage persists the session. Nil means in-memory only.
	Storage Storage

	// RedirectURI is compared against incoming redirects. Empty accepts any.
	RedirectURI string

	// Opener shows the login URL. Nil leaves that to the caller of OpenLoginUI.
	Opener URLOpener

	// Dispatcher runs event handlers. Nil means SyncDispatcher.
	Dispatcher Dispatcher

	// RefreshThreshold defaults to DefaultRefreshThreshold and is clamped to
	// MinRefreshThreshold.
	RefreshThreshold time.Duration

	// DisableAutoRefresh turns off scheduler-driven refreshes.
	DisableAutoRefresh bool

	// PKCELength is the verifier length; zero means oauth.DefaultVerifierLength.
	PKCELength int

	// PKCEMaxAge defaults to DefaultPKCEMaxAge.
	PKCEMaxAge time.Duration

	// Random is the PKCE entropy source; nil means crypto/rand.
	Random io.Reader

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Manager is the session facade. It owns the token store and serializes every
// state change behind one mutex; background exchanges apply their results
// under the same mutex.
type Manager struct {
	mu sync.Mutex

	client      TokenClient
	store       *TokenStore
	opener      URLOpener
	redirectURI string
	pkce        oauth.PKCEGenerator
	pkceMaxAge  time.Duration
	now         func() time.Time
	events      *bus

	claims      oauth.Claims
	threshold   time.Duration
	autoRefresh bool
	exchanging  bool
	refreshing  bool

	// generation changes on Logout so late exchange results are discarded.
	generation uint64

	refreshSem *semaphore.Weighted
	inflight   sync.WaitGroup
}

var _ SessionView = (*Manager)(nil)
var _ oauth2.TokenSource = (*Manager)(nil)

// NewManager creates a logged-out manager. Call Restore to pick up a
// persisted session.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Client == nil {
		return nil, errors.New("session manager requires a token client")
	}
	if cfg.PKCELength != 0 && (cfg.PKCELength < oauth.MinVerifierLength || cfg.PKCELength > oauth.MaxVerifierLength) {
		return nil, fmt.Errorf("pkce verifier length %d outside [%d, %d]", cfg.PKCELength, oauth.MinVerifierLength, oauth.MaxVerifierLength)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	storage := cfg.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}
	maxAge := cfg.PKCEMaxAge
	if maxAge <= 0 {
		maxAge = DefaultPKCEMaxAge
	}

	m := &Manager{
		client:      cfg.Client,
		store:       NewTokenStore(storage, now),
		opener:      cfg.Opener,
		redirectURI: cfg.RedirectURI,
		pkce:        oauth.PKCEGenerator{Length: cfg.PKCELength, Random: cfg.Random, Now: now},
		pkceMaxAge:  maxAge,
		now:         now,
		events:      newBus(cfg.Dispatcher),
		threshold:   clampThreshold(cfg.RefreshThreshold),
		autoRefresh: !cfg.DisableAutoRefresh,
		refreshSem:  semaphore.NewWeighted(1),
	}
	return m, nil
}

func clampThreshold(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultRefreshThreshold
	}
	if d < MinRefreshThreshold {
		return MinRefreshThreshold
	}
	return d
}

// Subscribe registers h for all events. Handlers run in registration order.
// The returned function removes the subscription.
func (m *Manager) Subscribe(h Handler) func() {
	return m.events.subscribe(h)
}

// Store exposes the token store for inspection.
func (m *Manager) Store() *TokenStore {
	return m.store
}

// Restore loads a persisted session. A valid session becomes Authenticated and
// emits LoginSuccess (refreshing right away when inside the threshold); an
// expired one is refreshed immediately.
func (m *Manager) Restore(ctx context.Context) AuthState {
	defer m.events.flush()

	m.mu.Lock()
	defer m.mu.Unlock()

	if flow, ok := m.store.LoadPKCE(); ok && m.flowExpiredLocked(flow) {
		logging.Debug(subsystem, "Discarding stale code verifier for flow %s", flow.FlowID)
		if err := m.store.ClearPKCE(); err != nil {
			logging.Warn(subsystem, "Failed to delete stale code verifier: %v", err)
		}
	}

	claims, ok := m.store.Load()
	if !ok {
		logging.Debug(subsystem, "No saved session")
		return m.stateLocked()
	}

	m.claims = claims
	sess := m.store.Snapshot()
	now := m.now()

	if sess.Valid(now) {
		logging.Info(subsystem, "Restored session for %s (expires in %s)", displayName(claims), sess.Remaining(now).Round(time.Second))
		m.events.push(Event{Type: EventLoginSuccess, Claims: claims, At: now})
		if m.autoRefresh && sess.Remaining(now) < m.threshold {
			m.startRefreshLocked(ctx)
		}
		return m.stateLocked()
	}

	logging.Info(subsystem, "Saved session expired %s ago, refreshing", now.Sub(sess.ExpiresAt).Round(time.Second))
	if !m.startRefreshLocked(ctx) {
		logging.Warn(subsystem, "Saved session has no refresh token")
	}
	return m.stateLocked()
}

// Reload re-reads storage after another process changed it and reconciles
// the in-memory session, emitting LoginSuccess or Logout when the session
// appeared, changed or disappeared.
func (m *Manager) Reload(ctx context.Context) error {
	defer m.events.flush()

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.store.storage.(Reloader); ok {
		if err := r.Reload(); err != nil {
			return err
		}
	}
	m.store.LoadPKCE()

	before := m.store.Snapshot()
	claims, ok := m.store.Load()
	now := m.now()

	if !ok {
		if !before.IsZero() {
			logging.Info(subsystem, "Session removed by another process")
			m.endGenerationLocked()
			m.store.Reset()
			m.claims = oauth.Claims{}
			m.refreshing = false
			m.events.push(Event{Type: EventLogout, At: now})
		}
		return nil
	}

	after := m.store.Snapshot()
	if after.AccessToken.Reveal() == before.AccessToken.Reveal() && after.ExpiresAt.Equal(before.ExpiresAt) {
		return nil
	}

	m.claims = claims
	if after.Valid(now) {
		logging.Info(subsystem, "Picked up session for %s from storage", displayName(claims))
		m.events.push(Event{Type: EventLoginSuccess, Claims: claims, At: now})
	}
	return nil
}

// OpenLoginUI starts a login: it generates and persists a PKCE verifier,
// builds the hosted UI URL and hands it to the configured opener. The URL is
// returned even when opening it fails so the caller can show it.
func (m *Manager) OpenLoginUI(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exchanging {
		return "", ErrExchangeInProgress
	}

	pkce, err := m.pkce.Generate()
	if err != nil {
		logging.Error(subsystem, err, "Failed to generate PKCE challenge")
		return "", err
	}

	loginURL, err := m.client.BuildLoginURL(pkce.CodeChallenge)
	if err != nil {
		return "", fmt.Errorf("failed to build login URL: %w", err)
	}

	if err := m.store.SavePKCE(pkce); err != nil {
		return "", err
	}

	logging.Audit(subsystem, "login_started", "pending", "flow="+pkce.FlowID)

	if m.opener != nil {
		if err := m.opener.Open(loginURL); err != nil {
			return loginURL, fmt.Errorf("failed to open login URL: %w", err)
		}
	}
	return loginURL, nil
}

// HandleRedirect processes a redirect delivered to the app. Redirects for other
// URIs return ErrForeignRedirect and change nothing. Otherwise the pending
// verifier is consumed; an error redirect, an unparseable URL or a missing
// verifier emit LoginFailed and return an error. A code starts a background
// exchange and HandleRedirect returns nil; use Wait or subscribe for the result.
func (m *Manager) HandleRedirect(ctx context.Context, redirectURL string) error {
	defer m.events.flush()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redirectURI != "" && !oauth.MatchesRedirect(redirectURL, m.redirectURI) {
		logging.Debug(subsystem, "Ignoring redirect for a different URI")
		return oauth.ErrForeignRedirect
	}

	flow, hasFlow, err := m.store.TakePKCE()
	if err != nil {
		logging.Warn(subsystem, "Failed to delete code verifier: %v", err)
	}

	result, err := oauth.ParseCallback(redirectURL)
	if err != nil {
		m.loginFailedLocked(err.Error(), flow.FlowID)
		return err
	}

	if result.IsError() {
		m.loginFailedLocked(result.ErrorDescription, flow.FlowID)
		return &ProviderError{Code: result.Error, Description: result.ErrorDescription}
	}

	if !hasFlow || m.flowExpiredLocked(flow) {
		m.loginFailedLocked(oauth.ErrMissingVerifier.Error(), flow.FlowID)
		return oauth.ErrMissingVerifier
	}

	m.exchanging = true
	gen := m.generation
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		tokens, err := m.client.ExchangeCode(ctx, result.Code, flow.CodeVerifier)
		m.completeCodeExchange(gen, flow.FlowID, tokens, err)
	}()
	return nil
}

func (m *Manager) completeCodeExchange(gen uint64, flowID string, tokens *oauth.TokenResult, err error) {
	defer m.events.flush()

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		logging.Debug(subsystem, "Discarding code exchange result after logout")
		return
	}
	m.exchanging = false

	if err != nil {
		logging.Error(subsystem, err, "Authorization code exchange failed")
		m.loginFailedLocked(err.Error(), flowID)
		return
	}

	// A malformed ID token does not fail the login; the session simply has no
	// identity claims. No placeholder identity is made up.
	claims, err := oauth.ExtractClaims(tokens.IDToken)
	if err != nil {
		logging.Warn(subsystem, "Token response carried an unusable ID token, continuing without identity claims: %v", err)
		claims = oauth.Claims{}
	}

	m.store.Set(tokens)
	m.claims = claims
	if err := m.store.Save(claims); err != nil {
		logging.Error(subsystem, err, "Failed to persist session")
	}

	logging.Audit(subsystem, "login", "success", "flow="+flowID)
	logging.Info(subsystem, "Logged in as %s", displayName(claims))
	m.events.push(Event{Type: EventLoginSuccess, Claims: claims, At: m.now()})
}

func (m *Manager) loginFailedLocked(reason, flowID string) {
	logging.Audit(subsystem, "login", "failure", "flow="+flowID)
	m.events.push(Event{Type: EventLoginFailed, Reason: reason, At: m.now()})
}

func (m *Manager) flowExpiredLocked(flow PendingFlow) bool {
	if flow.CreatedAt.IsZero() {
		return false
	}
	return m.now().Sub(flow.CreatedAt) > m.pkceMaxAge
}

// Logout clears tokens, claims, any pending verifier and persisted storage,
// and always emits Logout. A refresh or exchange still in flight is ignored
// when it completes.
func (m *Manager) Logout() {
	defer m.events.flush()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.endGenerationLocked()
	m.claims = oauth.Claims{}
	m.exchanging = false
	m.refreshing = false

	if err := m.store.Clear(); err != nil {
		logging.Error(subsystem, err, "Failed to clear persisted session")
	}
	if err := m.store.ClearPKCE(); err != nil {
		logging.Error(subsystem, err, "Failed to clear code verifier")
	}

	logging.Audit(subsystem, "logout", "success", "")
	m.events.push(Event{Type: EventLogout, At: m.now()})
}

// endGenerationLocked invalidates every exchange in flight. The refresh slot
// is replaced so a new session can refresh before the old call returns.
func (m *Manager) endGenerationLocked() {
	m.generation++
	m.refreshSem = semaphore.NewWeighted(1)
}

// IsAuthenticated reports whether the access token is present and unexpired.
func (m *Manager) IsAuthenticated() bool {
	return m.store.Snapshot().Valid(m.now())
}

// GetAccessToken returns the access token, or "" when not authenticated.
func (m *Manager) GetAccessToken() string {
	sess := m.store.Snapshot()
	if !sess.Valid(m.now()) {
		return ""
	}
	return sess.AccessToken.Reveal()
}

// GetUserData returns the identity claims, or empty claims when not
// authenticated.
func (m *Manager) GetUserData() oauth.Claims {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.store.Snapshot().Valid(m.now()) {
		return oauth.Claims{}
	}
	return copyClaims(m.claims)
}

// GetTokenTimeRemaining returns the time until expiry, or 0 when not
// authenticated.
func (m *Manager) GetTokenTimeRemaining() time.Duration {
	sess := m.store.Snapshot()
	now := m.now()
	if !sess.Valid(now) {
		return 0
	}
	return sess.Remaining(now)
}

// GetState returns the current lifecycle state.
func (m *Manager) GetState() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() AuthState {
	switch {
	case m.refreshing:
		return StateRefreshing
	case m.exchanging:
		return StateExchangingCode
	case m.store.Snapshot().Valid(m.now()):
		return StateAuthenticated
	}
	if flow, ok := m.store.PendingPKCE(); ok && !m.flowExpiredLocked(flow) {
		return StateAwaitingAuthorization
	}
	return StateLoggedOut
}

// SetAutoRefresh enables or disables scheduler-driven refreshes.
// ForceRefreshToken is not affected.
func (m *Manager) SetAutoRefresh(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoRefresh = enabled
}

// SetRefreshThreshold sets how long before expiry a refresh starts.
// Values below MinRefreshThreshold are raised to it.
func (m *Manager) SetRefreshThreshold(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < MinRefreshThreshold {
		d = MinRefreshThreshold
	}
	m.threshold = d
}

// RefreshThreshold returns the current threshold.
func (m *Manager) RefreshThreshold() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// Token implements oauth2.TokenSource.
func (m *Manager) Token() (*oauth2.Token, error) {
	sess := m.store.Snapshot()
	if !sess.Valid(m.now()) {
		return nil, ErrNotAuthenticated
	}
	return sess.OAuth2Token(), nil
}

// HTTPClient returns a client that sends the current access token on every
// request. The token is read per request, so a refresh or logout takes effect
// immediately.
func (m *Manager) HTTPClient() *http.Client {
	return &http.Client{Transport: &oauth2.Transport{Source: m}}
}

// Wait blocks until every background exchange started so far has been applied.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func copyClaims(c oauth.Claims) oauth.Claims {
	out := c
	if c.Attributes != nil {
		out.Attributes = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

func displayName(c oauth.Claims) string {
	switch {
	case c.Email != "":
		return c.Email
	case c.Name != "":
		return c.Name
	case c.Subject != "":
		return c.Subject
	default:
		return "unknown user"
	}
}

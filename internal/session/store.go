package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/authkeeper/pkg/oauth"
)

// Persisted keys.
const (
	KeyAccessToken  = "AUTH_ACCESS_TOKEN"
	KeyIDToken      = "AUTH_ID_TOKEN"
	KeyRefreshToken = "AUTH_REFRESH_TOKEN"
	KeyTokenExpiry  = "AUTH_TOKEN_EXPIRY"
	KeyUserID       = "AUTH_USER_ID"
	KeyUserEmail    = "AUTH_USER_EMAIL"
	KeyUserName     = "AUTH_USER_NAME"

	// KeyAttributePrefix prefixes each persisted claim in PersistedClaims.
	KeyAttributePrefix = "AUTH_ATTR_"

	KeyPKCEVerifier  = "PKCE_CODE_VERIFIER"
	KeyPKCEFlowID    = "PKCE_FLOW_ID"
	KeyPKCECreatedAt = "PKCE_CREATED_AT"
)

// PersistedClaims are the claims written to storage next to the tokens.
var PersistedClaims = []string{
	"sub", "email", "name", "given_name", "family_name",
	"exp", "iat", "auth_time", "iss", "email_verified",
}

// Session is the current token set.
type Session struct {
	AccessToken  oauth.Secret
	IDToken      oauth.Secret
	RefreshToken oauth.Secret
	ExpiresAt    time.Time
}

// Valid reports whether the access token is present and unexpired at now.
func (s Session) Valid(now time.Time) bool {
	return !s.AccessToken.IsZero() && now.Before(s.ExpiresAt)
}

// Remaining returns the time until expiry; negative once expired.
func (s Session) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// IsZero reports whether no tokens are held.
func (s Session) IsZero() bool {
	return s.AccessToken.IsZero() && s.IDToken.IsZero() && s.RefreshToken.IsZero()
}

// OAuth2Token converts the session for golang.org/x/oauth2. The refresh token
// is left out; refreshing stays with the Manager.
func (s Session) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: s.AccessToken.Reveal(),
		TokenType:   "Bearer",
		Expiry:      s.ExpiresAt,
	}
	if !s.IDToken.IsZero() {
		tok = tok.WithExtra(map[string]interface{}{"id_token": s.IDToken.Reveal()})
	}
	return tok
}

// PendingFlow is a persisted PKCE verifier awaiting its redirect.
type PendingFlow struct {
	FlowID       string
	CodeVerifier string
	CreatedAt    time.Time
}

// TokenStore holds the session in memory and mirrors it to Storage.
// In-memory changes (Set, Update) are not written until Save.
type TokenStore struct {
	mu      sync.RWMutex
	storage Storage
	now     func() time.Time
	session Session
	pending *PendingFlow
}

// NewTokenStore creates a store backed by storage.
func NewTokenStore(storage Storage, now func() time.Time) *TokenStore {
	if now == nil {
		now = time.Now
	}
	return &TokenStore{storage: storage, now: now}
}

// Set replaces the whole token set. Expiry is now + expiresIn seconds.
func (s *TokenStore) Set(tokens *oauth.TokenResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = Session{
		AccessToken:  oauth.NewSecret(tokens.AccessToken),
		IDToken:      oauth.NewSecret(tokens.IDToken),
		RefreshToken: oauth.NewSecret(tokens.RefreshToken),
		ExpiresAt:    tokens.ExpiresAt(s.now()),
	}
}

// Update applies a refresh result. Empty idToken or refreshToken keep the
// current values.
func (s *TokenStore) Update(accessToken, idToken, refreshToken string, expiresIn int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.AccessToken = oauth.NewSecret(accessToken)
	if idToken != "" {
		s.session.IDToken = oauth.NewSecret(idToken)
	}
	if refreshToken != "" {
		s.session.RefreshToken = oauth.NewSecret(refreshToken)
	}
	s.session.ExpiresAt = s.now().Add(time.Duration(expiresIn) * time.Second)
}

// Snapshot returns a copy of the current session.
func (s *TokenStore) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Save persists the current tokens together with claims.
func (s *TokenStore) Save(claims oauth.Claims) error {
	s.mu.RLock()
	sess := s.session
	s.mu.RUnlock()

	set := map[string]string{
		KeyAccessToken:  sess.AccessToken.Reveal(),
		KeyIDToken:      sess.IDToken.Reveal(),
		KeyRefreshToken: sess.RefreshToken.Reveal(),
		KeyTokenExpiry:  sess.ExpiresAt.UTC().Format(time.RFC3339),
		KeyUserID:       claims.Subject,
		KeyUserEmail:    claims.Email,
		KeyUserName:     claims.Name,
	}
	var del []string
	for _, name := range PersistedClaims {
		if v, ok := claims.Attributes[name]; ok {
			set[KeyAttributePrefix+name] = v
		} else {
			del = append(del, KeyAttributePrefix+name)
		}
	}

	if err := applyBatch(s.storage, set, del); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Load reads a persisted session. It returns false, leaving the in-memory
// session untouched, when any token key is missing or the expiry does not
// parse. The returned session may be expired.
func (s *TokenStore) Load() (oauth.Claims, bool) {
	values := make(map[string]string)
	for _, key := range []string{KeyAccessToken, KeyIDToken, KeyRefreshToken, KeyTokenExpiry} {
		v, ok, err := s.storage.Get(key)
		if err != nil || !ok {
			return oauth.Claims{}, false
		}
		values[key] = v
	}

	expiresAt, err := time.Parse(time.RFC3339, values[KeyTokenExpiry])
	if err != nil {
		return oauth.Claims{}, false
	}

	claims := oauth.Claims{Attributes: make(map[string]string)}
	for _, name := range PersistedClaims {
		if v, ok, err := s.storage.Get(KeyAttributePrefix + name); err == nil && ok {
			claims.Attributes[name] = v
		}
	}
	claims.Subject = s.getOr(KeyUserID, claims.Attributes["sub"])
	claims.Email = s.getOr(KeyUserEmail, claims.Attributes["email"])
	claims.Name = s.getOr(KeyUserName, claims.Attributes["name"])

	s.mu.Lock()
	s.session = Session{
		AccessToken:  oauth.NewSecret(values[KeyAccessToken]),
		IDToken:      oauth.NewSecret(values[KeyIDToken]),
		RefreshToken: oauth.NewSecret(values[KeyRefreshToken]),
		ExpiresAt:    expiresAt,
	}
	s.mu.Unlock()

	return claims, true
}

func (s *TokenStore) getOr(key, fallback string) string {
	if v, ok, err := s.storage.Get(key); err == nil && ok && v != "" {
		return v
	}
	return fallback
}

// Clear drops the in-memory session and deletes every persisted session key.
func (s *TokenStore) Clear() error {
	s.Reset()
	if err := applyBatch(s.storage, nil, sessionKeys()); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Reset drops the in-memory session without touching storage.
func (s *TokenStore) Reset() {
	s.mu.Lock()
	s.session = Session{}
	s.mu.Unlock()
}

func sessionKeys() []string {
	keys := []string{
		KeyAccessToken, KeyIDToken, KeyRefreshToken, KeyTokenExpiry,
		KeyUserID, KeyUserEmail, KeyUserName,
	}
	for _, name := range PersistedClaims {
		keys = append(keys, KeyAttributePrefix+name)
	}
	return keys
}

// SavePKCE persists a verifier, replacing any earlier pending flow.
func (s *TokenStore) SavePKCE(pkce *oauth.PKCEChallenge) error {
	set := map[string]string{
		KeyPKCEVerifier:  pkce.CodeVerifier,
		KeyPKCEFlowID:    pkce.FlowID,
		KeyPKCECreatedAt: pkce.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := applyBatch(s.storage, set, nil); err != nil {
		return fmt.Errorf("failed to persist code verifier: %w", err)
	}

	s.mu.Lock()
	s.pending = &PendingFlow{FlowID: pkce.FlowID, CodeVerifier: pkce.CodeVerifier, CreatedAt: pkce.CreatedAt}
	s.mu.Unlock()
	return nil
}

// LoadPKCE reads the persisted flow into memory and returns it.
func (s *TokenStore) LoadPKCE() (PendingFlow, bool) {
	verifier, ok, err := s.storage.Get(KeyPKCEVerifier)
	if err != nil || !ok || strings.TrimSpace(verifier) == "" {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		return PendingFlow{}, false
	}

	flow := PendingFlow{CodeVerifier: verifier}
	if id, ok, err := s.storage.Get(KeyPKCEFlowID); err == nil && ok {
		flow.FlowID = id
	}
	if created, ok, err := s.storage.Get(KeyPKCECreatedAt); err == nil && ok {
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			flow.CreatedAt = t
		}
	}

	s.mu.Lock()
	s.pending = &flow
	s.mu.Unlock()
	return flow, true
}

// PendingPKCE returns the in-memory pending flow without touching storage.
func (s *TokenStore) PendingPKCE() (PendingFlow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return PendingFlow{}, false
	}
	return *s.pending, true
}

// TakePKCE returns the persisted flow and deletes it.
func (s *TokenStore) TakePKCE() (PendingFlow, bool, error) {
	flow, ok := s.LoadPKCE()
	if err := s.ClearPKCE(); err != nil {
		return flow, ok, err
	}
	return flow, ok, nil
}

// ClearPKCE deletes the pending flow.
func (s *TokenStore) ClearPKCE() error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	if err := applyBatch(s.storage, nil, []string{KeyPKCEVerifier, KeyPKCEFlowID, KeyPKCECreatedAt}); err != nil {
		return fmt.Errorf("failed to delete code verifier: %w", err)
	}
	return nil
}

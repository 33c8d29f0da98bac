package session

import (
	"context"
	"time"

	"github.com/giantswarm/authkeeper/pkg/logging"
	"github.com/giantswarm/authkeeper/pkg/oauth"
)

// DefaultTickInterval is how often the scheduler checks the token expiry.
const DefaultTickInterval = time.Second

// Tick starts a refresh when auto-refresh is on, none is in flight, a refresh
// token exists and the token expires within the threshold. A token that has
// already expired, after a failed refresh or a suspended process, counts as
// within the threshold. Tick reports whether a refresh was started.
func (m *Manager) Tick(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.autoRefresh || m.refreshing || m.exchanging {
		return false
	}

	sess := m.store.Snapshot()
	if sess.RefreshToken.IsZero() {
		return false
	}

	now := m.now()
	if sess.Remaining(now) >= m.threshold {
		return false
	}

	logging.Debug(subsystem, "Token expires in %s, refreshing", sess.Remaining(now).Round(time.Second))
	return m.startRefreshLocked(ctx)
}

// ForceRefreshToken refreshes now regardless of the threshold. It returns
// false without doing anything when not authenticated, when there is no
// refresh token, or when a refresh is already in flight.
func (m *Manager) ForceRefreshToken(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.store.Snapshot()
	if !sess.Valid(m.now()) || sess.RefreshToken.IsZero() {
		return false
	}
	return m.startRefreshLocked(ctx)
}

// startRefreshLocked launches one refresh exchange. A second call while one
// is outstanding is dropped.
func (m *Manager) startRefreshLocked(ctx context.Context) bool {
	refreshToken := m.store.Snapshot().RefreshToken
	if refreshToken.IsZero() {
		return false
	}
	sem := m.refreshSem
	if !sem.TryAcquire(1) {
		return false
	}

	m.refreshing = true
	gen := m.generation
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer sem.Release(1)
		tokens, err := m.client.ExchangeRefresh(ctx, refreshToken.Reveal())
		m.completeRefresh(gen, tokens, err)
	}()
	return true
}

func (m *Manager) completeRefresh(gen uint64, tokens *oauth.TokenResult, err error) {
	defer m.events.flush()

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		logging.Debug(subsystem, "Discarding refresh result after logout")
		return
	}
	m.refreshing = false
	now := m.now()

	if err != nil {
		if oauth.IsAuthError(err) {
			logging.Error(subsystem, err, "Refresh token rejected, ending session")
			logging.Audit(subsystem, "refresh", "rejected", "")
			m.generation++
			m.claims = oauth.Claims{}
			if err := m.store.Clear(); err != nil {
				logging.Error(subsystem, err, "Failed to clear persisted session")
			}
			m.events.push(Event{Type: EventLogout, At: now})
			return
		}
		logging.Warn(subsystem, "Token refresh failed, will retry: %v", err)
		return
	}

	idToken := tokens.IDToken
	if idToken != "" {
		claims, err := oauth.ExtractClaims(idToken)
		if err != nil {
			logging.Warn(subsystem, "Refreshed ID token is malformed, keeping previous identity: %v", err)
			idToken = ""
		} else {
			m.claims = claims
		}
	}

	m.store.Update(tokens.AccessToken, idToken, tokens.RefreshToken, tokens.ExpiresIn)
	if err := m.store.Save(m.claims); err != nil {
		logging.Error(subsystem, err, "Failed to persist refreshed session")
	}

	logging.Audit(subsystem, "refresh", "success", "")
	logging.Debug(subsystem, "Token refreshed, expires in %ds", tokens.ExpiresIn)
	m.events.push(Event{Type: EventLoginSuccess, Claims: copyClaims(m.claims), At: now})
}

// Scheduler drives Tick on a fixed interval.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
}

// NewScheduler creates a scheduler; interval <= 0 means DefaultTickInterval.
func NewScheduler(m *Manager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{manager: m, interval: interval}
}

// Run ticks until ctx is cancelled, then waits for an in-flight refresh to be
// applied and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Debug("Scheduler", "Refresh scheduler started (interval %s)", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.manager.Wait()
			logging.Debug("Scheduler", "Refresh scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.manager.Tick(ctx)
		}
	}
}

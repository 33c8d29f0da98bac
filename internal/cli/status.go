package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/giantswarm/authkeeper/internal/session"
	"github.com/giantswarm/authkeeper/pkg/auth"
	"github.com/giantswarm/authkeeper/pkg/oauth"
	pkgstrings "github.com/giantswarm/authkeeper/pkg/strings"
)

// Options controls how tables are rendered.
type Options struct {
	NoColor bool
}

// Status is a point-in-time view of the session for display.
type Status struct {
	State            session.AuthState
	User             oauth.Claims
	ExpiresAt        time.Time
	Remaining        time.Duration
	HasRefreshToken  bool
	AutoRefresh      bool
	RefreshThreshold time.Duration
	Provider         string
	StorageBackend   string
	StoragePath      string
}

// StatusFromManager collects a Status from m.
func StatusFromManager(m *session.Manager) Status {
	snap := m.Store().Snapshot()
	return Status{
		State:            m.GetState(),
		User:             m.GetUserData(),
		ExpiresAt:        snap.ExpiresAt,
		Remaining:        m.GetTokenTimeRemaining(),
		HasRefreshToken:  !snap.RefreshToken.IsZero(),
		RefreshThreshold: m.RefreshThreshold(),
	}
}

// PrintStatus writes the session status table to w.
func PrintStatus(w io.Writer, s Status, opts Options) {
	t := newTable(opts)
	t.AppendHeader(table.Row{"Session", ""})

	t.AppendRow(table.Row{"State", colorState(s.State, opts)})
	if s.Provider != "" {
		t.AppendRow(table.Row{"Provider", s.Provider})
	}
	if s.State == session.StateAuthenticated || s.State == session.StateRefreshing {
		t.AppendRow(table.Row{"User", DisplayName(s.User)})
		t.AppendRow(table.Row{"Expires", fmt.Sprintf("%s (in %s)", s.ExpiresAt.Local().Format(time.RFC1123), FormatDuration(s.Remaining))})
		t.AppendRow(table.Row{"Refresh token", yesNo(s.HasRefreshToken)})
	} else if !s.ExpiresAt.IsZero() {
		t.AppendRow(table.Row{"Expired", s.ExpiresAt.Local().Format(time.RFC1123)})
	}
	t.AppendRow(table.Row{"Auto refresh", fmt.Sprintf("%s (threshold %s)", yesNo(s.AutoRefresh), FormatDuration(s.RefreshThreshold))})
	if s.StorageBackend != "" {
		storage := s.StorageBackend
		if s.StoragePath != "" {
			storage += " (" + s.StoragePath + ")"
		}
		t.AppendRow(table.Row{"Storage", storage})
	}

	_, _ = fmt.Fprintln(w, t.Render())
}

// PrintUserData writes the identity claims to w, sorted by name.
func PrintUserData(w io.Writer, c oauth.Claims, opts Options) {
	t := newTable(opts)
	t.AppendHeader(table.Row{"Claim", "Value"})

	names := make([]string, 0, len(c.Attributes))
	for name := range c.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.AppendRow(table.Row{name, pkgstrings.Truncate(c.Attributes[name], pkgstrings.DefaultValueMaxLen)})
	}
	if len(names) == 0 {
		t.AppendRow(table.Row{"-", "no identity claims"})
	}

	_, _ = fmt.Fprintln(w, t.Render())
}

func newTable(opts Options) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	if opts.NoColor {
		t.Style().Color = table.ColorOptionsDefault
		t.Style().Format.Header = text.FormatDefault
	} else {
		t.Style().Format.Header = text.FormatUpper
	}
	return t
}

func colorState(state session.AuthState, opts Options) string {
	s := state.String()
	if opts.NoColor {
		return s
	}
	switch state {
	case session.StateAuthenticated:
		return text.FgGreen.Sprint(s)
	case session.StateRefreshing, session.StateExchangingCode, session.StateAwaitingAuthorization:
		return text.FgYellow.Sprint(s)
	default:
		return text.FgRed.Sprint(s)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// DisplayName picks the most readable identity for c.
func DisplayName(c oauth.Claims) string {
	switch {
	case c.Email != "" && c.Name != "":
		return fmt.Sprintf("%s <%s>", c.Name, c.Email)
	case c.Email != "":
		return c.Email
	case c.Name != "":
		return c.Name
	case c.Subject != "":
		return c.Subject
	default:
		return "unknown"
	}
}

// FormatDuration renders d as "1h 5m", "4m 30s" or "12s".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 && h == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}

// Response converts s to the JSON status shape.
func (s Status) Response() auth.StatusResponse {
	resp := auth.StatusResponse{
		State:           s.State.String(),
		Authenticated:   s.State == session.StateAuthenticated || s.State == session.StateRefreshing,
		HasRefreshToken: s.HasRefreshToken,
		Refresh: auth.RefreshSettings{
			Auto:             s.AutoRefresh,
			ThresholdSeconds: int64(s.RefreshThreshold / time.Second),
		},
		Provider: s.Provider,
	}
	if s.Remaining > 0 {
		resp.ExpiresInSeconds = int64(s.Remaining / time.Second)
	}
	if !s.ExpiresAt.IsZero() {
		expiresAt := s.ExpiresAt.UTC()
		resp.ExpiresAt = &expiresAt
	}
	if !s.User.IsZero() {
		resp.User = &auth.UserInfo{Subject: s.User.Subject, Email: s.User.Email, Name: s.User.Name}
	}
	if s.StorageBackend != "" {
		resp.Storage = &auth.StorageInfo{Backend: s.StorageBackend, Path: s.StoragePath}
	}
	return resp
}

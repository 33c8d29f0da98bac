package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/authkeeper/internal/callback"
	"github.com/giantswarm/authkeeper/internal/cli"
	"github.com/giantswarm/authkeeper/internal/config"
	"github.com/giantswarm/authkeeper/internal/session"
	"github.com/giantswarm/authkeeper/pkg/auth"
	"github.com/giantswarm/authkeeper/pkg/logging"
)

// tokenProvider is a minimal token endpoint.
type tokenProvider struct {
	*httptest.Server

	mu            sync.Mutex
	grants        []string
	refreshStatus int
}

func newTokenProvider(t *testing.T) *tokenProvider {
	t.Helper()
	p := &tokenProvider{}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serveToken))
	t.Cleanup(p.Close)
	return p
}

func (p *tokenProvider) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	grant := r.PostForm.Get("grant_type")
	p.grants = append(p.grants, grant)
	refreshStatus := p.refreshStatus
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch grant {
	case "authorization_code":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-1",
			"id_token":      testIDToken(map[string]interface{}{"sub": "user-1", "email": "jane@example.com", "name": "Jane Doe"}),
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	case "refresh_token":
		if refreshStatus != 0 {
			w.WriteHeader(refreshStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Refresh Token has been revoked"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-2",
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	default:
		http.Error(w, "unsupported grant", http.StatusBadRequest)
	}
}

func (p *tokenProvider) grantCount(grant string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, g := range p.grants {
		if g == grant {
			n++
		}
	}
	return n
}

func testIDToken(claims map[string]interface{}) string {
	enc := base64.RawURLEncoding
	header, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	payload, _ := json.Marshal(claims)
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + ".sig"
}

// useConfig points every command at provider and a session file in a
// temporary directory.
func useConfig(t *testing.T, provider *tokenProvider, redirectURI string) config.Config {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Provider.ClientID = "test-client"
	cfg.Provider.AuthorizationEndpoint = provider.URL + "/login"
	cfg.Provider.TokenEndpoint = provider.URL + "/oauth2/token"
	cfg.Provider.RedirectURI = redirectURI
	cfg.Storage.Backend = config.BackendFile
	cfg.Storage.Path = filepath.Join(t.TempDir(), "session.json")
	cfg.Logging.Level = "error"

	original := loadConfig
	loadConfig = func(string) (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = original })
	return cfg
}

func resetFlags() {
	configPath = ""
	debugMode = false
	noColor = true
	quietMode = false
	loginPaste = false
	loginNoBrowser = false
	loginTimeout = callback.DefaultTimeout
	loginForce = false
	whoamiJSON = false
	whoamiClaim = ""
	statusJSON = false
	tokenIDToken = false
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// startLogin leaves a pending PKCE verifier in the session file, as a login
// started by another process would.
func startLogin(t *testing.T) {
	t.Helper()
	env, err := newEnvironment(context.Background(), envOptions{interactive: true})
	require.NoError(t, err)
	defer env.Close()

	loginURL, err := env.manager.OpenLoginUI(context.Background())
	require.NoError(t, err)
	require.Contains(t, loginURL, "code_challenge=")
}

func TestCallbackCommand_CompletesLogin(t *testing.T) {
	provider := newTokenProvider(t)
	useConfig(t, provider, "myapp://callback")

	startLogin(t)

	out, err := runCommand(t, "callback", "myapp://callback?code=abc123")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as Jane Doe <jane@example.com>")
	assert.Equal(t, 1, provider.grantCount("authorization_code"))

	out, err = runCommand(t, "token")
	require.NoError(t, err)
	assert.Equal(t, "access-1\n", out)

	out, err = runCommand(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated")
	assert.Contains(t, out, "Jane Doe <jane@example.com>")
	assert.Contains(t, out, "file")

	out, err = runCommand(t, "status", "--json")
	require.NoError(t, err)
	var status auth.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "authenticated", status.State)
	assert.True(t, status.Authenticated)
	require.NotNil(t, status.User)
	assert.Equal(t, "jane@example.com", status.User.Email)
	assert.True(t, status.HasRefreshToken)
	assert.Greater(t, status.ExpiresInSeconds, int64(3000))
	require.NotNil(t, status.Storage)
	assert.Equal(t, config.BackendFile, status.Storage.Backend)
}

func TestCallbackCommand_Failures(t *testing.T) {
	t.Run("without pending login", func(t *testing.T) {
		provider := newTokenProvider(t)
		useConfig(t, provider, "myapp://callback")

		_, err := runCommand(t, "callback", "myapp://callback?code=abc123")
		var failed *cli.AuthFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, ExitCodeAuthFailed, getExitCode(err))
		assert.Equal(t, 0, provider.grantCount("authorization_code"))
	})

	t.Run("provider error", func(t *testing.T) {
		provider := newTokenProvider(t)
		useConfig(t, provider, "myapp://callback")
		startLogin(t)

		_, err := runCommand(t, "callback", "myapp://callback?error=access_denied&error_description=User+cancelled")
		var failed *cli.AuthFailedError
		require.ErrorAs(t, err, &failed)
		assert.Contains(t, err.Error(), "User cancelled")
	})

	t.Run("foreign redirect", func(t *testing.T) {
		provider := newTokenProvider(t)
		useConfig(t, provider, "myapp://callback")
		startLogin(t)

		_, err := runCommand(t, "callback", "otherapp://callback?code=abc123")
		require.Error(t, err)
		assert.Equal(t, ExitCodeError, getExitCode(err))
	})
}

func TestTokenCommand_NotLoggedIn(t *testing.T) {
	provider := newTokenProvider(t)
	useConfig(t, provider, "myapp://callback")

	_, err := runCommand(t, "token")
	var required *cli.AuthRequiredError
	require.ErrorAs(t, err, &required)
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))
}

func TestWhoamiCommand(t *testing.T) {
	provider := newTokenProvider(t)
	useConfig(t, provider, "myapp://callback")

	_, err := runCommand(t, "whoami")
	var required *cli.AuthRequiredError
	require.ErrorAs(t, err, &required)

	startLogin(t)
	_, err = runCommand(t, "callback", "myapp://callback?code=abc123")
	require.NoError(t, err)

	out, err := runCommand(t, "whoami", "--json")
	require.NoError(t, err)
	var claims map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &claims))
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, "jane@example.com", claims["email"])

	out, err = runCommand(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "jane@example.com")

	out, err = runCommand(t, "whoami", "--claim", "email")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com\n", out)

	_, err = runCommand(t, "whoami", "--claim", "department")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `claim "department" is not set`)
}

func TestRefreshCommand(t *testing.T) {
	provider := newTokenProvider(t)
	useConfig(t, provider, "myapp://callback")

	_, err := runCommand(t, "refresh")
	var required *cli.AuthRequiredError
	require.ErrorAs(t, err, &required)

	startLogin(t)
	_, err = runCommand(t, "callback", "myapp://callback?code=abc123")
	require.NoError(t, err)

	out, err := runCommand(t, "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "Token refreshed")
	assert.Equal(t, 1, provider.grantCount("refresh_token"))

	out, err = runCommand(t, "token")
	require.NoError(t, err)
	assert.Equal(t, "access-2\n", out)

	// The identity survives a refresh without an ID token.
	out, err = runCommand(t, "whoami", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, "jane@example.com")
}

func TestRefreshCommand_Rejected(t *testing.T) {
	provider := newTokenProvider(t)
	useConfig(t, provider, "myapp://callback")

	startLogin(t)
	_, err := runCommand(t, "callback", "myapp://callback?code=abc123")
	require.NoError(t, err)

	provider.mu.Lock()
	provider.refreshStatus = http.StatusBadRequest
	provider.mu.Unlock()

	_, err = runCommand(t, "refresh")
	var failed *cli.AuthFailedError
	require.ErrorAs(t, err, &failed)

	_, err = runCommand(t, "token")
	var required *cli.AuthRequiredError
	require.ErrorAs(t, err, &required)
}

func TestLogoutCommand(t *testing.T) {
	provider := newTokenProvider(t)
	useConfig(t, provider, "myapp://callback")

	out, err := runCommand(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to do")

	startLogin(t)
	_, err = runCommand(t, "callback", "myapp://callback?code=abc123")
	require.NoError(t, err)

	out, err = runCommand(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	out, err = runCommand(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, session.StateLoggedOut.String())
}

func TestLoginCommand_Loopback(t *testing.T) {
	provider := newTokenProvider(t)

	// Reserve a free port for the callback server.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	redirectURI := "http://" + addr + "/callback"
	useConfig(t, provider, redirectURI)

	browserDone := make(chan error, 1)
	go func() {
		browserDone <- completeBrowserLogin(addr, redirectURI+"?code=abc123")
	}()

	out, err := runCommand(t, "login", "--no-browser", "--timeout", "10s")
	require.NoError(t, err)
	require.NoError(t, <-browserDone)

	assert.Contains(t, out, "Open this URL to log in")
	assert.Contains(t, out, provider.URL+"/login?")
	assert.Contains(t, out, "Logged in as Jane Doe <jane@example.com>")

	// A second login is a no-op without --force.
	out, err = runCommand(t, "login", "--no-browser")
	require.NoError(t, err)
	assert.Contains(t, out, "Already logged in")
	assert.Equal(t, 1, provider.grantCount("authorization_code"))
}

// completeBrowserLogin waits for the callback server to accept connections
// and then follows the redirect once, as a browser would.
func completeBrowserLogin(addr, redirectURL string) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("callback server did not start: %w", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Get(redirectURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()

	t.Run("memory", func(t *testing.T) {
		s, path, closer, err := openStorage(config.StorageConfig{Backend: config.BackendMemory})
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.Empty(t, path)
		assert.Nil(t, closer)
	})

	t.Run("file", func(t *testing.T) {
		want := filepath.Join(dir, "nested", "session.json")
		s, path, closer, err := openStorage(config.StorageConfig{Backend: config.BackendFile, Path: want})
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.Equal(t, want, path)
		assert.Nil(t, closer)
	})

	t.Run("sqlite", func(t *testing.T) {
		want := filepath.Join(dir, "session.db")
		s, path, closer, err := openStorage(config.StorageConfig{Backend: config.BackendSQLite, Path: want})
		require.NoError(t, err)
		require.NotNil(t, closer)
		defer func() { _ = closer() }()
		assert.NotNil(t, s)
		assert.Equal(t, want, path)
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, _, err := openStorage(config.StorageConfig{Backend: "redis"})
		require.Error(t, err)
	})
}

func TestProviderLabel(t *testing.T) {
	provider := newTokenProvider(t)
	cfg := useConfig(t, provider, "myapp://callback")

	env, err := newEnvironment(context.Background(), envOptions{interactive: true})
	require.NoError(t, err)
	defer env.Close()
	assert.Equal(t, cfg.Provider.TokenEndpoint, env.providerLabel())

	env.cfg.Provider.Domain = "auth.example.com"
	assert.Equal(t, "auth.example.com", env.providerLabel())
}

func TestLoginURLIsForConfiguredClient(t *testing.T) {
	provider := newTokenProvider(t)
	useConfig(t, provider, "myapp://callback")

	env, err := newEnvironment(context.Background(), envOptions{interactive: true})
	require.NoError(t, err)
	defer env.Close()

	loginURL, err := env.manager.OpenLoginUI(context.Background())
	require.NoError(t, err)

	u, err := url.Parse(loginURL)
	require.NoError(t, err)
	assert.Equal(t, "test-client", u.Query().Get("client_id"))
	assert.Equal(t, "myapp://callback", u.Query().Get("redirect_uri"))
	assert.True(t, strings.HasPrefix(loginURL, provider.URL+"/login?"))
	assert.Equal(t, session.StateAwaitingAuthorization, env.manager.GetState())
}

func TestAgentCommand_StopsOnCancel(t *testing.T) {
	provider := newTokenProvider(t)
	cfg := useConfig(t, provider, "myapp://callback")
	cfg.Logging.Level = "info"
	cfg.Logging.File = filepath.Join(t.TempDir(), "agent.log")
	loadConfig = func(string) (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { logging.InitForCLI(logging.LevelError, io.Discard) })

	resetFlags()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	agentCmd.SetOut(&out)
	agentCmd.SetContext(ctx)
	t.Cleanup(func() { agentCmd.SetOut(nil) })

	require.NoError(t, runAgent(agentCmd, nil))

	data, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "No session stored yet")
	assert.Contains(t, string(data), "Agent stopped")
}

type scriptedReader struct {
	lines []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) Close() error { return nil }

func TestLoginCommand_Paste(t *testing.T) {
	provider := newTokenProvider(t)
	useConfig(t, provider, "myapp://callback")

	reader := &scriptedReader{lines: []string{"", "https://example.com/?code=nope", "myapp://callback?code=abc123"}}
	original := newLineReader
	newLineReader = func(string) (cli.LineReader, error) { return reader, nil }
	t.Cleanup(func() { newLineReader = original })

	out, err := runCommand(t, "login", "--paste", "--no-browser")
	require.NoError(t, err)
	assert.Contains(t, out, "paste the URL")
	assert.Contains(t, out, "does not start with myapp://callback")
	assert.Contains(t, out, "Logged in as Jane Doe <jane@example.com>")
	assert.Equal(t, 1, provider.grantCount("authorization_code"))
}

func TestLoginCommand_PasteCancelled(t *testing.T) {
	provider := newTokenProvider(t)
	useConfig(t, provider, "myapp://callback")

	original := newLineReader
	newLineReader = func(string) (cli.LineReader, error) { return &scriptedReader{}, nil }
	t.Cleanup(func() { newLineReader = original })

	_, err := runCommand(t, "login", "--paste", "--no-browser")
	require.ErrorIs(t, err, cli.ErrCancelled)
	assert.Equal(t, 0, provider.grantCount("authorization_code"))
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/authkeeper/internal/browser"
	"github.com/giantswarm/authkeeper/internal/callback"
	"github.com/giantswarm/authkeeper/internal/cli"
	"github.com/giantswarm/authkeeper/internal/session"
	"github.com/giantswarm/authkeeper/pkg/oauth"
)

var (
	loginPaste     bool
	loginNoBrowser bool
	loginTimeout   time.Duration
	loginForce     bool
)

// newLineReader is replaced in tests.
var newLineReader = cli.NewLineReader

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in through the provider's hosted UI",
	Long: `Starts an Authorization Code login with PKCE.

The hosted login page is opened in the default browser. When the redirect URI
is a loopback address (http://127.0.0.1:<port>/...) a local server receives
the redirect; otherwise paste the URL the browser was redirected to.

Examples:
  authkeeper login
  authkeeper login --no-browser
  authkeeper login --paste --timeout 2m`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginPaste, "paste", false, "Read the redirect URL from the terminal instead of a local callback server")
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the login URL without opening a browser")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", callback.DefaultTimeout, "How long to wait for the redirect")
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "Log in again even when a valid session exists")

	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	opts := envOptions{interactive: true}
	if !loginNoBrowser {
		opts.opener = browser.Opener{}
	}
	env, err := newEnvironment(ctx, opts)
	if err != nil {
		return err
	}
	defer env.Close()

	m := env.manager
	m.Restore(ctx)
	m.Wait()
	if m.IsAuthenticated() && !loginForce {
		printf(out, "Already logged in as %s (expires in %s). Use --force to log in again.\n",
			cli.DisplayName(m.GetUserData()), cli.FormatDuration(m.GetTokenTimeRemaining()))
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	redirectURI := env.cfg.Provider.RedirectURI
	var server *callback.Server
	if !loginPaste && callback.IsLoopback(redirectURI) {
		server, err = callback.NewServer(redirectURI, "authkeeper")
		if err != nil {
			return err
		}
		if err := server.Start(waitCtx); err != nil {
			return err
		}
		defer server.Stop()
	}

	loginURL, err := m.OpenLoginUI(ctx)
	switch {
	case loginURL == "":
		return fmt.Errorf("failed to start login: %w", err)
	case err != nil:
		printf(out, "Could not open a browser: %v\n", err)
		printf(out, "Open this URL to log in:\n\n  %s\n\n", loginURL)
	case loginNoBrowser:
		printf(out, "Open this URL to log in:\n\n  %s\n\n", loginURL)
	default:
		printf(out, "Opened the login page in your browser. If it did not open, visit:\n\n  %s\n\n", loginURL)
	}

	var redirectURL string
	if server != nil {
		progress := cli.StartProgress(cmd.ErrOrStderr(), "Waiting for the browser to complete the login...", quietMode)
		redirectURL, err = server.Wait(waitCtx)
		progress.Stop()
		if errors.Is(err, context.DeadlineExceeded) {
			return &cli.AuthFailedError{Reason: fmt.Errorf("no redirect received within %s", loginTimeout)}
		}
	} else {
		redirectURL, err = readPastedRedirect(out, redirectURI)
	}
	if err != nil {
		return err
	}

	return completeLogin(ctx, cmd, m, redirectURL)
}

// readPastedRedirect prompts until the user pastes a URL for redirectURI.
func readPastedRedirect(out io.Writer, redirectURI string) (string, error) {
	rl, err := newLineReader("Redirect URL> ")
	if err != nil {
		return "", err
	}
	defer func() { _ = rl.Close() }()

	printf(out, "After logging in, paste the URL your browser was redirected to.\n")
	accept := func(line string) bool { return oauth.MatchesRedirect(line, redirectURI) }
	return cli.ReadRedirect(rl, out, accept, fmt.Sprintf("That URL does not start with %s, try again.", redirectURI))
}

// completeLogin hands redirectURL to m, waits for the code exchange and
// reports the outcome.
func completeLogin(ctx context.Context, cmd *cobra.Command, m *session.Manager, redirectURL string) error {
	events := &eventLog{}
	unsubscribe := m.Subscribe(events.handle)
	defer unsubscribe()

	if err := m.HandleRedirect(ctx, redirectURL); err != nil {
		if errors.Is(err, oauth.ErrForeignRedirect) {
			return fmt.Errorf("redirect is not addressed to this application: %w", err)
		}
		return &cli.AuthFailedError{Reason: err}
	}

	progress := cli.StartProgress(cmd.ErrOrStderr(), "Exchanging the authorization code...", quietMode)
	m.Wait()
	progress.Stop()

	for _, ev := range events.since(0) {
		switch ev.Type {
		case session.EventLoginFailed:
			return &cli.AuthFailedError{Reason: errors.New(ev.Reason)}
		case session.EventLoginSuccess:
			printf(cmd.OutOrStdout(), "Logged in as %s\n", cli.DisplayName(ev.Claims))
			return nil
		}
	}
	return &cli.AuthFailedError{Reason: errors.New("login did not complete")}
}

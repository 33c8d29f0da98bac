package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/giantswarm/authkeeper/internal/cli"
	"github.com/giantswarm/authkeeper/internal/session"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the access token now",
	Long: `Exchanges the stored refresh token for a new access token regardless of
how long the current one is still valid. A rejected refresh token ends the
session.`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	disabled := false
	env, err := newEnvironment(ctx, envOptions{interactive: true, autoRefresh: &disabled})
	if err != nil {
		return err
	}
	defer env.Close()

	m := env.manager
	events := &eventLog{}
	unsubscribe := m.Subscribe(events.handle)
	defer unsubscribe()

	progress := cli.StartProgress(cmd.ErrOrStderr(), "Refreshing the access token...", quietMode)
	state := m.Restore(ctx)
	m.Wait()

	// An expired session is refreshed by Restore itself.
	mark := 0
	if state != session.StateRefreshing && m.IsAuthenticated() {
		mark = events.len()
		if !m.ForceRefreshToken(ctx) {
			progress.Stop()
			return errors.New("the session has no refresh token; log in again to get one")
		}
		m.Wait()
	}
	progress.Stop()

	refreshed := false
	for _, ev := range events.since(mark) {
		switch ev.Type {
		case session.EventLogout:
			return &cli.AuthFailedError{Reason: errors.New("refresh token was rejected")}
		case session.EventLoginSuccess:
			refreshed = true
		}
	}

	sess := m.Store().Snapshot()
	switch {
	case sess.IsZero():
		return &cli.AuthRequiredError{}
	case !m.IsAuthenticated() && sess.RefreshToken.IsZero():
		return &cli.AuthExpiredError{}
	case !refreshed || !m.IsAuthenticated():
		return errors.New("token refresh failed; check the log for details and try again")
	}

	printf(cmd.OutOrStdout(), "Token refreshed, expires in %s\n", cli.FormatDuration(m.GetTokenTimeRemaining()))
	return nil
}

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/authkeeper/internal/cli"
	"github.com/giantswarm/authkeeper/internal/config"
	"github.com/giantswarm/authkeeper/internal/session"
	"github.com/giantswarm/authkeeper/pkg/logging"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Keep the session refreshed in the background",
	Long: `Runs until interrupted, refreshing the access token shortly before it
expires. With the file backend, logins and logouts done by other authkeeper
processes are picked up from the session file.

The agent notifies systemd when it is ready, so it can run as a
Type=notify user service.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	enabled := true
	env, err := newEnvironment(ctx, envOptions{autoRefresh: &enabled})
	if err != nil {
		return err
	}
	defer env.Close()
	defer func() { _ = logging.Close() }()

	m := env.manager
	unsubscribe := m.Subscribe(logAgentEvent)
	defer unsubscribe()

	switch m.Restore(ctx) {
	case session.StateLoggedOut:
		logging.Warn("Agent", "No session stored yet; waiting for a login")
	default:
		logging.Info("Agent", "Session restored, expires in %s", cli.FormatDuration(m.GetTokenTimeRemaining()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.NewScheduler(m, env.cfg.Session.TickInterval).Run(gctx)
	})
	if env.cfg.Storage.Backend == config.BackendFile || env.cfg.Storage.Backend == "" {
		g.Go(func() error {
			return session.WatchFile(gctx, env.storagePath, session.DefaultDebounceInterval, func() {
				if err := m.Reload(gctx); err != nil {
					logging.Warn("Agent", "Failed to reload session file: %v", err)
				}
			})
		})
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("Agent", "Failed to notify systemd: %v", err)
	} else if ok {
		logging.Debug("Agent", "Notified systemd that the agent is ready")
	}
	logging.Info("Agent", "Agent started (refresh threshold %s)", cli.FormatDuration(m.RefreshThreshold()))

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	logging.Info("Agent", "Agent stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logAgentEvent(ev session.Event) {
	switch ev.Type {
	case session.EventLoginSuccess:
		logging.Info("Agent", "Session active for %s", cli.DisplayName(ev.Claims))
	case session.EventLoginFailed:
		logging.Warn("Agent", "Login failed: %s", ev.Reason)
	case session.EventLogout:
		logging.Info("Agent", "Session ended")
	}
}

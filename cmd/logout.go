package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Long: `Removes the stored tokens, identity and any pending login from the
configured storage. Running it without a session is not an error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		env, err := newEnvironment(ctx, envOptions{interactive: true})
		if err != nil {
			return err
		}
		defer env.Close()

		m := env.manager
		if err := m.Reload(ctx); err != nil {
			return err
		}
		wasLoggedIn := !m.Store().Snapshot().IsZero()

		m.Logout()

		if wasLoggedIn {
			printf(cmd.OutOrStdout(), "Logged out\n")
		} else {
			printf(cmd.OutOrStdout(), "No session stored, nothing to do\n")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

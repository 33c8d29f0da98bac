package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var callbackCmd = &cobra.Command{
	Use:   "callback <redirect-url>",
	Short: "Complete a login from a redirect URL",
	Long: `Completes a login started with "authkeeper login --paste" or by another
process sharing the same session storage.

Register this command as the handler for a custom-scheme redirect URI
(e.g. myapp://callback) so the operating system passes the redirect to it.

Example:
  authkeeper callback 'myapp://callback?code=abc123'`,
	Args: cobra.ExactArgs(1),
	RunE: runCallback,
}

func init() {
	rootCmd.AddCommand(callbackCmd)
}

func runCallback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := newEnvironment(ctx, envOptions{interactive: true})
	if err != nil {
		return err
	}
	defer env.Close()

	return completeLogin(ctx, cmd, env.manager, args[0])
}

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/authkeeper/internal/cli"
)

var tokenIDToken bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a valid access token",
	Long: `Prints the access token, refreshing it first when it is expired or about to
expire. Useful in scripts:

  curl -H "Authorization: Bearer $(authkeeper token)" https://api.example.com/`,
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
		m.Restore(ctx)
		m.Wait()

		if !m.IsAuthenticated() {
			if m.Store().Snapshot().IsZero() {
				return &cli.AuthRequiredError{}
			}
			return &cli.AuthExpiredError{}
		}

		if tokenIDToken {
			idToken := m.Store().Snapshot().IDToken
			if idToken.IsZero() {
				return errors.New("the session has no ID token")
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), idToken.Reveal())
			return err
		}

		tok, err := m.Token()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
		return err
	},
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenIDToken, "id-token", false, "Print the ID token instead of the access token")
	rootCmd.AddCommand(tokenCmd)
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/authkeeper/internal/cli"
)

var (
	whoamiJSON  bool
	whoamiClaim string
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the identity claims of the logged in user",
	Args:  cobra.NoArgs,
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
		if !m.IsAuthenticated() {
			if m.Store().Snapshot().IsZero() {
				return &cli.AuthRequiredError{}
			}
			return &cli.AuthExpiredError{}
		}

		claims := m.GetUserData()
		if whoamiClaim != "" {
			value := claims.Get(whoamiClaim)
			if value == "" {
				return fmt.Errorf("claim %q is not set for this session", whoamiClaim)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		}
		if whoamiJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(claims.Attributes)
		}
		cli.PrintUserData(cmd.OutOrStdout(), claims, cli.Options{NoColor: noColor})
		return nil
	},
}

func init() {
	whoamiCmd.Flags().BoolVar(&whoamiJSON, "json", false, "Print the claims as JSON")
	whoamiCmd.Flags().StringVar(&whoamiClaim, "claim", "", "Print only the value of this claim (overrides --json)")
	rootCmd.AddCommand(whoamiCmd)
}

package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/giantswarm/authkeeper/internal/cli"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Long: `Shows whether a session is stored, who it belongs to and when the access
token expires. The provider is not contacted.`,
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

		if err := env.manager.Reload(ctx); err != nil {
			return err
		}

		status := cli.StatusFromManager(env.manager)
		status.AutoRefresh = env.cfg.Session.AutoRefresh
		status.Provider = env.providerLabel()
		status.StorageBackend = env.cfg.Storage.Backend
		status.StoragePath = env.storagePath

		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status.Response())
		}
		cli.PrintStatus(cmd.OutOrStdout(), status, cli.Options{NoColor: noColor})
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status as JSON")
	rootCmd.AddCommand(statusCmd)
}

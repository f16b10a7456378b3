package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/county-wage-etl/internal/storage/postgres"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the staging schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Create the run, staging and reject tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pool, err := appInstance.DB()
			if err != nil {
				return err
			}
			if err := postgres.ApplySchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	})
	return cmd
}

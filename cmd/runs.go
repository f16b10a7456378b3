package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/county-wage-etl/internal/census"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded ETL runs",
	}

	var state string
	latest := &cobra.Command{
		Use:   "latest",
		Short: "Print the most recent run of a state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			code, err := census.ResolveState(state)
			if err != nil {
				return err
			}
			runs, err := appInstance.Runs()
			if err != nil {
				return err
			}
			run, err := runs.LatestRun(cmd.Context(), code)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		},
	}
	latest.Flags().StringVar(&state, "state", "", "state FIPS code or abbreviation")
	_ = latest.MarkFlagRequired("state")
	cmd.AddCommand(latest)
	return cmd
}

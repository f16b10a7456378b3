package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/county-wage-etl/internal/census"
)

func newCountiesCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "counties",
		Short: "Print the reference county list of a state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			code, err := census.ResolveState(state)
			if err != nil {
				return err
			}
			counties, err := appInstance.Census().FetchCounties(cmd.Context(), code)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FIPS\tNAME")
			for _, c := range counties {
				fmt.Fprintf(w, "%s\t%s\n", c.FullCode(), c.Name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state FIPS code or abbreviation")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

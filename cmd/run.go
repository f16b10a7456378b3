package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/model"
	"github.com/JakeFAU/county-wage-etl/internal/pipeline"
)

// errRunFailed marks an invocation in which at least one run closed FAILED.
var errRunFailed = errors.New("one or more runs failed")

func newRunCmd() *cobra.Command {
	var states []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ETL for the target states",
		Long: `Runs the pipeline once per state. States default to pipeline.target_states
and may be FIPS codes or USPS abbreviations. SIGINT and SIGTERM stop the
pass; the open run is still closed as FAILED.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if len(states) == 0 {
				states = appInstance.Config().Pipeline.TargetStates
			}
			orch, err := appInstance.Pipeline()
			if err != nil {
				return fmt.Errorf("build pipeline: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			results, runErr := orch.Run(ctx, states)
			printResults(cmd, results)
			if runErr != nil {
				appInstance.Logger().Error("run finished with errors", zap.Error(runErr))
				return runErr
			}
			return failedRuns(results)
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "state FIPS code or abbreviation (repeatable)")
	return cmd
}

func printResults(cmd *cobra.Command, results []pipeline.Result) {
	if len(results) == 0 {
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tSTATUS\tCOUNTIES\tWAGES\tEXPENSES\tREJECTED\tRUN ID")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.StateCode, r.Status, r.Counts.CountiesProcessed,
			r.Counts.WagesLoaded, r.Counts.ExpensesLoaded, r.Counts.Rejected(), r.RunID)
	}
	_ = w.Flush()
}

func failedRuns(results []pipeline.Result) error {
	var failed []string
	for _, r := range results {
		if r.Status == model.RunFailed {
			failed = append(failed, r.StateCode)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", errRunFailed, failed)
	}
	return nil
}

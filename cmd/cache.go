package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/county-wage-etl/internal/cache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the on-disk response caches",
	}
	cmd.AddCommand(
		cacheOpCmd("sweep", "Remove expired and corrupt entries", (*cache.FileCache).Sweep),
		cacheOpCmd("clear", "Remove every entry", (*cache.FileCache).Clear),
	)
	return cmd
}

func cacheOpCmd(use, short string, op func(*cache.FileCache, context.Context) (int, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range appInstance.Caches() {
				n, err := op(c, cmd.Context())
				if err != nil {
					return fmt.Errorf("cache %s %s: %w", use, c.Dir(), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d entries\n", c.Dir(), n)
			}
			return nil
		},
	}
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	"ckg/internal/query"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Re-resolve dangling import edges",
	Long: `Binds unresolved IMPORTS edges to their target files. Tree ingestion
does this automatically; run it by hand after single-file ingests that
referenced files indexed later.`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		bound, err := eng.ResolveImports(ctx)
		if err != nil {
			return err
		}
		return printOutput(&ResolveResultCLI{Bound: bound})
	})
}

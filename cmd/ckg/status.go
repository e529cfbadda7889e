package main

import (
	"context"

	"github.com/spf13/cobra"

	"ckg/internal/query"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show graph and embedding pipeline state",
	Long: `Reports entity and relationship counts, embedding coverage for the
configured model, and whether the indexing backlog is inside its
staleness SLA.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		st, err := eng.Status(ctx)
		if err != nil {
			return err
		}
		return printOutput(st)
	})
}

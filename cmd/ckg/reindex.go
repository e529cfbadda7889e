package main

import (
	"context"

	"github.com/spf13/cobra"

	"ckg/internal/query"
)

var reindexWait bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild all embedding vectors",
	Long: `Marks every stored embedding stale and rebuilds it with the
configured provider and model. Run this after changing the embedding
configuration; search keeps answering from the old vectors until the
rebuild overwrites them.`,
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().BoolVar(&reindexWait, "wait", true,
		"Wait for the rebuild to finish")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		if err := eng.Start(ctx); err != nil {
			return err
		}
		if err := eng.ReindexEmbeddings(ctx); err != nil {
			return err
		}
		if reindexWait {
			if err := eng.WaitEmbeddings(ctx); err != nil {
				return err
			}
		}
		status, err := eng.Status(ctx)
		if err != nil {
			return err
		}
		return printOutput(status)
	})
}

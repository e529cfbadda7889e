package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"ckg/internal/query"
)

var scipCmd = &cobra.Command{
	Use:   "scip [index-path]",
	Short: "Import declaration-level references from a SCIP index",
	Long: `Reads a SCIP protobuf index produced by an external indexer and adds
cross-file REFERENCES edges between declarations. Tree ingestion alone
resolves imports at file grain; a SCIP import refines impact analysis
down to individual functions and methods.

The default index path comes from ingest.scipIndexPath in the config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSCIP,
}

func init() {
	rootCmd.AddCommand(scipCmd)
}

func runSCIP(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		indexPath := eng.Config().Ingest.ScipIndexPath
		if len(args) == 1 {
			indexPath = args[0]
		}
		// The index is read from disk directly, so relative paths anchor
		// at the repo root rather than wherever the command runs.
		if !filepath.IsAbs(indexPath) {
			indexPath = filepath.Join(eng.Config().RepoRoot, indexPath)
		}
		res, err := eng.ImportSCIP(ctx, indexPath)
		if err != nil {
			return err
		}
		return printOutput(res)
	})
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
	"ckg/internal/query"
)

var (
	ingestWait     bool
	ingestRevision string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Index source files into the graph",
	Long: `Parses source files and upserts their entities and relationships.

With no arguments the whole tree under the repo root is scanned,
files missing from disk are pruned from the graph, and import edges
are resolved. With file arguments only those files are re-ingested.

Files that fail to parse are kept as degraded file nodes so their
previous declarations do not silently disappear from queries.

Examples:
  ckg ingest
  ckg ingest --wait=false
  ckg ingest src/api/handlers.py src/api/routes.py`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestWait, "wait", true,
		"Wait for the embedding backlog to drain before exiting")
	ingestCmd.Flags().StringVar(&ingestRevision, "revision", "",
		"Revision to stamp ingested files with (default: detected from .git)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		rev := ingestRevision
		if rev == "" {
			rev = detectRevision(eng.Config().RepoRoot)
		}
		eng.SetRevision(rev)

		// Start the embedding workers up front so vectors land while the
		// ingest is still running.
		if err := eng.Start(ctx); err != nil {
			return err
		}

		if len(args) == 0 {
			res, err := eng.IngestTree(ctx)
			if err != nil {
				return err
			}
			if err := waitForEmbeddings(ctx, eng); err != nil {
				return err
			}
			return printOutput(res)
		}

		merged := &entity.Delta{}
		for _, arg := range args {
			rel, err := repoRelative(eng, arg)
			if err != nil {
				return err
			}
			delta, err := eng.IngestFile(ctx, rel)
			if err != nil && !ckgerrors.HasCode(err, ckgerrors.ParseFailed) {
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %s ingested degraded: %v\n", rel, err)
			}
			if delta != nil {
				merged.Merge(delta)
			}
		}
		if _, err := eng.ResolveImports(ctx); err != nil {
			return err
		}
		if err := waitForEmbeddings(ctx, eng); err != nil {
			return err
		}
		return printOutput(merged)
	})
}

func waitForEmbeddings(ctx context.Context, eng *query.Engine) error {
	if !ingestWait {
		return nil
	}
	return eng.WaitEmbeddings(ctx)
}

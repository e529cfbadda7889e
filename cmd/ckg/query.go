package main

import (
	"context"

	"github.com/spf13/cobra"

	"ckg/internal/query"
	"ckg/internal/store"
)

var (
	queryKinds    string
	queryName     string
	queryPath     string
	queryCategory string
	queryDegraded bool
	queryLimit    int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the graph by structure",
	Long: `Filters entities by kind, name glob, path prefix, category, and
degraded state. Name globs match both the short and the qualified name.

Examples:
  ckg query --kinds function --name 'parse_*'
  ckg query --path src/api/ --kinds class,method
  ckg query --category networking
  ckg query --degraded`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryKinds, "kinds", "",
		"Filter by kinds (comma-separated: file,class,function,method,import,category)")
	queryCmd.Flags().StringVar(&queryName, "name", "", "Name glob (e.g. 'parse_*')")
	queryCmd.Flags().StringVar(&queryPath, "path", "", "Path prefix")
	queryCmd.Flags().StringVar(&queryCategory, "category", "", "Category name")
	queryCmd.Flags().BoolVar(&queryDegraded, "degraded", false,
		"Filter by degraded state (use --degraded=false for healthy only)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 100, "Maximum number of results")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		kinds, err := parseKinds(queryKinds)
		if err != nil {
			return err
		}

		p := store.Pattern{
			Kinds:      kinds,
			NameGlob:   queryName,
			PathPrefix: queryPath,
			Category:   queryCategory,
			Limit:      queryLimit,
		}
		if cmd.Flags().Changed("degraded") {
			p.Degraded = &queryDegraded
		}

		ents, err := eng.StructuralQuery(ctx, p)
		if err != nil {
			return err
		}
		return printOutput(ents)
	})
}

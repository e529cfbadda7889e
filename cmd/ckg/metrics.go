package main

import (
	"context"

	"github.com/spf13/cobra"

	"ckg/internal/query"
)

var metricsCandidates bool

var metricsCmd = &cobra.Command{
	Use:   "metrics [file]",
	Short: "Compute maintainability metrics",
	Long: `Recomputes line count, cyclomatic complexity, maintainability index,
and debt score. With a file argument only that file is measured;
without one the whole tree is, persisted back onto the file nodes.

Degraded files keep their last good metrics and are excluded from
split candidacy.

Examples:
  ckg metrics
  ckg metrics src/api/handlers.py
  ckg metrics --candidates`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMetrics,
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsCandidates, "candidates", false,
		"Show only files over the split thresholds, worst debt first")
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		if len(args) == 1 {
			rel, err := repoRelative(eng, args[0])
			if err != nil {
				return err
			}
			m, err := eng.FileMetrics(ctx, rel)
			if err != nil {
				return err
			}
			return printOutput(m)
		}
		if metricsCandidates {
			list, err := eng.SplitCandidates(ctx)
			if err != nil {
				return err
			}
			return printOutput(list)
		}
		list, err := eng.TreeMetrics(ctx)
		if err != nil {
			return err
		}
		return printOutput(list)
	})
}

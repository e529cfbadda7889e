package main

import (
	"context"

	"github.com/spf13/cobra"

	"ckg/internal/query"
	"ckg/internal/refactor"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Propose and apply file splits",
	Long: `Plans how to break an oversized file into cohesive pieces and applies
a stored plan atomically. A plan pins the file content it was computed
from; if the file changes before apply, the apply is refused and the
plan must be re-proposed.`,
}

var splitProposeCmd = &cobra.Command{
	Use:   "propose <file>",
	Short: "Compute a split plan for one file",
	Long: `Groups the file's declarations by their reference structure into
target files sized within the configured bounds, ordered so a target
only imports from targets before it. The plan is persisted and printed;
nothing on disk changes until apply.`,
	Args: cobra.ExactArgs(1),
	RunE: runSplitPropose,
}

var splitApplyCmd = &cobra.Command{
	Use:   "apply <plan-id>",
	Short: "Apply a stored split plan",
	Long: `Writes the plan's target files, rewrites importers to point at the
new locations, replaces the source file, and re-ingests everything
touched. The write is staged and only moves into place whole; the
source file's checksum must still match the plan.`,
	Args: cobra.ExactArgs(1),
	RunE: runSplitApply,
}

var splitPlansCmd = &cobra.Command{
	Use:   "plans [file]",
	Short: "List stored split plans",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSplitPlans,
}

func init() {
	splitCmd.AddCommand(splitProposeCmd)
	splitCmd.AddCommand(splitApplyCmd)
	splitCmd.AddCommand(splitPlansCmd)
	rootCmd.AddCommand(splitCmd)
}

func runSplitPropose(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		rel, err := repoRelative(eng, args[0])
		if err != nil {
			return err
		}
		plan, err := eng.ProposeSplit(ctx, rel)
		if err != nil {
			return err
		}
		return printOutput(plan)
	})
}

func runSplitApply(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		res, err := eng.ApplyPlan(ctx, args[0])
		if err != nil {
			return err
		}
		return printOutput(res)
	})
}

func runSplitPlans(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		path := ""
		if len(args) == 1 {
			rel, err := repoRelative(eng, args[0])
			if err != nil {
				return err
			}
			path = rel
		}
		records, err := eng.ListPlans(ctx, path)
		if err != nil {
			return err
		}

		summaries := make([]PlanSummaryCLI, 0, len(records))
		for i := range records {
			rec := &records[i]
			targets := 0
			if plan, err := refactor.DecodePlan(rec); err == nil {
				targets = len(plan.Targets)
			}
			summaries = append(summaries, PlanSummaryCLI{
				ID:        rec.ID,
				Path:      rec.Path,
				State:     rec.State,
				Checksum:  shortHash(rec.Checksum),
				CreatedAt: rec.CreatedAt,
				Targets:   targets,
			})
		}
		return printOutput(summaries)
	})
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	ckgerrors "ckg/internal/errors"
	"ckg/internal/impact"
	"ckg/internal/query"
	"ckg/internal/store"
)

var (
	impactDiff      string
	impactMaxDepth  int
	impactSignature bool
	impactDeleted   bool
)

var impactCmd = &cobra.Command{
	Use:   "impact [name-or-id...]",
	Short: "Estimate the blast radius of a change",
	Long: `Walks the reverse reference and import graph from the changed
entities and grades the risk of the change.

Seeds come either from entity names or ids given as arguments, or from
a unified diff via --diff (use '-' for stdin). Diff seeds detect
signature changes and deletions automatically; for argument seeds use
--signature-changed and --deleted.

Examples:
  ckg impact lib.helper
  ckg impact lib.helper --signature-changed
  git diff | ckg impact --diff -
  ckg impact --diff change.patch --max-depth 3`,
	RunE: runImpact,
}

func init() {
	impactCmd.Flags().StringVar(&impactDiff, "diff", "",
		"Unified diff to derive seeds from (path or '-' for stdin)")
	impactCmd.Flags().IntVar(&impactMaxDepth, "max-depth", 0,
		"Bound the walk depth (0 uses the configured default)")
	impactCmd.Flags().BoolVar(&impactSignature, "signature-changed", false,
		"Treat the seeds as signature changes")
	impactCmd.Flags().BoolVar(&impactDeleted, "deleted", false,
		"Treat the seeds as deletions")
	rootCmd.AddCommand(impactCmd)
}

func runImpact(cmd *cobra.Command, args []string) error {
	if impactDiff == "" && len(args) == 0 {
		return ckgerrors.New(ckgerrors.InvalidInput,
			"impact needs entity arguments or --diff", nil)
	}

	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		opts := impact.Options{MaxDepth: impactMaxDepth}

		if impactDiff != "" {
			diffText, err := readDiff(impactDiff)
			if err != nil {
				return err
			}
			report, err := eng.ImpactFromDiff(ctx, diffText, opts)
			if err != nil {
				return err
			}
			return printOutput(report)
		}

		seeds := make([]impact.Seed, 0, len(args))
		for _, arg := range args {
			seed, err := resolveSeed(ctx, eng, arg)
			if err != nil {
				return err
			}
			seed.SignatureChanged = impactSignature
			seed.Deleted = impactDeleted
			seeds = append(seeds, seed)
		}

		report, err := eng.AnalyzeImpact(ctx, seeds, opts)
		if err != nil {
			return err
		}
		return printOutput(report)
	})
}

// resolveSeed turns an argument into a seed, trying it as a stable id
// first and falling back to a name lookup.
func resolveSeed(ctx context.Context, eng *query.Engine, arg string) (impact.Seed, error) {
	if ent, err := eng.Entity(ctx, arg); err == nil {
		return impact.Seed{EntityID: ent.ID, QualifiedName: ent.QualifiedName}, nil
	}

	matches, err := eng.StructuralQuery(ctx, store.Pattern{NameGlob: arg, Limit: 5})
	if err != nil {
		return impact.Seed{}, err
	}
	switch len(matches) {
	case 0:
		return impact.Seed{}, ckgerrors.New(ckgerrors.EntityNotFound,
			fmt.Sprintf("no entity matches %q", arg), nil)
	case 1:
		return impact.Seed{EntityID: matches[0].ID, QualifiedName: matches[0].QualifiedName}, nil
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.QualifiedName)
		}
		return impact.Seed{}, ckgerrors.New(ckgerrors.InvalidInput,
			fmt.Sprintf("%q is ambiguous, matches %v", arg, names), nil)
	}
}

func readDiff(source string) ([]byte, error) {
	if source == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, ckgerrors.NewIOError("read diff from stdin", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, ckgerrors.NewIOError("read diff "+source, err)
	}
	return data, nil
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	"ckg/internal/entity"
	"ckg/internal/query"
	"ckg/internal/store"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Manage architectural categories",
	Long: `Categories group files into architectural areas using glob rules
from the categories file. Assignments live in the graph as BELONGS_TO
edges and structural queries can filter on them.`,
}

var categoriesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-sync category assignments from the categories file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
			result, err := eng.SyncCategories(ctx)
			if err != nil {
				return err
			}
			return printOutput(result)
		})
	},
}

var categoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
			cats, err := eng.StructuralQuery(ctx, store.Pattern{
				Kinds: []entity.Kind{entity.KindCategory},
			})
			if err != nil {
				return err
			}
			return printOutput(cats)
		})
	},
}

func init() {
	categoriesCmd.AddCommand(categoriesSyncCmd)
	categoriesCmd.AddCommand(categoriesListCmd)
	rootCmd.AddCommand(categoriesCmd)
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
	"ckg/internal/query"
)

var (
	searchTop   int
	searchKinds string
)

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search declarations by meaning",
	Long: `Embeds the query text and returns the declarations whose stored
vectors are closest by cosine similarity. Results come from what is
already indexed; declarations still in the embedding backlog are not
seen. Run 'ckg status' to check coverage.

Examples:
  ckg search "parse http headers"
  ckg search "retry with backoff" --top 5 --kinds function,method`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchTop, "top", 10, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchKinds, "kinds", "",
		"Filter by kinds (comma-separated: class,function,method)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		kinds, err := parseKinds(searchKinds)
		if err != nil {
			return err
		}

		// Start loads stored vectors into the in-memory index; without it
		// every search would come back empty.
		if err := eng.Start(ctx); err != nil {
			return err
		}

		if st, err := eng.Status(ctx); err == nil && st.Embedding != nil && st.Embedding.Pending > 0 {
			fmt.Fprintf(os.Stderr, "note: %d declarations not yet embedded, results may be incomplete\n",
				st.Embedding.Pending)
		}

		results, err := eng.SemanticSearch(ctx, args[0], searchTop, kinds...)
		if err != nil {
			return err
		}
		return printOutput(&SearchResponseCLI{Query: args[0], Results: results})
	})
}

// parseKinds converts a comma-separated kind list into entity kinds.
func parseKinds(csv string) ([]entity.Kind, error) {
	if csv == "" {
		return nil, nil
	}
	valid := map[string]entity.Kind{
		string(entity.KindFile):     entity.KindFile,
		string(entity.KindClass):    entity.KindClass,
		string(entity.KindFunction): entity.KindFunction,
		string(entity.KindMethod):   entity.KindMethod,
		string(entity.KindImport):   entity.KindImport,
		string(entity.KindCategory): entity.KindCategory,
	}
	var kinds []entity.Kind
	for _, part := range strings.Split(csv, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		kind, ok := valid[name]
		if !ok {
			return nil, ckgerrors.New(ckgerrors.InvalidInput, fmt.Sprintf("unknown kind %q", name), nil)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

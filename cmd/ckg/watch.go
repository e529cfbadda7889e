package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ckg/internal/query"
	"ckg/internal/watch"
)

var watchInitial bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the repository and keep the graph fresh",
	Long: `Watches the repository for file changes and ingests them as they
happen. Edits are debounced, deletes prune the graph, and category
file changes re-sync assignments. Embeddings stay warm the whole
time, so semantic search against a watched repository is always
up to date.

Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchInitial, "initial", true,
		"Ingest the full tree before watching")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, eng *query.Engine) error {
		logger := cliLogger()

		if rev := detectRevision(eng.Config().RepoRoot); rev != "" {
			eng.SetRevision(rev)
		}
		if err := eng.Start(ctx); err != nil {
			return err
		}

		if watchInitial {
			result, err := eng.IngestTree(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Initial ingest: %d files (%d degraded, %d skipped)\n",
				result.Ingested, result.Degraded, result.Skipped)
		}

		w, err := watch.New(eng, eng.Config(), logger)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}

		fmt.Printf("Watching %s\n", eng.Config().RepoRoot)
		fmt.Println("Press Ctrl+C to stop")

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-shutdown:
			logger.Info("received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
		}

		w.Stop()
		return printOutput(w.Stats())
	})
}

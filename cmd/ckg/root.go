package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ckg/internal/config"
	ckgerrors "ckg/internal/errors"
	"ckg/internal/logging"
	"ckg/internal/paths"
	"ckg/internal/query"
	"ckg/internal/version"
)

var (
	repoFlag     string
	formatFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "ckg",
	Short: "CKG - Code Knowledge Graph",
	Long: `CKG (Code Knowledge Graph) indexes a source tree into a typed entity
graph, keeps semantic embeddings of every declaration, and answers
structural queries, semantic searches, refactoring proposals, and
change impact analyses over it.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("CKG version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "",
		"Repository root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "human",
		"Output format: human, json, or yaml")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info",
		"Log level: debug, info, warn, or error")
}

// cliLogger builds the stderr logger every command shares. Diagnostics go
// to stderr so stdout stays parseable command output.
func cliLogger() *slog.Logger {
	return logging.NewStderr(logging.ParseLevel(logLevelFlag))
}

// resolveRepoRoot returns the absolute repository root from the --repo
// flag or the working directory.
func resolveRepoRoot() (string, error) {
	root := repoFlag
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = cwd
	}
	return filepath.Abs(root)
}

// withEngine opens the engine for the resolved repo root, runs fn, and
// closes the engine afterwards. Most commands run inside this.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *query.Engine) error) error {
	root, err := resolveRepoRoot()
	if err != nil {
		return err
	}
	eng, err := query.Open(root, cliLogger())
	if err != nil {
		return err
	}
	defer eng.Close()
	return fn(cmd.Context(), eng)
}

// repoRelative normalizes a user-supplied file argument to the
// repo-relative slash form the graph stores, so commands accept
// absolute and working-directory-relative paths alike.
func repoRelative(eng *query.Engine, arg string) (string, error) {
	rel, err := paths.Canonical(eng.Config().RepoRoot, arg)
	if err != nil {
		return "", ckgerrors.New(ckgerrors.InvalidInput, "invalid path "+arg, err)
	}
	return rel, nil
}

// detectRevision reads the current commit from .git so ingested files can
// be stamped with it. Best effort: outside a git checkout it returns "".
func detectRevision(repoRoot string) string {
	head, err := os.ReadFile(filepath.Join(repoRoot, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	ref := strings.TrimSpace(string(head))
	if rest, ok := strings.CutPrefix(ref, "ref: "); ok {
		sha, err := os.ReadFile(filepath.Join(repoRoot, ".git", filepath.FromSlash(rest)))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(sha))
	}
	return ref
}

// stateDirExists reports whether the repo has been initialized.
func stateDirExists(repoRoot string) bool {
	_, err := os.Stat(config.StateDir(repoRoot))
	return err == nil
}

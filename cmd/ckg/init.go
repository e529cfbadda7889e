package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ckg/internal/category"
	"ckg/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize CKG in a repository",
	Long: `Creates the .ckg/ state directory with a default configuration and an
example CATEGORIES.toml declaration file. Running it again is a no-op
unless --force is given.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false,
		"Rewrite the configuration even if .ckg already exists")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := resolveRepoRoot()
	if err != nil {
		return err
	}

	if stateDirExists(root) && !initForce {
		// Idempotent: already initialized is success.
		fmt.Println("CKG already initialized.")
		fmt.Printf("Configuration at: %s\n", config.ConfigPath(root))
		fmt.Println("\nRun 'ckg init --force' to rewrite the configuration.")
		return nil
	}

	cfg := config.DefaultConfig()
	cfg.RepoRoot = root
	if err := cfg.Save(root); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	categoriesPath := filepath.Join(root, cfg.Categories.FilePath)
	if _, err := os.Stat(categoriesPath); os.IsNotExist(err) {
		if err := category.CreateExampleCategoriesFile(categoriesPath); err != nil {
			return fmt.Errorf("failed to write %s: %w", cfg.Categories.FilePath, err)
		}
		fmt.Printf("Example category declarations written to: %s\n", categoriesPath)
	}

	fmt.Println("CKG initialized.")
	fmt.Printf("Configuration written to: %s\n", config.ConfigPath(root))
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Run 'ckg ingest' to index the tree")
	fmt.Println("  2. Run 'ckg status' to see graph and embedding state")
	fmt.Println("  3. Run 'ckg search <text>' to search declarations")

	return nil
}

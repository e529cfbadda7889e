// Package category maps indexed files to declared architectural categories.
// Declarations live in CATEGORIES.toml at the repo root; assignments are
// reconciled against the graph after ingestion and survive file re-ingestion.
package category

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"ckg/internal/store"
)

// CategoriesDeclarationFile is the default filename for category declarations
const CategoriesDeclarationFile = "CATEGORIES.toml"

// CategoryDeclaration represents a declared category in CATEGORIES.toml
type CategoryDeclaration struct {
	// Name is the label files are grouped under (e.g., "api", "tests")
	Name string `toml:"name"`

	// Description is a one-line description of the category
	Description string `toml:"description,omitempty"`

	// Paths are the repo-relative paths covered by this category. A bare
	// directory path covers everything beneath it; patterns containing
	// glob metacharacters are matched against the full path and against
	// the file's base name. "." covers the whole repo.
	Paths []string `toml:"paths"`
}

// CategoriesFile represents the root structure of CATEGORIES.toml
type CategoriesFile struct {
	// Version is the schema version
	Version int `toml:"version"`

	// Categories is the list of declared categories
	Categories []CategoryDeclaration `toml:"category"`
}

// ParseCategoriesFile parses a CATEGORIES.toml file from the given path
func ParseCategoriesFile(filePath string) (*CategoriesFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CATEGORIES.toml: %w", err)
	}

	var categoriesFile CategoriesFile
	if err := toml.Unmarshal(data, &categoriesFile); err != nil {
		return nil, fmt.Errorf("failed to parse CATEGORIES.toml: %w", err)
	}

	if categoriesFile.Version < 1 {
		categoriesFile.Version = 1
	}

	if err := validateDeclarations(categoriesFile.Categories); err != nil {
		return nil, err
	}

	return &categoriesFile, nil
}

// LoadDeclaredCategories loads category declarations from CATEGORIES.toml if
// it exists. A missing file is not an error and yields no declarations.
func LoadDeclaredCategories(repoRoot string, declarationFile string) ([]CategoryDeclaration, error) {
	if declarationFile == "" {
		declarationFile = CategoriesDeclarationFile
	}

	filePath := filepath.Join(repoRoot, declarationFile)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, nil
	}

	categoriesFile, err := ParseCategoriesFile(filePath)
	if err != nil {
		return nil, err
	}

	return categoriesFile.Categories, nil
}

func validateDeclarations(declarations []CategoryDeclaration) error {
	seen := make(map[string]bool)
	for _, decl := range declarations {
		if decl.Name == "" {
			return fmt.Errorf("category declaration missing required 'name' field")
		}
		if seen[decl.Name] {
			return fmt.Errorf("duplicate category declaration: %s", decl.Name)
		}
		seen[decl.Name] = true

		if len(decl.Paths) == 0 {
			return fmt.Errorf("category %q declares no paths", decl.Name)
		}
		for _, p := range decl.Paths {
			if p == "" {
				return fmt.Errorf("category %q declares an empty path", decl.Name)
			}
		}
	}
	return nil
}

// Matches reports whether a repo-relative file path falls under this category.
func (d *CategoryDeclaration) Matches(relPath string) bool {
	for _, pattern := range d.Paths {
		if matchPattern(pattern, relPath) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, relPath string) bool {
	pattern = strings.TrimSuffix(path.Clean(filepath.ToSlash(pattern)), "/")
	if pattern == "." {
		return true
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return relPath == pattern || strings.HasPrefix(relPath, pattern+"/")
	}
	if ok, _ := path.Match(pattern, relPath); ok {
		return true
	}
	ok, _ := path.Match(pattern, path.Base(relPath))
	return ok
}

// SyncResult summarizes a category reconciliation pass.
type SyncResult struct {
	Files    int `json:"files"`
	Matched  int `json:"matched"`
	Assigned int `json:"assigned"`
	Pruned   int `json:"pruned"`
}

// Mapper reconciles category links in the graph against declarations.
type Mapper struct {
	store  *store.Store
	logger *slog.Logger
}

// NewMapper creates a Mapper over the store.
func NewMapper(st *store.Store, logger *slog.Logger) *Mapper {
	return &Mapper{store: st, logger: logger}
}

// Sync rebuilds category links for every indexed file from the given
// declarations. A file may fall under several categories; files no pattern
// matches lose their links, and categories no file belongs to afterwards are
// removed from the graph.
func (m *Mapper) Sync(ctx context.Context, declarations []CategoryDeclaration) (*SyncResult, error) {
	files, err := m.store.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Files: len(files)}
	for i := range files {
		relPath := files[i].Path
		if err := m.store.ClearCategories(ctx, relPath); err != nil {
			return nil, err
		}

		matched := false
		for j := range declarations {
			decl := &declarations[j]
			if !decl.Matches(relPath) {
				continue
			}
			if err := m.store.SetCategory(ctx, relPath, decl.Name, decl.Description); err != nil {
				return nil, err
			}
			matched = true
			result.Assigned++
		}
		if matched {
			result.Matched++
		}
	}

	pruned, err := m.store.PruneOrphanCategories(ctx)
	if err != nil {
		return nil, err
	}
	result.Pruned = pruned

	m.logger.Info("categories synced",
		"files", result.Files,
		"matched", result.Matched,
		"assigned", result.Assigned,
		"pruned", result.Pruned)

	return result, nil
}

// WriteCategoriesFile writes a CategoriesFile to the given path
func WriteCategoriesFile(filePath string, categoriesFile *CategoriesFile) error {
	data, err := toml.Marshal(categoriesFile)
	if err != nil {
		return fmt.Errorf("failed to marshal CATEGORIES.toml: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write CATEGORIES.toml: %w", err)
	}

	return nil
}

// CreateExampleCategoriesFile creates an example CATEGORIES.toml file
func CreateExampleCategoriesFile(filePath string) error {
	example := &CategoriesFile{
		Version: 1,
		Categories: []CategoryDeclaration{
			{
				Name:        "api",
				Description: "HTTP handlers and request routing",
				Paths:       []string{"src/api", "src/routes"},
			},
			{
				Name:        "tests",
				Description: "Automated test suites",
				Paths:       []string{"tests", "*_test.py", "*.spec.ts"},
			},
		},
	}

	return WriteCategoriesFile(filePath, example)
}

//go:build !cgo

package ingest

import (
	"context"
	"errors"
)

// ErrNoCGO is returned when source parsing is unavailable due to missing CGO.
var ErrNoCGO = errors.New("source parsing requires CGO (tree-sitter)")

// Parser wraps tree-sitter parsing functionality.
// This is a stub implementation for non-CGO builds.
type Parser struct{}

// NewParser creates a new tree-sitter parser.
// Returns nil when CGO is disabled.
func NewParser() *Parser {
	return nil
}

// Extractor turns source files into structural facts.
// This is a stub implementation for non-CGO builds.
type Extractor struct{}

// NewExtractor creates an extractor.
// Returns nil when CGO is disabled.
func NewExtractor() *Extractor {
	return nil
}

// Extract parses source and walks the syntax tree.
// Stub implementation returns an error; files ingested without CGO are
// recorded as degraded.
func (e *Extractor) Extract(ctx context.Context, path string, source []byte, lang Language) (*FileInfo, error) {
	return nil, ErrNoCGO
}

// IsAvailable returns whether source parsing is available.
// Returns false when CGO is disabled.
func IsAvailable() bool {
	return false
}

package impact

import (
	"context"
	"sort"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
)

// skipPrefixes are diff paths that never map to indexed source.
var skipPrefixes = []string{
	"vendor/",
	"node_modules/",
	".git/",
	"dist/",
	"build/",
}

// FromDiff maps a unified diff onto the stored graph and returns the seeds
// for an impact walk. Every touched file seeds its file node; hunks are
// then matched against declaration line ranges in the pre-change file, so
// the diff must be taken against the revision the graph was ingested from.
// A hunk that touches a declaration's first line is treated as a signature
// change; a deleted file seeds every declaration it contained as deleted.
// Files unknown to the graph are skipped, as are newly added files, which
// nothing can depend on yet.
func (a *Analyzer) FromDiff(ctx context.Context, diffText []byte) ([]Seed, error) {
	fileDiffs, err := godiff.ParseMultiFileDiff(diffText)
	if err != nil {
		return nil, ckgerrors.New(ckgerrors.InvalidInput, "failed to parse diff", err)
	}

	byID := make(map[string]*Seed)
	for _, fd := range fileDiffs {
		oldPath := cleanDiffPath(fd.OrigName)
		newPath := cleanDiffPath(fd.NewName)
		if oldPath == "" {
			// Newly added file: it has no graph presence and no dependents.
			continue
		}
		if skipDiffPath(oldPath) {
			continue
		}

		known, err := a.store.HasFile(ctx, oldPath)
		if err != nil {
			return nil, err
		}
		if !known {
			a.logger.Debug("diff touches unindexed file", "path", oldPath)
			continue
		}

		if newPath == "" {
			if err := a.seedDeletedFile(ctx, oldPath, byID); err != nil {
				return nil, err
			}
			continue
		}
		if err := a.seedModifiedFile(ctx, fd, oldPath, byID); err != nil {
			return nil, err
		}
	}

	seeds := make([]Seed, 0, len(byID))
	for _, s := range byID {
		seeds = append(seeds, *s)
	}
	sort.Slice(seeds, func(i, j int) bool {
		if seeds[i].QualifiedName != seeds[j].QualifiedName {
			return seeds[i].QualifiedName < seeds[j].QualifiedName
		}
		return seeds[i].EntityID < seeds[j].EntityID
	})
	return seeds, nil
}

func (a *Analyzer) seedDeletedFile(ctx context.Context, relPath string, byID map[string]*Seed) error {
	addSeed(byID, Seed{
		EntityID:         entity.FileID(relPath),
		QualifiedName:    relPath,
		SignatureChanged: true,
		Deleted:          true,
	})
	decls, err := a.store.ListFileEntities(ctx, relPath, entity.KindClass, entity.KindFunction, entity.KindMethod)
	if err != nil {
		return err
	}
	for _, decl := range decls {
		addSeed(byID, Seed{
			EntityID:         decl.ID,
			QualifiedName:    decl.QualifiedName,
			SignatureChanged: true,
			Deleted:          true,
		})
	}
	return nil
}

func (a *Analyzer) seedModifiedFile(ctx context.Context, fd *godiff.FileDiff, relPath string, byID map[string]*Seed) error {
	// The file entity itself changed, so importers surface through their
	// IMPORTS edge even when cross-file reference edges were never indexed.
	addSeed(byID, Seed{
		EntityID:      entity.FileID(relPath),
		QualifiedName: relPath,
	})

	decls, err := a.store.ListFileEntities(ctx, relPath, entity.KindClass, entity.KindFunction, entity.KindMethod)
	if err != nil {
		return err
	}

	for _, hunk := range fd.Hunks {
		start := int(hunk.OrigStartLine)
		end := start + int(hunk.OrigLines) - 1
		if end < start {
			// A pure insertion still lands at a position in the old file.
			end = start
		}

		for _, decl := range decls {
			if decl.StartLine > end || decl.EndLine < start {
				continue
			}
			addSeed(byID, Seed{
				EntityID:         decl.ID,
				QualifiedName:    decl.QualifiedName,
				SignatureChanged: start <= decl.StartLine && decl.StartLine <= end,
			})
		}
	}
	return nil
}

func addSeed(byID map[string]*Seed, s Seed) {
	if existing, ok := byID[s.EntityID]; ok {
		existing.SignatureChanged = existing.SignatureChanged || s.SignatureChanged
		existing.Deleted = existing.Deleted || s.Deleted
		return
	}
	copied := s
	byID[s.EntityID] = &copied
}

// cleanDiffPath strips the a/ or b/ prefix git puts on diff paths and
// normalizes /dev/null to empty.
func cleanDiffPath(p string) string {
	if p == "" || p == "/dev/null" {
		return ""
	}
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		return p[2:]
	}
	return p
}

func skipDiffPath(p string) bool {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

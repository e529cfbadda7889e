// Package ingest parses source files with tree-sitter and writes their
// structural facts into the knowledge graph: declarations, containment,
// imports, and references. Files that fail to parse are recorded as
// degraded file nodes so the rest of the system can see and skip them.
package ingest

import (
	"context"
	stderrors "errors"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"ckg/internal/config"
	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
	"ckg/internal/store"
)

const lockStripes = 64

// Ingestor coordinates parsing and graph writes. Writes to the same path
// are serialized; distinct paths proceed in parallel.
type Ingestor struct {
	store     *store.Store
	extractor *Extractor
	cfg       *config.Config
	logger    *slog.Logger

	// Revision is stamped onto every file node this ingestor writes.
	Revision string

	locks [lockStripes]sync.Mutex
}

// New creates an ingestor over the given store.
func New(st *store.Store, cfg *config.Config, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:     st,
		extractor: NewExtractor(),
		cfg:       cfg,
		logger:    logger,
	}
}

func (in *Ingestor) lockFor(p string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(p))
	return &in.locks[h.Sum32()%lockStripes]
}

// IngestFile reads a file from the repo and ingests it. relPath is
// slash-separated and relative to the repo root.
func (in *Ingestor) IngestFile(ctx context.Context, relPath string) (*entity.Delta, error) {
	abs := filepath.Join(in.cfg.RepoRoot, filepath.FromSlash(relPath))
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, ckgerrors.NewIOError("read "+relPath, err)
	}
	return in.IngestSource(ctx, relPath, content)
}

// IngestSource ingests file content that is already in memory. On parse
// failure the file is upserted as a degraded node and a PARSE_FAILED
// error is returned alongside the delta.
func (in *Ingestor) IngestSource(ctx context.Context, relPath string, content []byte) (*entity.Delta, error) {
	lang, ok := LanguageFromPath(relPath)
	if !ok {
		return nil, ckgerrors.New(ckgerrors.InvalidInput,
			"unsupported file type: "+relPath, nil)
	}

	mu := in.lockFor(relPath)
	mu.Lock()
	defer mu.Unlock()

	info, err := in.extractor.Extract(ctx, relPath, content, lang)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		info = &FileInfo{
			Path:       relPath,
			Language:   lang,
			LineCount:  CountLines(content),
			Degraded:   true,
			ParseError: err.Error(),
		}
	}

	up := buildUpsert(relPath, content, in.Revision, info)
	delta, err := in.store.ApplyFileUpsert(ctx, up)
	if err != nil {
		return nil, err
	}

	if info.Degraded {
		in.logger.Warn("ingested degraded file", "path", relPath, "error", info.ParseError)
		return delta, ckgerrors.NewParseError(relPath, stderrors.New(info.ParseError))
	}

	in.logger.Debug("ingested file",
		"path", relPath,
		"language", lang,
		"declarations", len(info.Declarations),
		"imports", len(info.Imports))
	return delta, nil
}

// DeleteFile removes a file and its declarations from the graph.
func (in *Ingestor) DeleteFile(ctx context.Context, relPath string) (*entity.Delta, error) {
	mu := in.lockFor(relPath)
	mu.Lock()
	defer mu.Unlock()
	return in.store.DeleteFile(ctx, relPath)
}

// LockPath takes the ingestion lock for a path so a caller can hold off
// concurrent ingestion while it mutates the file. The returned func
// releases the lock. Callers must not ingest the same path before
// releasing.
func (in *Ingestor) LockPath(relPath string) func() {
	mu := in.lockFor(relPath)
	mu.Lock()
	return mu.Unlock
}

// TreeResult summarizes an IngestTree run.
type TreeResult struct {
	Scanned      int `json:"scanned"`
	Ingested     int `json:"ingested"`
	Degraded     int `json:"degraded"`
	Skipped      int `json:"skipped"`
	Pruned       int `json:"pruned"`
	ImportsBound int `json:"importsBound"`

	Delta *entity.Delta `json:"delta,omitempty"`
}

// IngestTree walks the repo root, ingests every supported file, deletes
// graph entries for files that no longer exist on disk, and finishes
// with an import resolution pass.
func (in *Ingestor) IngestTree(ctx context.Context) (*TreeResult, error) {
	paths, skipped, err := in.collectPaths()
	if err != nil {
		return nil, err
	}

	res := &TreeResult{
		Scanned: len(paths) + skipped,
		Skipped: skipped,
		Delta:   &entity.Delta{},
	}
	var mu sync.Mutex

	workers := in.cfg.Ingest.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			delta, err := in.IngestFile(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ckgerrors.HasCode(err, ckgerrors.ParseFailed) {
					res.Degraded++
					res.Delta.Merge(delta)
					return nil
				}
				return err
			}
			res.Ingested++
			res.Delta.Merge(delta)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pruned, err := in.pruneMissing(ctx, paths, res.Delta)
	if err != nil {
		return nil, err
	}
	res.Pruned = pruned

	bound, err := in.ResolveImports(ctx)
	if err != nil {
		return nil, err
	}
	res.ImportsBound = bound

	in.logger.Info("tree ingest complete",
		"scanned", res.Scanned,
		"ingested", res.Ingested,
		"degraded", res.Degraded,
		"skipped", res.Skipped,
		"pruned", res.Pruned,
		"importsBound", res.ImportsBound)
	return res, nil
}

// collectPaths walks the repo root applying ignore rules and the size
// cap. Dot-directories are always skipped.
func (in *Ingestor) collectPaths() ([]string, int, error) {
	var paths []string
	skipped := 0
	root := in.cfg.RepoRoot

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p == root {
				return nil
			}
			if strings.HasPrefix(name, ".") || in.ignored(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || in.ignored(name) {
			return nil
		}
		if _, ok := LanguageFromPath(name); !ok {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if max := in.cfg.Ingest.MaxFileSizeBytes; max > 0 && fi.Size() > int64(max) {
			skipped++
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, 0, ckgerrors.NewIOError("walk "+root, err)
	}
	return paths, skipped, nil
}

func (in *Ingestor) ignored(name string) bool {
	return IgnoredName(in.cfg.Ingest.Ignore, name)
}

// pruneMissing deletes graph entries for files no longer on disk.
func (in *Ingestor) pruneMissing(ctx context.Context, walked []string, delta *entity.Delta) (int, error) {
	onDisk := make(map[string]bool, len(walked))
	for _, p := range walked {
		onDisk[p] = true
	}
	known, err := in.store.ListFiles(ctx)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, f := range known {
		if onDisk[f.Path] {
			continue
		}
		d, err := in.DeleteFile(ctx, f.Path)
		if err != nil {
			return pruned, err
		}
		delta.Merge(d)
		pruned++
	}
	return pruned, nil
}

// ResolveImports binds unresolved IMPORTS edges: to the indexed file when
// the module maps to a repo path, otherwise to an external import target
// node. Returns the number bound to repo files.
func (in *Ingestor) ResolveImports(ctx context.Context) (int, error) {
	unresolved, err := in.store.UnresolvedImports(ctx)
	if err != nil {
		return 0, err
	}
	bound := 0
	for _, u := range unresolved {
		if err := ctx.Err(); err != nil {
			return bound, err
		}
		target := ""
		for _, cand := range importCandidates(u.ToName, u.ImporterPath, Language(u.ImporterLanguage)) {
			ok, err := in.store.HasFile(ctx, cand)
			if err != nil {
				return bound, err
			}
			if ok {
				target = entity.FileID(cand)
				bound++
				break
			}
		}
		if target == "" {
			id, err := in.store.EnsureImportTarget(ctx, u.ToName)
			if err != nil {
				return bound, err
			}
			target = id
		}
		if err := in.store.BindImport(ctx, u.RelID, target); err != nil {
			return bound, err
		}
	}
	return bound, nil
}

// importCandidates maps a module string to the repo paths that could hold
// it. Go imports are module-path-rooted and resolve via SCIP instead.
func importCandidates(module, importerPath string, lang Language) []string {
	switch lang {
	case LangPython:
		if strings.HasPrefix(module, ".") {
			rest := strings.TrimLeft(module, ".")
			dots := len(module) - len(rest)
			base := path.Dir(importerPath)
			for i := 1; i < dots; i++ {
				base = path.Dir(base)
			}
			if rest == "" {
				return nil
			}
			rel := strings.ReplaceAll(rest, ".", "/")
			return []string{
				path.Join(base, rel+".py"),
				path.Join(base, rel, "__init__.py"),
			}
		}
		rel := strings.ReplaceAll(module, ".", "/")
		return []string{rel + ".py", path.Join(rel, "__init__.py")}

	case LangJavaScript, LangTypeScript, LangTSX:
		if !strings.HasPrefix(module, ".") {
			return nil
		}
		base := path.Join(path.Dir(importerPath), module)
		var out []string
		if path.Ext(base) != "" {
			out = append(out, base)
		}
		for _, ext := range []string{".ts", ".tsx", ".js", ".jsx"} {
			out = append(out, base+ext)
		}
		for _, ext := range []string{".ts", ".js"} {
			out = append(out, path.Join(base, "index"+ext))
		}
		return out
	}
	return nil
}

// buildUpsert converts extraction results into the transactional payload
// the store applies.
func buildUpsert(relPath string, content []byte, revision string, info *FileInfo) *store.FileUpsert {
	up := &store.FileUpsert{
		Path:       relPath,
		Content:    content,
		Revision:   revision,
		Language:   string(info.Language),
		Doc:        info.Doc,
		LineCount:  info.LineCount,
		Degraded:   info.Degraded,
		ParseError: info.ParseError,
	}
	if info.Degraded {
		return up
	}

	fileID := entity.FileID(relPath)

	// Short names resolve to top-level declarations only; methods are
	// reachable through their qualified name.
	localID := make(map[string]string, len(info.Declarations)*2)
	classID := make(map[string]string)
	entities := make([]entity.Entity, 0, len(info.Declarations))
	complexity := 0
	for i := range info.Declarations {
		d := &info.Declarations[i]
		id := entity.StableID(d.Kind, relPath, d.QualifiedName)
		entities = append(entities, entity.Entity{
			ID:            id,
			Kind:          d.Kind,
			Path:          relPath,
			Name:          d.Name,
			QualifiedName: d.QualifiedName,
			Signature:     d.Signature,
			Doc:           d.Doc,
			StartLine:     d.StartLine,
			EndLine:       d.EndLine,
			Complexity:    d.Complexity,
			Language:      string(info.Language),
		})
		localID[d.QualifiedName] = id
		if d.Kind != entity.KindMethod {
			if _, ok := localID[d.Name]; !ok {
				localID[d.Name] = id
			}
		}
		if d.Kind == entity.KindClass {
			classID[d.Name] = id
			complexity += d.Complexity
		}
		if d.Kind == entity.KindFunction {
			complexity += d.Complexity
		}
	}
	up.Complexity = complexity
	up.Entities = entities

	var rels []entity.Relationship
	addRel := func(fromID string, kind entity.RelKind, toID, toName string, resolved bool) {
		rels = append(rels, entity.Relationship{
			ID:       entity.RelationshipID(fromID, kind, toID, toName),
			FromID:   fromID,
			ToID:     toID,
			ToName:   toName,
			Kind:     kind,
			Resolved: resolved,
		})
	}

	// Containment forest: file -> top-level declarations, class -> methods
	for i := range info.Declarations {
		d := &info.Declarations[i]
		id := localID[d.QualifiedName]
		parent := fileID
		if d.Kind == entity.KindMethod {
			if cid, ok := classID[d.ClassName]; ok {
				parent = cid
			}
		}
		addRel(parent, entity.RelContains, id, d.QualifiedName, true)
	}

	// One IMPORTS edge per module; bound names feed mention attribution
	importedModule := make(map[string]bool)
	boundModule := make(map[string]string)
	for _, imp := range info.Imports {
		if !importedModule[imp.Module] {
			importedModule[imp.Module] = true
			addRel(fileID, entity.RelImports, "", imp.Module, false)
		}
		for _, n := range imp.Names {
			if n == "" || n == "*" || n == "_" || n == "." {
				continue
			}
			if _, ok := boundModule[n]; !ok {
				boundModule[n] = imp.Module
			}
		}
	}

	// References: local names resolve immediately, imported names keep
	// the binding module for the split closure and later resolution
	for _, m := range info.Mentions {
		fromID := fileID
		if m.From != "" {
			id, ok := localID[m.From]
			if !ok {
				continue
			}
			fromID = id
		}
		if toID, ok := localID[m.Name]; ok {
			if toID != fromID {
				addRel(fromID, entity.RelReferences, toID, "", true)
			}
		} else if module, ok := boundModule[m.Name]; ok {
			addRel(fromID, entity.RelReferences, "", entity.MentionRef(module, m.Name), false)
		}
	}

	seen := make(map[string]bool, len(rels))
	deduped := rels[:0]
	for _, r := range rels {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		deduped = append(deduped, r)
	}
	up.Relationships = deduped
	return up
}

// Package query provides the engine facade every external surface talks
// to. It wires the store, ingestor, embedding indexer, refactoring
// analyzer, impact analyzer, and category mapper together and owns the
// coordination between them; callers render results, the engine never
// formats anything.
package query

import (
	"context"
	"log/slog"
	"time"

	"ckg/internal/category"
	"ckg/internal/config"
	"ckg/internal/embed"
	"ckg/internal/entity"
	"ckg/internal/impact"
	"ckg/internal/ingest"
	"ckg/internal/refactor"
	"ckg/internal/store"
	"ckg/internal/version"
)

// Engine coordinates every subsystem behind one facade.
type Engine struct {
	db       *store.DB
	store    *store.Store
	ingestor *ingest.Ingestor
	indexer  *embed.Indexer
	refactor *refactor.Analyzer
	impact   *impact.Analyzer
	mapper   *category.Mapper
	cfg      *config.Config
	logger   *slog.Logger

	ownsDB bool
}

// NewEngine wires an engine over an open database. The caller keeps
// ownership of the database handle.
func NewEngine(db *store.DB, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	st := store.New(db, logger)
	ing := ingest.New(st, cfg, logger)

	embedder, err := embed.NewEmbedderFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	indexer, err := embed.NewIndexer(st, embedder, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		db:       db,
		store:    st,
		ingestor: ing,
		indexer:  indexer,
		refactor: refactor.New(st, ing, cfg, logger),
		impact:   impact.New(st, cfg, logger),
		mapper:   category.NewMapper(st, logger),
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
	}, nil
}

// Open loads the repo's config, opens its database, and wires an engine
// that owns both. The companion to Close for CLI entry points.
func Open(repoRoot string, logger *slog.Logger) (*Engine, error) {
	cfg, err := config.LoadConfig(repoRoot)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(repoRoot, logger)
	if err != nil {
		return nil, err
	}
	e, err := NewEngine(db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	e.ownsDB = true
	return e, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// SetRevision stamps a source revision onto everything ingested from now
// on.
func (e *Engine) SetRevision(rev string) {
	e.ingestor.Revision = rev
}

// Start launches the background embedding pipeline. Every query works
// without it; only vector freshness depends on it.
func (e *Engine) Start(ctx context.Context) error {
	return e.indexer.Start(ctx)
}

// Close stops background work and, when the engine opened the database
// itself, closes it.
func (e *Engine) Close() error {
	var lastErr error
	if err := e.indexer.Stop(5 * time.Second); err != nil {
		lastErr = err
	}
	if e.ownsDB {
		if err := e.db.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// afterMutation keeps the vector index in step with a graph change:
// deleted entities leave the index immediately, touched ones are offered
// to the embedding queue. The offer may be dropped under load; the
// pending sweep recovers, because re-ingestion cascades stored vectors
// away with the entities they belonged to.
func (e *Engine) afterMutation(delta *entity.Delta) {
	if delta == nil {
		return
	}
	if ids := delta.DeletedEntities; len(ids) > 0 {
		e.indexer.Forget(ids...)
	}
	if ids := delta.TouchedEntities(); len(ids) > 0 {
		e.indexer.Enqueue(ids...)
	}
}

// IngestFile parses one file into the graph. A parse failure still
// records the file as degraded and returns the delta alongside the error.
func (e *Engine) IngestFile(ctx context.Context, relPath string) (*entity.Delta, error) {
	delta, err := e.ingestor.IngestFile(ctx, relPath)
	e.afterMutation(delta)
	return delta, err
}

// IngestSource ingests content already held in memory.
func (e *Engine) IngestSource(ctx context.Context, relPath string, content []byte) (*entity.Delta, error) {
	delta, err := e.ingestor.IngestSource(ctx, relPath, content)
	e.afterMutation(delta)
	return delta, err
}

// DeleteFile removes a file from the graph. Edges pointing at its
// declarations flip to unresolved so impact analysis can surface the
// breakage.
func (e *Engine) DeleteFile(ctx context.Context, relPath string) (*entity.Delta, error) {
	delta, err := e.ingestor.DeleteFile(ctx, relPath)
	e.afterMutation(delta)
	return delta, err
}

// IngestTree ingests the whole repo, prunes entries for deleted files,
// resolves imports, and reconciles categories.
func (e *Engine) IngestTree(ctx context.Context) (*ingest.TreeResult, error) {
	res, err := e.ingestor.IngestTree(ctx)
	if err != nil {
		return nil, err
	}
	e.afterMutation(res.Delta)
	if _, err := e.SyncCategories(ctx); err != nil {
		e.logger.Warn("category sync failed", "error", err)
	}
	return res, nil
}

// ImportSCIP folds a SCIP index's cross-file references into the graph.
func (e *Engine) ImportSCIP(ctx context.Context, indexPath string) (*ingest.SCIPResult, error) {
	return e.ingestor.ImportSCIP(ctx, indexPath)
}

// ResolveImports binds unresolved IMPORTS edges to indexed files or
// external import targets.
func (e *Engine) ResolveImports(ctx context.Context) (int, error) {
	return e.ingestor.ResolveImports(ctx)
}

// SyncCategories reconciles BELONGS_TO links against CATEGORIES.toml. A
// missing declarations file clears any links left from an earlier one.
func (e *Engine) SyncCategories(ctx context.Context) (*category.SyncResult, error) {
	if !e.cfg.Categories.Enabled {
		return &category.SyncResult{}, nil
	}
	decls, err := category.LoadDeclaredCategories(e.cfg.RepoRoot, e.cfg.Categories.FilePath)
	if err != nil {
		return nil, err
	}
	return e.mapper.Sync(ctx, decls)
}

// SearchResult pairs a declaration with its semantic similarity score.
type SearchResult struct {
	Entity entity.Entity `json:"entity"`
	Score  float64       `json:"score"`
}

// SemanticSearch embeds the query and returns the closest declarations,
// hydrated from the graph. Results reflect whatever the index holds right
// now; indexing lag never blocks a search.
func (e *Engine) SemanticSearch(ctx context.Context, queryText string, topK int, kinds ...entity.Kind) ([]SearchResult, error) {
	hits, err := e.indexer.Search(ctx, queryText, topK, kinds...)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for n, h := range hits {
		ids[n] = h.EntityID
	}
	ents, err := e.store.EntitiesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		ent, ok := ents[h.EntityID]
		if !ok {
			continue
		}
		out = append(out, SearchResult{Entity: ent, Score: h.Score})
	}
	return out, nil
}

// StructuralQuery runs a pattern query over the graph.
func (e *Engine) StructuralQuery(ctx context.Context, p store.Pattern) ([]entity.Entity, error) {
	return e.store.Query(ctx, p)
}

// Entity fetches one entity by its stable id.
func (e *Engine) Entity(ctx context.Context, id string) (*entity.Entity, error) {
	return e.store.GetEntity(ctx, id)
}

// ReindexEmbeddings marks every stored vector stale so the pipeline
// rebuilds them, typically after a provider or model change.
func (e *Engine) ReindexEmbeddings(ctx context.Context) error {
	return e.indexer.Reindex(ctx)
}

// FileMetrics recomputes and persists maintainability metrics for one
// file.
func (e *Engine) FileMetrics(ctx context.Context, relPath string) (*refactor.Metrics, error) {
	return e.refactor.ComputeMetrics(ctx, relPath)
}

// TreeMetrics recomputes metrics for every indexed file.
func (e *Engine) TreeMetrics(ctx context.Context) ([]refactor.Metrics, error) {
	return e.refactor.ComputeAll(ctx)
}

// SplitCandidates returns the files worth splitting, worst debt first.
func (e *Engine) SplitCandidates(ctx context.Context) ([]refactor.Metrics, error) {
	return e.refactor.Candidates(ctx)
}

// ProposeSplit computes and persists a split plan for one file.
func (e *Engine) ProposeSplit(ctx context.Context, relPath string) (*refactor.SplitPlan, error) {
	return e.refactor.ProposeSplit(ctx, relPath)
}

// ApplyPlan executes a proposed split and re-synchronizes categories,
// since the replacement files carry new paths.
func (e *Engine) ApplyPlan(ctx context.Context, planID string) (*refactor.ApplyResult, error) {
	res, err := e.refactor.ApplyPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	e.afterMutation(res.Delta)
	if _, err := e.SyncCategories(ctx); err != nil {
		e.logger.Warn("category sync failed after split", "plan", planID, "error", err)
	}
	return res, nil
}

// ListPlans returns stored split plans, optionally filtered by path.
func (e *Engine) ListPlans(ctx context.Context, relPath string) ([]store.PlanRecord, error) {
	return e.store.ListPlans(ctx, relPath)
}

// AnalyzeImpact walks the reverse dependency graph from the given seeds.
func (e *Engine) AnalyzeImpact(ctx context.Context, seeds []impact.Seed, opts impact.Options) (*impact.Report, error) {
	return e.impact.Analyze(ctx, seeds, opts)
}

// ImpactFromDiff turns a unified diff into change seeds and analyzes
// them.
func (e *Engine) ImpactFromDiff(ctx context.Context, diffText []byte, opts impact.Options) (*impact.Report, error) {
	seeds, err := e.impact.FromDiff(ctx, diffText)
	if err != nil {
		return nil, err
	}
	return e.impact.Analyze(ctx, seeds, opts)
}

// Status reports graph counts and embedding pipeline health.
type Status struct {
	Version   string        `json:"version"`
	RepoRoot  string        `json:"repoRoot"`
	Graph     *store.Stats  `json:"graph"`
	Embedding *embed.Status `json:"embedding"`
}

func (e *Engine) Status(ctx context.Context) (*Status, error) {
	emb, err := e.indexer.Status(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := e.store.GatherStats(ctx, emb.Model)
	if err != nil {
		return nil, err
	}
	return &Status{
		Version:   version.Version,
		RepoRoot:  e.cfg.RepoRoot,
		Graph:     stats,
		Embedding: emb,
	}, nil
}

// WaitEmbeddings blocks until the embedding backlog drains or the context
// ends. Useful after a bulk ingest when the caller wants search warm
// before returning.
func (e *Engine) WaitEmbeddings(ctx context.Context) error {
	for {
		st, err := e.indexer.Status(ctx)
		if err != nil {
			return err
		}
		if st.Pending == 0 && st.QueueLength == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

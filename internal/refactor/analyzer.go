// Package refactor scores files for maintainability and plans mechanical
// file splits along the internal reference graph. A split plan is computed
// against a content checksum and applied atomically through a staging
// directory, so a plan computed before an edit can never clobber the edit.
package refactor

import (
	"context"
	"log/slog"
	"sort"

	"ckg/internal/config"
	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
	"ckg/internal/ingest"
	"ckg/internal/store"
)

// Analyzer computes file metrics and split plans over the knowledge graph.
type Analyzer struct {
	store     *store.Store
	ingestor  *ingest.Ingestor
	extractor *ingest.Extractor
	cfg       *config.Config
	logger    *slog.Logger
}

// New creates an analyzer. The ingestor re-ingests split targets during
// apply and serializes apply against concurrent ingestion of the same path.
func New(st *store.Store, ing *ingest.Ingestor, cfg *config.Config, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		store:     st,
		ingestor:  ing,
		extractor: ingest.NewExtractor(),
		cfg:       cfg,
		logger:    logger,
	}
}

func (a *Analyzer) metricsFor(file *entity.Entity) *Metrics {
	m := &Metrics{
		Path:       file.Path,
		Language:   file.Language,
		LineCount:  file.LineCount,
		Complexity: file.Complexity,
		Degraded:   file.Degraded,
	}
	if file.Degraded {
		return m
	}
	m.Maintainability = maintainabilityIndex(file.LineCount, file.Complexity)
	m.DebtScore = debtScore(file.LineCount, file.Complexity, m.Maintainability,
		a.cfg.Analysis.SplitLineThreshold, a.cfg.Analysis.ComplexityCeiling)
	m.SplitCandidate = file.LineCount > a.cfg.Analysis.SplitLineThreshold ||
		m.DebtScore > a.cfg.Analysis.SplitDebtThreshold
	return m
}

// ComputeMetrics recomputes and persists metrics for one file. Degraded
// files are reported but never scored or persisted. A re-ingestion racing
// the write is retried once against the new version; a second race
// surfaces as VERSION_CONFLICT.
func (a *Analyzer) ComputeMetrics(ctx context.Context, relPath string) (*Metrics, error) {
	for attempt := 0; ; attempt++ {
		file, err := a.store.GetFileByPath(ctx, relPath)
		if err != nil {
			return nil, err
		}
		m := a.metricsFor(file)
		if file.Degraded {
			return m, nil
		}
		err = a.store.UpdateFileMetrics(ctx, relPath,
			file.Complexity, m.Maintainability, m.DebtScore, file.Version)
		if err == nil {
			return m, nil
		}
		if attempt > 0 || !ckgerrors.IsConflict(err) {
			return nil, err
		}
	}
}

// ComputeAll recomputes metrics for every indexed file, ordered by path.
func (a *Analyzer) ComputeAll(ctx context.Context) ([]Metrics, error) {
	files, err := a.store.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Metrics, 0, len(files))
	for i := range files {
		m, err := a.ComputeMetrics(ctx, files[i].Path)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// Candidates returns the files whose size or debt crosses the split
// thresholds, worst debt first.
func (a *Analyzer) Candidates(ctx context.Context) ([]Metrics, error) {
	all, err := a.ComputeAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []Metrics
	for _, m := range all {
		if m.SplitCandidate {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DebtScore != out[j].DebtScore {
			return out[i].DebtScore > out[j].DebtScore
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

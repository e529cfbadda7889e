// Package impact walks the knowledge graph backwards from a set of changed
// declarations to find everything that depends on them, directly or
// transitively. Each impacted entity is annotated with its shortest distance
// from the change, and the whole blast radius is summarized as a risk level
// that accounts for breadth, signature changes, and test coverage.
package impact

import (
	"context"
	"log/slog"
	"sort"

	"ckg/internal/config"
	"ckg/internal/entity"
	"ckg/internal/store"
)

// Seed describes one changed entity at the root of an impact walk. EntityID
// points at a live graph node; QualifiedName additionally matches the
// dangling references left behind when the entity has already been deleted
// from the graph. At least one of the two must be set.
type Seed struct {
	EntityID         string `json:"entityId,omitempty"`
	QualifiedName    string `json:"qualifiedName,omitempty"`
	SignatureChanged bool   `json:"signatureChanged,omitempty"`
	Deleted          bool   `json:"deleted,omitempty"`
}

// Item is one entity reached by the impact walk.
type Item struct {
	EntityID      string      `json:"entityId"`
	QualifiedName string      `json:"qualifiedName"`
	Kind          entity.Kind `json:"kind"`
	Path          string      `json:"path"`
	// Distance is the shortest number of reference or import hops from any
	// seed. Direct dependents are at distance 1.
	Distance int  `json:"distance"`
	HasTests bool `json:"hasTests"`
}

// Report is the result of an impact walk.
type Report struct {
	Seeds         []Seed       `json:"seeds"`
	Impacted      []Item       `json:"impacted"`
	ImpactedFiles int          `json:"impactedFiles"`
	UntestedFiles int          `json:"untestedFiles"`
	Risk          RiskLevel    `json:"risk"`
	Score         float64      `json:"score"`
	Factors       []RiskFactor `json:"factors"`
	Explanation   string       `json:"explanation"`
	// Truncated is set when the depth bound cut the walk off while the
	// frontier was still growing.
	Truncated bool `json:"truncated,omitempty"`
}

// Options tunes a single impact walk.
type Options struct {
	// MaxDepth bounds the walk; 0 falls back to the configured default,
	// which itself may be 0 for unbounded.
	MaxDepth int `json:"maxDepth"`
}

// Analyzer computes blast radii over the stored graph.
type Analyzer struct {
	store  *store.Store
	cfg    *config.Config
	logger *slog.Logger
}

func New(st *store.Store, cfg *config.Config, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		store:  st,
		cfg:    cfg,
		logger: logger.With("component", "impact"),
	}
}

// Analyze walks REFERENCES and IMPORTS edges backwards from the seeds,
// breadth first, and reports every dependent entity together with a risk
// assessment. The visited set makes the walk terminate on cyclic graphs,
// and the context is checked once per frontier so long walks can be
// cancelled.
func (a *Analyzer) Analyze(ctx context.Context, seeds []Seed, opts Options) (*Report, error) {
	maxDepth := opts.MaxDepth
	if maxDepth == 0 {
		maxDepth = a.cfg.Analysis.ImpactMaxDepth
	}

	visited := make(map[string]int)
	var frontier []string
	for _, s := range seeds {
		if s.EntityID == "" {
			continue
		}
		if _, ok := visited[s.EntityID]; ok {
			continue
		}
		visited[s.EntityID] = 0
		frontier = append(frontier, s.EntityID)
	}

	// Dependents of a deleted entity no longer have a resolved edge to
	// follow. They are found by the dangling name their references now
	// carry, and enter the walk at distance 1.
	var orphaned []string
	for _, s := range seeds {
		if !s.Deleted || s.QualifiedName == "" {
			continue
		}
		rels, err := a.store.BrokenReferences(ctx, s.QualifiedName)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			orphaned = append(orphaned, rel.FromID)
		}
	}

	truncated := false
	for depth := 1; len(frontier) > 0 || len(orphaned) > 0; depth++ {
		if maxDepth > 0 && depth > maxDepth {
			truncated = true
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next []string
		if len(frontier) > 0 {
			rels, err := a.store.IncomingForMany(ctx, frontier, entity.RelReferences, entity.RelImports)
			if err != nil {
				return nil, err
			}
			for _, rel := range rels {
				if _, ok := visited[rel.FromID]; ok {
					continue
				}
				visited[rel.FromID] = depth
				next = append(next, rel.FromID)
			}
		}
		for _, id := range orphaned {
			if _, ok := visited[id]; ok {
				continue
			}
			visited[id] = depth
			next = append(next, id)
		}
		orphaned = nil
		frontier = next
	}

	items, err := a.hydrate(ctx, visited)
	if err != nil {
		return nil, err
	}

	report := buildReport(seeds, items)
	report.Truncated = truncated
	a.logger.Debug("impact analysis complete",
		"seeds", len(seeds),
		"impacted", len(report.Impacted),
		"files", report.ImpactedFiles,
		"risk", report.Risk,
		"truncated", truncated)
	return report, nil
}

// hydrate turns the visited id set into sorted items, dropping the seeds
// themselves and anything that lives in a degraded file.
func (a *Analyzer) hydrate(ctx context.Context, visited map[string]int) ([]Item, error) {
	var ids []string
	for id, dist := range visited {
		if dist > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	ents, err := a.store.EntitiesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]struct{})
	for _, ent := range ents {
		if ent.Path != "" {
			paths[ent.Path] = struct{}{}
		}
	}
	var fileIDs []string
	for path := range paths {
		fileIDs = append(fileIDs, entity.FileID(path))
	}
	fileEnts, err := a.store.EntitiesByIDs(ctx, fileIDs)
	if err != nil {
		return nil, err
	}
	degraded := make(map[string]bool)
	for _, fe := range fileEnts {
		if fe.Degraded {
			degraded[fe.Path] = true
		}
	}

	tested := make(map[string]bool)
	for path := range paths {
		if degraded[path] {
			continue
		}
		ok, err := a.hasTestCoverage(ctx, path)
		if err != nil {
			return nil, err
		}
		tested[path] = ok
	}

	var items []Item
	for _, id := range ids {
		ent, ok := ents[id]
		if !ok {
			continue
		}
		if degraded[ent.Path] {
			continue
		}
		name := ent.QualifiedName
		if name == "" {
			name = ent.Path
		}
		items = append(items, Item{
			EntityID:      ent.ID,
			QualifiedName: name,
			Kind:          ent.Kind,
			Path:          ent.Path,
			Distance:      visited[id],
			HasTests:      tested[ent.Path],
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Distance != items[j].Distance {
			return items[i].Distance < items[j].Distance
		}
		if items[i].Path != items[j].Path {
			return items[i].Path < items[j].Path
		}
		return items[i].QualifiedName < items[j].QualifiedName
	})
	return items, nil
}

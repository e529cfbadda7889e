package refactor

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"ckg/internal/config"
	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
	"ckg/internal/ingest"
	"ckg/internal/store"
)

// ApplyResult summarizes an applied split.
type ApplyResult struct {
	PlanID  string        `json:"planId"`
	Path    string        `json:"path"`
	Written []string      `json:"written"`
	Rewired int           `json:"rewired"`
	Delta   *entity.Delta `json:"delta"`
}

// importRewire records where one importer's IMPORTS edge must point after
// the split.
type importRewire struct {
	relID      string
	importerID string
	primary    string
	extras     []string
}

// ApplyPlan executes a proposed split: verify the source still matches the
// plan checksum, render and stage every target, swap the files in, and
// rebuild the graph. The source path stays locked against ingestion until
// the original file node is gone; targets are written to the staging
// directory first so a failure part way leaves the working tree untouched.
// A checksum mismatch aborts the plan and returns PLAN_STALE.
func (a *Analyzer) ApplyPlan(ctx context.Context, planID string) (*ApplyResult, error) {
	rec, err := a.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if rec.State != store.PlanStateProposed {
		return nil, ckgerrors.New(ckgerrors.InvalidInput,
			fmt.Sprintf("plan %s is %s, not proposed", planID, rec.State), nil)
	}
	plan, err := DecodePlan(rec)
	if err != nil {
		return nil, err
	}
	if !ingest.IsAvailable() {
		return nil, ckgerrors.NewParseError(plan.Path,
			stderrors.New("tree-sitter parsers unavailable in this build"))
	}

	unlock := a.ingestor.LockPath(plan.Path)
	locked := true
	release := func() {
		if locked {
			locked = false
			unlock()
		}
	}
	defer release()

	abs := filepath.Join(a.cfg.RepoRoot, filepath.FromSlash(plan.Path))
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, ckgerrors.NewIOError("read "+plan.Path, err)
	}
	if store.ContentHash(content) != plan.Checksum {
		if err := a.store.SetPlanState(ctx, planID, store.PlanStateAborted); err != nil {
			return nil, err
		}
		return nil, ckgerrors.NewStalePlanError(planID, plan.Path)
	}

	info, err := a.extractor.Extract(ctx, plan.Path, content, ingest.Language(plan.Language))
	if err != nil {
		return nil, err
	}
	if info.Degraded {
		return nil, ckgerrors.NewParseError(plan.Path, stderrors.New(info.ParseError))
	}
	if leftovers := findLeftoverLines(info, content); len(leftovers) > 0 {
		if err := a.store.SetPlanState(ctx, planID, store.PlanStateAborted); err != nil {
			return nil, err
		}
		return nil, ckgerrors.NewSplitConflictError(plan.Path,
			"module-level statements would be orphaned by the split", leftovers)
	}

	// Importer edges must be captured while the original file node still
	// exists; deleting it flips them to unresolved.
	rewires, err := a.captureRewires(ctx, plan)
	if err != nil {
		return nil, err
	}

	rendered, err := renderTargets(plan, info, content)
	if err != nil {
		a.logger.Error("plan no longer matches extracted declarations",
			"plan", planID, "error", err)
		if err := a.store.SetPlanState(ctx, planID, store.PlanStateAborted); err != nil {
			return nil, err
		}
		return nil, ckgerrors.NewStalePlanError(planID, plan.Path)
	}
	lang := ingest.Language(plan.Language)
	for _, t := range plan.Targets {
		tinfo, err := a.extractor.Extract(ctx, t.Path, rendered[t.Path], lang)
		if err != nil {
			return nil, err
		}
		if tinfo.Degraded {
			if err := a.store.SetPlanState(ctx, planID, store.PlanStateAborted); err != nil {
				return nil, err
			}
			return nil, ckgerrors.NewSplitConflictError(plan.Path,
				"rendered target does not parse: "+tinfo.ParseError, []string{t.Path})
		}
	}

	stageDir := config.StageDir(a.cfg.RepoRoot, plan.ID)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return nil, ckgerrors.NewIOError("create staging directory", err)
	}
	defer os.RemoveAll(stageDir)

	staged := make(map[string]string, len(plan.Targets))
	for _, t := range plan.Targets {
		stagePath := filepath.Join(stageDir, path.Base(t.Path))
		if err := writeFileSync(stagePath, rendered[t.Path]); err != nil {
			return nil, ckgerrors.NewIOError("stage "+t.Path, err)
		}
		staged[t.Path] = stagePath
	}

	for _, t := range plan.Targets {
		targetAbs := filepath.Join(a.cfg.RepoRoot, filepath.FromSlash(t.Path))
		if _, err := os.Stat(targetAbs); err == nil {
			if err := a.store.SetPlanState(ctx, planID, store.PlanStateAborted); err != nil {
				return nil, err
			}
			return nil, ckgerrors.NewSplitConflictError(plan.Path,
				"target path already exists", []string{t.Path})
		}
	}

	var moved []string
	for _, t := range plan.Targets {
		targetAbs := filepath.Join(a.cfg.RepoRoot, filepath.FromSlash(t.Path))
		if err := os.Rename(staged[t.Path], targetAbs); err != nil {
			for _, m := range moved {
				os.Remove(m)
			}
			return nil, ckgerrors.NewIOError("place "+t.Path, err)
		}
		moved = append(moved, targetAbs)
	}

	if err := os.Remove(abs); err != nil {
		return nil, ckgerrors.NewIOError("remove "+plan.Path, err)
	}

	// store.DeleteFile, not Ingestor.DeleteFile: the path lock is held.
	delta, err := a.store.DeleteFile(ctx, plan.Path)
	if err != nil {
		return nil, err
	}
	if err := a.store.SetPlanState(ctx, planID, store.PlanStateApplied); err != nil {
		return nil, err
	}
	release()

	written := make([]string, 0, len(plan.Targets))
	for _, t := range plan.Targets {
		d, err := a.ingestor.IngestFile(ctx, t.Path)
		if err != nil {
			return nil, err
		}
		delta.Merge(d)
		written = append(written, t.Path)
	}

	rewired, err := a.applyRewires(ctx, plan, rewires)
	if err != nil {
		return nil, err
	}
	// Bind the sibling imports the rendered targets introduced.
	if _, err := a.ingestor.ResolveImports(ctx); err != nil {
		return nil, err
	}

	a.logger.Info("split plan applied",
		"path", plan.Path,
		"plan", planID,
		"targets", len(written),
		"rewired", rewired)
	return &ApplyResult{
		PlanID:  planID,
		Path:    plan.Path,
		Written: written,
		Rewired: rewired,
		Delta:   delta,
	}, nil
}

// captureRewires snapshots, before the original file node disappears, how
// every importer's IMPORTS edge maps onto the split targets: the first
// target the importer actually references becomes the retarget, and
// references into further targets get additional edges. An importer with
// no resolved references keeps a single edge to the first target.
func (a *Analyzer) captureRewires(ctx context.Context, plan *SplitPlan) ([]importRewire, error) {
	fileID := entity.FileID(plan.Path)
	importRels, err := a.store.Incoming(ctx, fileID, entity.RelImports)
	if err != nil {
		return nil, err
	}
	if len(importRels) == 0 {
		return nil, nil
	}

	targetOfDecl := make(map[string]int)
	for ti := range plan.Targets {
		for _, d := range plan.Targets[ti].Declarations {
			targetOfDecl[entity.StableID(d.Kind, plan.Path, d.QualifiedName)] = ti
		}
	}

	extRefs, err := a.store.ExternalReferencesTo(ctx, plan.Path)
	if err != nil {
		return nil, err
	}
	fromIDs := make([]string, 0, len(extRefs))
	for _, r := range extRefs {
		fromIDs = append(fromIDs, r.FromID)
	}
	sources, err := a.store.EntitiesByIDs(ctx, fromIDs)
	if err != nil {
		return nil, err
	}

	// Importer path -> targets its declarations actually reference.
	wants := make(map[string]map[int]bool)
	for _, r := range extRefs {
		src, ok := sources[r.FromID]
		if !ok {
			continue
		}
		ti, ok := targetOfDecl[r.ToID]
		if !ok {
			continue
		}
		if wants[src.Path] == nil {
			wants[src.Path] = make(map[int]bool)
		}
		wants[src.Path][ti] = true
	}

	importerIDs := make([]string, 0, len(importRels))
	for _, r := range importRels {
		importerIDs = append(importerIDs, r.FromID)
	}
	importers, err := a.store.EntitiesByIDs(ctx, importerIDs)
	if err != nil {
		return nil, err
	}

	var out []importRewire
	for _, r := range importRels {
		imp, ok := importers[r.FromID]
		if !ok {
			continue
		}
		idxs := make([]int, 0, len(wants[imp.Path]))
		for ti := range wants[imp.Path] {
			idxs = append(idxs, ti)
		}
		sort.Ints(idxs)

		rw := importRewire{relID: r.ID, importerID: r.FromID}
		if len(idxs) == 0 {
			rw.primary = plan.Targets[0].Path
		} else {
			rw.primary = plan.Targets[idxs[0]].Path
			for _, ti := range idxs[1:] {
				rw.extras = append(rw.extras, plan.Targets[ti].Path)
			}
		}
		out = append(out, rw)
	}
	return out, nil
}

// applyRewires points importer edges at the split targets and returns how
// many edges were touched.
func (a *Analyzer) applyRewires(ctx context.Context, plan *SplitPlan, rewires []importRewire) (int, error) {
	lang := ingest.Language(plan.Language)
	count := 0
	var added []entity.Relationship
	for _, rw := range rewires {
		mod := moduleNameFor(lang, rw.primary)
		if err := a.store.RetargetImport(ctx, rw.relID, entity.FileID(rw.primary), mod); err != nil {
			return count, err
		}
		count++
		for _, extra := range rw.extras {
			extraMod := moduleNameFor(lang, extra)
			toID := entity.FileID(extra)
			added = append(added, entity.Relationship{
				ID:       entity.RelationshipID(rw.importerID, entity.RelImports, toID, extraMod),
				FromID:   rw.importerID,
				ToID:     toID,
				ToName:   extraMod,
				Kind:     entity.RelImports,
				Resolved: true,
			})
		}
	}
	if err := a.store.AddRelationships(ctx, added); err != nil {
		return count, err
	}
	return count + len(added), nil
}

// moduleNameFor derives the module string importers record for a split
// target: dotted for python, extension-less path otherwise.
func moduleNameFor(lang ingest.Language, targetPath string) string {
	trimmed := strings.TrimSuffix(targetPath, path.Ext(targetPath))
	if lang == ingest.LangPython {
		return strings.ReplaceAll(trimmed, "/", ".")
	}
	return trimmed
}

func writeFileSync(name string, data []byte) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

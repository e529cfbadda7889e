package refactor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
	"ckg/internal/graph"
	"ckg/internal/ingest"
	"ckg/internal/store"
)

// PlanDeclaration pins one declaration a split moves. Apply re-locates it
// in fresh content by qualified name and kind, never by byte offset.
type PlanDeclaration struct {
	QualifiedName string      `json:"qualifiedName"`
	Kind          entity.Kind `json:"kind"`
	StartLine     int         `json:"startLine"`
	EndLine       int         `json:"endLine"`
}

// LocalImport is a dependency of one split target on a sibling target.
type LocalImport struct {
	TargetPath string   `json:"targetPath"`
	Names      []string `json:"names"`
}

// PlanTarget is one output file of a split. Modules are the external
// modules its declarations use; LocalImports point at sibling targets.
type PlanTarget struct {
	Path         string            `json:"path"`
	Declarations []PlanDeclaration `json:"declarations"`
	Modules      []string          `json:"modules,omitempty"`
	LocalImports []LocalImport     `json:"localImports,omitempty"`
	Lines        int               `json:"lines"`
}

// SplitPlan partitions one oversized file into cohesive targets. Targets
// are ordered so a target only ever imports from targets before it.
// Checksum pins the content the plan was computed from; apply refuses to
// run against anything else.
type SplitPlan struct {
	ID        string       `json:"id"`
	Path      string       `json:"path"`
	Language  string       `json:"language"`
	Checksum  string       `json:"checksum"`
	CreatedAt time.Time    `json:"createdAt"`
	Targets   []PlanTarget `json:"targets"`
}

// DecodePlan unmarshals a stored plan body.
func DecodePlan(rec *store.PlanRecord) (*SplitPlan, error) {
	var p SplitPlan
	if err := json.Unmarshal(rec.PlanJSON, &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", rec.ID, err)
	}
	return &p, nil
}

// topNode is a declaration that moves as one piece: a top-level function,
// or a class together with its methods.
type topNode struct {
	id      string
	decl    entity.Entity
	members []entity.Entity
	lines   int
}

// splitGroup is a set of dependency units destined for one target file.
type splitGroup struct {
	units []int
	lines int
}

// ProposeSplit computes and persists a split plan for one file. It returns
// NO_SPLIT_NEEDED when the file is below thresholds or forms a single
// cohesive cluster, and SPLIT_CONFLICT when no clean partition exists.
func (a *Analyzer) ProposeSplit(ctx context.Context, relPath string) (*SplitPlan, error) {
	unlock := a.ingestor.LockPath(relPath)
	defer unlock()

	file, err := a.store.GetFileByPath(ctx, relPath)
	if err != nil {
		return nil, err
	}
	if file.Degraded {
		return nil, ckgerrors.NewParseError(relPath, stderrors.New(file.ParseError))
	}
	if isEntryPoint(relPath) {
		return nil, ckgerrors.NewSplitConflictError(relPath,
			"package entry points cannot be split", nil)
	}
	if m := a.metricsFor(file); !m.SplitCandidate {
		return nil, ckgerrors.New(ckgerrors.NoSplitNeeded,
			fmt.Sprintf("%s is below the split thresholds", relPath), nil)
	}

	decls, err := a.store.ListFileEntities(ctx, relPath,
		entity.KindClass, entity.KindFunction, entity.KindMethod)
	if err != nil {
		return nil, err
	}
	if len(decls) < 2 {
		return nil, ckgerrors.New(ckgerrors.NoSplitNeeded,
			fmt.Sprintf("%s has fewer than two movable declarations", relPath), nil)
	}

	tops, liftOf := liftMethods(decls)
	topByID := make(map[string]*topNode, len(tops))
	for _, t := range tops {
		topByID[t.id] = t
	}

	// Internal reference graph over lifted tops. A reference between a
	// class and its own methods disappears into the lift.
	refs, err := a.store.RefsWithin(ctx, relPath)
	if err != nil {
		return nil, err
	}
	g := graph.New()
	for _, t := range tops {
		g.AddNode(t.id)
	}
	for _, r := range refs {
		from, okFrom := liftOf[r.FromID]
		to, okTo := liftOf[r.ToID]
		if !okFrom || !okTo || from == to {
			continue
		}
		g.AddEdge(from, to)
	}

	// Mutually recursive declarations form one unit and are never
	// separated. The condensation over units is acyclic.
	units := g.SCC()
	unitOf := make(map[string]int, len(tops))
	unitLines := make([]int, len(units))
	for i, u := range units {
		for _, id := range u {
			unitOf[id] = i
			unitLines[i] += topByID[id].lines
		}
	}
	ug := graph.New()
	for i := range units {
		ug.AddNode(strconv.Itoa(i))
	}
	for _, id := range g.Nodes() {
		for _, to := range g.OutNeighbors(id) {
			uf, ut := unitOf[id], unitOf[to]
			if uf != ut {
				ug.AddEdge(strconv.Itoa(uf), strconv.Itoa(ut))
			}
		}
	}

	var groups []*splitGroup
	for _, comp := range ug.WeakComponents() {
		sg := &splitGroup{}
		for _, key := range comp {
			i, _ := strconv.Atoi(key)
			sg.units = append(sg.units, i)
			sg.lines += unitLines[i]
		}
		groups = append(groups, sg)
	}
	groups = mergeSmallGroups(groups, a.cfg.Analysis.GroupMinLines, a.cfg.Analysis.GroupMaxLines)
	groups = chunkOversized(groups, ug, unitLines, a.cfg.Analysis.GroupMaxLines)

	if len(groups) < 2 {
		return nil, ckgerrors.New(ckgerrors.NoSplitNeeded,
			fmt.Sprintf("%s is one cohesive cluster; no clean split exists", relPath), nil)
	}

	groupOf := make(map[int]int)
	for gi, sg := range groups {
		for _, u := range sg.units {
			groupOf[u] = gi
		}
	}
	gg := graph.New()
	for gi := range groups {
		gg.AddNode(strconv.Itoa(gi))
	}
	for _, id := range g.Nodes() {
		for _, to := range g.OutNeighbors(id) {
			gf, gt := groupOf[unitOf[id]], groupOf[unitOf[to]]
			if gf != gt {
				gg.AddEdge(strconv.Itoa(gf), strconv.Itoa(gt))
			}
		}
	}
	order, err := gg.TopoOrder()
	if err != nil {
		var names []string
		for _, key := range gg.FindCycle() {
			gi, _ := strconv.Atoi(key)
			names = append(names, groupDeclNames(groups[gi], units, topByID)...)
		}
		return nil, ckgerrors.NewSplitConflictError(relPath,
			"target grouping contains a dependency cycle", names)
	}
	// Callees first: every import a target needs points at a target
	// emitted before it.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	names, err := a.targetNames(ctx, relPath, len(order))
	if err != nil {
		return nil, err
	}

	// External module needs per top, from the unresolved mention closure.
	mentions, err := a.store.UnresolvedMentionsIn(ctx, relPath)
	if err != nil {
		return nil, err
	}
	fileID := entity.FileID(relPath)
	moduleNeeds := make(map[string]map[string]bool)
	for _, m := range mentions {
		if m.FromID == fileID {
			continue
		}
		top, ok := liftOf[m.FromID]
		if !ok {
			continue
		}
		module, _, ok := entity.SplitMentionRef(m.ToName)
		if !ok {
			continue
		}
		if moduleNeeds[top] == nil {
			moduleNeeds[top] = make(map[string]bool)
		}
		moduleNeeds[top][module] = true
	}

	targets := make([]PlanTarget, len(order))
	targetOfGroup := make(map[int]int, len(order))
	for oi, key := range order {
		gi, _ := strconv.Atoi(key)
		targetOfGroup[gi] = oi
	}
	for oi, key := range order {
		gi, _ := strconv.Atoi(key)
		sg := groups[gi]
		t := PlanTarget{Path: names[oi], Lines: sg.lines}

		modSet := make(map[string]bool)
		var members []entity.Entity
		for _, u := range sg.units {
			for _, topID := range units[u] {
				members = append(members, topByID[topID].members...)
				for mod := range moduleNeeds[topID] {
					modSet[mod] = true
				}
			}
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].StartLine != members[j].StartLine {
				return members[i].StartLine < members[j].StartLine
			}
			return members[i].QualifiedName < members[j].QualifiedName
		})
		for _, d := range members {
			t.Declarations = append(t.Declarations, PlanDeclaration{
				QualifiedName: d.QualifiedName,
				Kind:          d.Kind,
				StartLine:     d.StartLine,
				EndLine:       d.EndLine,
			})
		}
		t.Modules = sortedKeys(modSet)
		targets[oi] = t
	}

	// Sibling needs from top edges that cross targets.
	localNeeds := make(map[int]map[int]map[string]bool)
	for _, id := range g.Nodes() {
		for _, to := range g.OutNeighbors(id) {
			fromT := targetOfGroup[groupOf[unitOf[id]]]
			toT := targetOfGroup[groupOf[unitOf[to]]]
			if fromT == toT {
				continue
			}
			if localNeeds[fromT] == nil {
				localNeeds[fromT] = make(map[int]map[string]bool)
			}
			if localNeeds[fromT][toT] == nil {
				localNeeds[fromT][toT] = make(map[string]bool)
			}
			localNeeds[fromT][toT][topByID[to].decl.Name] = true
		}
	}
	for fromT, dests := range localNeeds {
		toIdxs := make([]int, 0, len(dests))
		for toT := range dests {
			toIdxs = append(toIdxs, toT)
		}
		sort.Ints(toIdxs)
		for _, toT := range toIdxs {
			targets[fromT].LocalImports = append(targets[fromT].LocalImports, LocalImport{
				TargetPath: targets[toT].Path,
				Names:      sortedKeys(dests[toT]),
			})
		}
	}

	if err := a.validatePlan(ctx, relPath, file, decls, liftOf, targets); err != nil {
		return nil, err
	}

	plan := &SplitPlan{
		ID:        uuid.New().String(),
		Path:      relPath,
		Language:  file.Language,
		Checksum:  file.ContentHash,
		CreatedAt: time.Now().UTC(),
		Targets:   targets,
	}
	body, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	err = a.store.SavePlan(ctx, &store.PlanRecord{
		ID:        plan.ID,
		Path:      plan.Path,
		Checksum:  plan.Checksum,
		CreatedAt: plan.CreatedAt,
		PlanJSON:  body,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("split plan proposed",
		"path", relPath,
		"plan", plan.ID,
		"targets", len(targets))
	return plan, nil
}

// validatePlan checks the invariants apply relies on: every declaration
// lands in exactly one target, every externally referenced declaration
// keeps a home, and no module-level statement would be orphaned.
func (a *Analyzer) validatePlan(ctx context.Context, relPath string, file *entity.Entity,
	decls []entity.Entity, liftOf map[string]string, targets []PlanTarget) error {

	assigned := make(map[string]int)
	for _, t := range targets {
		for _, d := range t.Declarations {
			assigned[string(d.Kind)+"\x00"+d.QualifiedName]++
		}
	}
	var unbalanced []string
	for _, d := range decls {
		if assigned[string(d.Kind)+"\x00"+d.QualifiedName] != 1 {
			unbalanced = append(unbalanced, d.QualifiedName)
		}
	}
	if len(unbalanced) > 0 {
		return ckgerrors.NewSplitConflictError(relPath,
			"declarations not assigned to exactly one target", unbalanced)
	}

	extRefs, err := a.store.ExternalReferencesTo(ctx, relPath)
	if err != nil {
		return err
	}
	var orphanIDs []string
	for _, r := range extRefs {
		if _, ok := liftOf[r.ToID]; !ok {
			orphanIDs = append(orphanIDs, r.ToID)
		}
	}
	if len(orphanIDs) > 0 {
		ents, err := a.store.EntitiesByIDs(ctx, orphanIDs)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(orphanIDs))
		for _, id := range orphanIDs {
			if e, ok := ents[id]; ok {
				names = append(names, e.QualifiedName)
			} else {
				names = append(names, id)
			}
		}
		return ckgerrors.NewSplitConflictError(relPath,
			"externally referenced declarations have no target", names)
	}

	if ingest.IsAvailable() {
		content, err := a.store.GetFileContent(ctx, relPath)
		if err != nil {
			return err
		}
		info, err := a.extractor.Extract(ctx, relPath, content, ingest.Language(file.Language))
		if err != nil {
			return err
		}
		if leftovers := findLeftoverLines(info, content); len(leftovers) > 0 {
			return ckgerrors.NewSplitConflictError(relPath,
				"module-level statements would be orphaned by the split", leftovers)
		}
	}
	return nil
}

// liftMethods folds each method into its owning class so a class and its
// methods always travel together. A method whose class is not in the file
// stands alone. Non-methods are collected first: Go methods may precede
// their type declaration in source order.
func liftMethods(decls []entity.Entity) ([]*topNode, map[string]string) {
	byQName := make(map[string]*topNode, len(decls))
	liftOf := make(map[string]string, len(decls))
	var tops []*topNode

	add := func(d entity.Entity) *topNode {
		t := &topNode{id: d.ID, decl: d, members: []entity.Entity{d}}
		tops = append(tops, t)
		byQName[d.QualifiedName] = t
		return t
	}

	for _, d := range decls {
		if d.Kind != entity.KindMethod {
			add(d)
		}
	}
	for _, d := range decls {
		if d.Kind != entity.KindMethod {
			continue
		}
		owner := d.QualifiedName
		if idx := strings.LastIndex(owner, "."); idx >= 0 {
			owner = owner[:idx]
		}
		if t, ok := byQName[owner]; ok {
			t.members = append(t.members, d)
			liftOf[d.ID] = t.id
		} else {
			liftOf[d.ID] = add(d).id
		}
	}
	for _, t := range tops {
		liftOf[t.decl.ID] = t.id
		t.lines = mergedLineCount(t.members)
	}
	return tops, liftOf
}

// mergedLineCount sums member line spans, merging overlaps. Python methods
// nest inside their class span; Go methods sit outside the type
// declaration. Merging counts both correctly.
func mergedLineCount(members []entity.Entity) int {
	if len(members) == 0 {
		return 0
	}
	spans := make([][2]int, len(members))
	for i, m := range members {
		spans[i] = [2]int{m.StartLine, m.EndLine}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })

	total := 0
	cur := spans[0]
	for _, s := range spans[1:] {
		if s[0] <= cur[1]+1 {
			if s[1] > cur[1] {
				cur[1] = s[1]
			}
			continue
		}
		total += cur[1] - cur[0] + 1
		cur = s
	}
	return total + cur[1] - cur[0] + 1
}

// mergeSmallGroups folds components below the minimum into their smallest
// viable partner. Distinct weak components share no edges, so merging
// never introduces a dependency between targets.
func mergeSmallGroups(groups []*splitGroup, minLines, maxLines int) []*splitGroup {
	for len(groups) > 1 {
		smallest := 0
		for i, sg := range groups {
			if sg.lines < groups[smallest].lines {
				smallest = i
			}
		}
		if groups[smallest].lines >= minLines {
			break
		}
		partner := -1
		for i, sg := range groups {
			if i == smallest || groups[smallest].lines+sg.lines > maxLines {
				continue
			}
			if partner < 0 || sg.lines < groups[partner].lines {
				partner = i
			}
		}
		if partner < 0 {
			break
		}
		groups[partner].units = append(groups[partner].units, groups[smallest].units...)
		groups[partner].lines += groups[smallest].lines
		groups = append(groups[:smallest], groups[smallest+1:]...)
	}
	return groups
}

// chunkOversized cuts any group above the maximum along the unit
// topological order, callers first. Cross-chunk edges then always point
// from an earlier chunk to a later one, so chunking cannot create a
// cycle. Chunks are final; re-merging them could.
func chunkOversized(groups []*splitGroup, ug *graph.Graph, unitLines []int, maxLines int) []*splitGroup {
	order, err := ug.TopoOrder()
	if err != nil {
		return groups
	}
	pos := make(map[int]int, len(order))
	for i, key := range order {
		u, _ := strconv.Atoi(key)
		pos[u] = i
	}

	var out []*splitGroup
	for _, sg := range groups {
		if sg.lines <= maxLines || len(sg.units) < 2 {
			out = append(out, sg)
			continue
		}
		sort.Slice(sg.units, func(i, j int) bool { return pos[sg.units[i]] < pos[sg.units[j]] })
		cur := &splitGroup{}
		for _, u := range sg.units {
			if len(cur.units) > 0 && cur.lines+unitLines[u] > maxLines {
				out = append(out, cur)
				cur = &splitGroup{}
			}
			cur.units = append(cur.units, u)
			cur.lines += unitLines[u]
		}
		if len(cur.units) > 0 {
			out = append(out, cur)
		}
	}
	return out
}

// targetNames picks collision-free sibling paths for the split targets,
// checking both the graph and the working tree.
func (a *Analyzer) targetNames(ctx context.Context, relPath string, n int) ([]string, error) {
	dir := path.Dir(relPath)
	ext := path.Ext(relPath)
	stem := strings.TrimSuffix(path.Base(relPath), ext)

	var out []string
	for i := 1; len(out) < n; i++ {
		name := fmt.Sprintf("%s_part%d%s", stem, i, ext)
		rel := name
		if dir != "." {
			rel = dir + "/" + name
		}
		indexed, err := a.store.HasFile(ctx, rel)
		if err != nil {
			return nil, err
		}
		if indexed {
			continue
		}
		if _, err := os.Stat(filepath.Join(a.cfg.RepoRoot, filepath.FromSlash(rel))); err == nil {
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

// Package entry points re-export their module's surface; moving their
// declarations would break every consumer of the package path.
func isEntryPoint(relPath string) bool {
	switch path.Base(relPath) {
	case "__init__.py", "index.ts", "index.js", "index.tsx", "index.jsx":
		return true
	}
	return false
}

func groupDeclNames(sg *splitGroup, units [][]string, topByID map[string]*topNode) []string {
	var names []string
	for _, u := range sg.units {
		for _, id := range units[u] {
			names = append(names, topByID[id].decl.QualifiedName)
		}
	}
	return names
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

//go:build cgo

package refactor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ckg/internal/config"
	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
	"ckg/internal/ingest"
	"ckg/internal/store"
)

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// tightenThresholds makes a small fixture file a split candidate.
func tightenThresholds(an *Analyzer) {
	an.cfg.Analysis.SplitLineThreshold = 10
	an.cfg.Analysis.GroupMinLines = 5
	an.cfg.Analysis.GroupMaxLines = 60
}

const splitUtilPy = `"""Utility helpers."""
import os
import json


def load(path):
    if os.path.exists(path):
        return json.loads(open(path).read())
    return None


def parse(raw):
    return load(raw)


class Counter:
    def __init__(self):
        self.count = 0

    def bump(self):
        self.count += 1
        return self.count
`

const splitMainPy = `from pkg.util import load


def run(path):
    return load(path)
`

func TestSplitApplyEndToEnd(t *testing.T) {
	an, st, dir, done := setupTestAnalyzer(t)
	defer done()
	tightenThresholds(an)
	ctx := context.Background()

	writeRepoFile(t, dir, "pkg/util.py", splitUtilPy)
	writeRepoFile(t, dir, "main.py", splitMainPy)
	if _, err := an.ingestor.IngestFile(ctx, "pkg/util.py"); err != nil {
		t.Fatalf("ingest util: %v", err)
	}
	if _, err := an.ingestor.IngestFile(ctx, "main.py"); err != nil {
		t.Fatalf("ingest main: %v", err)
	}
	if bound, err := an.ingestor.ResolveImports(ctx); err != nil || bound != 1 {
		t.Fatalf("ResolveImports bound=%d err=%v", bound, err)
	}

	// A resolved cross-file reference, as a deep-resolution pass would
	// produce it. It tells apply which target the importer actually uses.
	runID := entity.StableID(entity.KindFunction, "main.py", "run")
	loadID := entity.StableID(entity.KindFunction, "pkg/util.py", "load")
	err := st.AddRelationships(ctx, []entity.Relationship{{
		ID:       entity.RelationshipID(runID, entity.RelReferences, loadID, ""),
		FromID:   runID,
		ToID:     loadID,
		Kind:     entity.RelReferences,
		Resolved: true,
	}})
	if err != nil {
		t.Fatalf("AddRelationships: %v", err)
	}

	plan, err := an.ProposeSplit(ctx, "pkg/util.py")
	if err != nil {
		t.Fatalf("ProposeSplit: %v", err)
	}
	if len(plan.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(plan.Targets))
	}
	counterT := targetWith(t, plan, "Counter")
	loadT := targetWith(t, plan, "load")
	if counterT.Path != "pkg/util_part1.py" || loadT.Path != "pkg/util_part2.py" {
		t.Fatalf("target paths %s and %s", counterT.Path, loadT.Path)
	}
	if len(counterT.Declarations) != 3 {
		t.Errorf("class target declarations = %v", declNames(counterT))
	}
	if got := declNames(loadT); len(got) != 2 || got[0] != "load" || got[1] != "parse" {
		t.Errorf("function target declarations = %v", got)
	}
	if len(loadT.Modules) != 2 || loadT.Modules[0] != "json" || loadT.Modules[1] != "os" {
		t.Errorf("function target modules = %v, want [json os]", loadT.Modules)
	}
	if len(counterT.Modules) != 0 {
		t.Errorf("class target modules = %v, want none", counterT.Modules)
	}

	res, err := an.ApplyPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}
	if res.PlanID != plan.ID || res.Path != "pkg/util.py" {
		t.Errorf("result plan=%s path=%s", res.PlanID, res.Path)
	}
	if len(res.Written) != 2 || res.Rewired != 1 {
		t.Errorf("result written=%v rewired=%d", res.Written, res.Rewired)
	}

	if _, err := os.Stat(filepath.Join(dir, "pkg", "util.py")); !os.IsNotExist(err) {
		t.Errorf("original file still on disk: %v", err)
	}
	part1, err := os.ReadFile(filepath.Join(dir, "pkg", "util_part1.py"))
	if err != nil {
		t.Fatalf("read part1: %v", err)
	}
	part2, err := os.ReadFile(filepath.Join(dir, "pkg", "util_part2.py"))
	if err != nil {
		t.Fatalf("read part2: %v", err)
	}

	// The module docstring travels with the first target; imports go only
	// where a declaration needs them.
	if !strings.HasPrefix(string(part1), `"""Utility helpers."""`) {
		t.Errorf("part1 lost the module docstring:\n%s", part1)
	}
	if !strings.Contains(string(part1), "class Counter:") || strings.Contains(string(part1), "import os") {
		t.Errorf("part1 content:\n%s", part1)
	}
	if !strings.Contains(string(part2), "import os\nimport json") {
		t.Errorf("part2 missing imports:\n%s", part2)
	}
	if !strings.Contains(string(part2), "def load(path):") || !strings.Contains(string(part2), "def parse(raw):") {
		t.Errorf("part2 missing declarations:\n%s", part2)
	}

	if ok, _ := st.HasFile(ctx, "pkg/util.py"); ok {
		t.Errorf("original file still in the graph")
	}
	for _, rel := range []string{"pkg/util_part1.py", "pkg/util_part2.py"} {
		ok, err := st.HasFile(ctx, rel)
		if err != nil || !ok {
			t.Errorf("target %s not in graph (err=%v)", rel, err)
		}
	}
	if _, err := st.GetEntity(ctx, entity.StableID(entity.KindFunction, loadT.Path, "load")); err != nil {
		t.Errorf("load not re-indexed under its target: %v", err)
	}

	rec, err := st.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if rec.State != store.PlanStateApplied {
		t.Errorf("plan state = %s, want applied", rec.State)
	}
	if _, err := os.Stat(config.StageDir(dir, plan.ID)); !os.IsNotExist(err) {
		t.Errorf("staging directory left behind: %v", err)
	}

	// The importer's edge follows load into part2, not just any target.
	rels, err := st.Outgoing(ctx, entity.FileID("main.py"), entity.RelImports)
	if err != nil {
		t.Fatalf("Outgoing: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("importer has %d import edges, want 1", len(rels))
	}
	if !rels[0].Resolved || rels[0].ToID != entity.FileID(loadT.Path) {
		t.Errorf("import edge resolved=%v toID=%s, want %s", rels[0].Resolved, rels[0].ToID, entity.FileID(loadT.Path))
	}
	if rels[0].ToName != "pkg.util_part2" {
		t.Errorf("import edge toName = %s, want pkg.util_part2", rels[0].ToName)
	}

	if _, err := an.ApplyPlan(ctx, plan.ID); !ckgerrors.HasCode(err, ckgerrors.InvalidInput) {
		t.Errorf("re-applying an applied plan: %v", err)
	}
}

func TestSplitApplyStalePlan(t *testing.T) {
	an, st, dir, done := setupTestAnalyzer(t)
	defer done()
	tightenThresholds(an)
	ctx := context.Background()

	writeRepoFile(t, dir, "pkg/util.py", splitUtilPy)
	if _, err := an.ingestor.IngestFile(ctx, "pkg/util.py"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	plan, err := an.ProposeSplit(ctx, "pkg/util.py")
	if err != nil {
		t.Fatalf("ProposeSplit: %v", err)
	}

	writeRepoFile(t, dir, "pkg/util.py", splitUtilPy+"# reviewed\n")

	_, err = an.ApplyPlan(ctx, plan.ID)
	if !ckgerrors.HasCode(err, ckgerrors.PlanStale) {
		t.Fatalf("expected PLAN_STALE, got %v", err)
	}
	rec, err := st.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if rec.State != store.PlanStateAborted {
		t.Errorf("plan state = %s, want aborted", rec.State)
	}

	// The edited file and its graph entry are untouched.
	if _, err := os.Stat(filepath.Join(dir, "pkg", "util.py")); err != nil {
		t.Errorf("original file missing after aborted apply: %v", err)
	}
	if ok, _ := st.HasFile(ctx, "pkg/util.py"); !ok {
		t.Errorf("original file gone from the graph")
	}
	if _, err := os.Stat(filepath.Join(dir, "pkg", "util_part1.py")); !os.IsNotExist(err) {
		t.Errorf("aborted apply left a target on disk")
	}
}

const leftoverPy = `import os

LIMIT = 10


def first(path):
    return os.stat(path)


def second(raw):
    return len(raw)
`

func TestProposeSplitModuleStatementConflict(t *testing.T) {
	an, _, dir, done := setupTestAnalyzer(t)
	defer done()
	an.cfg.Analysis.SplitLineThreshold = 5
	an.cfg.Analysis.GroupMinLines = 1
	an.cfg.Analysis.GroupMaxLines = 60
	ctx := context.Background()

	writeRepoFile(t, dir, "leftover.py", leftoverPy)
	if _, err := an.ingestor.IngestFile(ctx, "leftover.py"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	_, err := an.ProposeSplit(ctx, "leftover.py")
	if !ckgerrors.HasCode(err, ckgerrors.SplitConflict) {
		t.Fatalf("expected SPLIT_CONFLICT, got %v", err)
	}
	if !strings.Contains(err.Error(), "module-level") {
		t.Errorf("conflict does not name the cause: %v", err)
	}
}

const renderToolPy = `import os


def base(path):
    return os.stat(path)


def wrapper(path):
    return base(path)
`

func TestRenderTargetsPythonLocalImports(t *testing.T) {
	ex := ingest.NewExtractor()
	info, err := ex.Extract(context.Background(), "tool.py", []byte(renderToolPy), ingest.LangPython)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	plan := &SplitPlan{
		Path:     "tool.py",
		Language: string(ingest.LangPython),
		Targets: []PlanTarget{
			{
				Path: "tool_part1.py",
				Declarations: []PlanDeclaration{
					{QualifiedName: "base", Kind: entity.KindFunction, StartLine: 4, EndLine: 5},
				},
				Modules: []string{"os"},
			},
			{
				Path: "tool_part2.py",
				Declarations: []PlanDeclaration{
					{QualifiedName: "wrapper", Kind: entity.KindFunction, StartLine: 8, EndLine: 9},
				},
				LocalImports: []LocalImport{{TargetPath: "tool_part1.py", Names: []string{"base"}}},
			},
		},
	}

	rendered, err := renderTargets(plan, info, []byte(renderToolPy))
	if err != nil {
		t.Fatalf("renderTargets: %v", err)
	}
	want1 := "import os\n\n\ndef base(path):\n    return os.stat(path)\n"
	if got := string(rendered["tool_part1.py"]); got != want1 {
		t.Errorf("part1:\n%q\nwant:\n%q", got, want1)
	}
	want2 := "from .tool_part1 import base\n\n\ndef wrapper(path):\n    return base(path)\n"
	if got := string(rendered["tool_part2.py"]); got != want2 {
		t.Errorf("part2:\n%q\nwant:\n%q", got, want2)
	}
}

const renderToolGo = `package tools

import (
	"fmt"
	"strings"
)

func Describe(n int) string {
	return fmt.Sprintf("%d", n)
}

func Upper(s string) string {
	return strings.ToUpper(s)
}
`

func TestRenderTargetsGoPackageHeader(t *testing.T) {
	ex := ingest.NewExtractor()
	info, err := ex.Extract(context.Background(), "tool.go", []byte(renderToolGo), ingest.LangGo)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	plan := &SplitPlan{
		Path:     "tool.go",
		Language: string(ingest.LangGo),
		Targets: []PlanTarget{
			{
				Path: "tool_part1.go",
				Declarations: []PlanDeclaration{
					{QualifiedName: "Describe", Kind: entity.KindFunction, StartLine: 8, EndLine: 10},
				},
				Modules: []string{"fmt"},
			},
			{
				Path: "tool_part2.go",
				Declarations: []PlanDeclaration{
					{QualifiedName: "Upper", Kind: entity.KindFunction, StartLine: 12, EndLine: 14},
				},
				Modules: []string{"strings"},
			},
		},
	}

	rendered, err := renderTargets(plan, info, []byte(renderToolGo))
	if err != nil {
		t.Fatalf("renderTargets: %v", err)
	}
	want1 := "package tools\n\nimport \"fmt\"\n\nfunc Describe(n int) string {\n\treturn fmt.Sprintf(\"%d\", n)\n}\n"
	if got := string(rendered["tool_part1.go"]); got != want1 {
		t.Errorf("part1:\n%q\nwant:\n%q", got, want1)
	}
	want2 := "package tools\n\nimport \"strings\"\n\nfunc Upper(s string) string {\n\treturn strings.ToUpper(s)\n}\n"
	if got := string(rendered["tool_part2.go"]); got != want2 {
		t.Errorf("part2:\n%q\nwant:\n%q", got, want2)
	}
}

package main

import (
	"strings"
	"testing"
	"time"

	"ckg/internal/embed"
	"ckg/internal/entity"
	"ckg/internal/impact"
	"ckg/internal/ingest"
	"ckg/internal/query"
	"ckg/internal/refactor"
	"ckg/internal/store"
)

func TestFormatResponse_JSON(t *testing.T) {
	resp := map[string]interface{}{
		"key": "value",
		"num": 42,
	}

	result, err := FormatResponse(resp, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result, `"key": "value"`) {
		t.Error("JSON output missing expected key")
	}
	if !strings.Contains(result, `"num": 42`) {
		t.Error("JSON output missing expected number")
	}
}

func TestFormatResponse_YAML(t *testing.T) {
	resp := map[string]interface{}{
		"key": "value",
		"num": 42,
	}

	result, err := FormatResponse(resp, FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result, "key: value") {
		t.Error("YAML output missing expected key")
	}
	if !strings.Contains(result, "num: 42") {
		t.Error("YAML output missing expected number")
	}
}

func TestFormatResponse_UnsupportedFormat(t *testing.T) {
	resp := map[string]string{"key": "value"}

	_, err := FormatResponse(resp, "xml")
	if err == nil {
		t.Error("expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("error should mention unsupported format, got: %v", err)
	}
}

func TestFormatHuman_UnknownTypeFallsBackToJSON(t *testing.T) {
	resp := struct {
		Foo string `json:"foo"`
	}{Foo: "bar"}

	result, err := formatHuman(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result, `"foo": "bar"`) {
		t.Error("missing JSON content")
	}
}

func TestFormatStatusHuman(t *testing.T) {
	resp := &query.Status{
		Version:  "1.2.0",
		RepoRoot: "/repo",
		Graph: &store.Stats{
			Files:         12,
			DegradedFiles: 1,
			Declarations:  80,
			Relationships: 140,
		},
		Embedding: &embed.Status{
			Provider:    "hash",
			Model:       "feature-hash-v1",
			Dim:         384,
			Indexed:     78,
			Pending:     2,
			SLAViolated: true,
			StaleFor:    "2m0s",
		},
	}

	result, err := formatStatusHuman(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result, "CKG Status - v1.2.0") {
		t.Error("missing version header")
	}
	if !strings.Contains(result, "Files: 12 (1 degraded)") {
		t.Error("missing file counts")
	}
	if !strings.Contains(result, "Provider: hash (model feature-hash-v1, dim 384)") {
		t.Error("missing embedding provider line")
	}
	if !strings.Contains(result, "Staleness SLA violated") {
		t.Error("missing SLA warning")
	}
}

func TestFormatSearchHuman(t *testing.T) {
	resp := &SearchResponseCLI{
		Query: "parse config",
		Results: []query.SearchResult{
			{
				Entity: entity.Entity{
					QualifiedName: "config.load_settings",
					Kind:          entity.KindFunction,
					Path:          "src/config.py",
					StartLine:     10,
					Doc:           "Load settings from disk.\nMore detail.",
				},
				Score: 0.914,
			},
		},
	}

	result, err := formatSearchHuman(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result, "Search: parse config") {
		t.Error("missing query header")
	}
	if !strings.Contains(result, "Found 1 matches") {
		t.Error("missing match count")
	}
	if !strings.Contains(result, "config.load_settings (function)  score 0.914") {
		t.Error("missing ranked hit")
	}
	if !strings.Contains(result, "src/config.py:10") {
		t.Error("missing location")
	}
	if !strings.Contains(result, "Load settings from disk.") {
		t.Error("missing doc first line")
	}
	if strings.Contains(result, "More detail") {
		t.Error("doc should be truncated to its first line")
	}
}

func TestFormatMetricsHuman(t *testing.T) {
	m := &refactor.Metrics{
		Path:            "src/big.py",
		Language:        "python",
		LineCount:       1400,
		Complexity:      92,
		Maintainability: 31.5,
		DebtScore:       0.81,
		SplitCandidate:  true,
	}

	result, err := formatMetricsHuman(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result, "Metrics: src/big.py") {
		t.Error("missing header")
	}
	if !strings.Contains(result, "Lines: 1400") {
		t.Error("missing line count")
	}
	if !strings.Contains(result, "Debt Score: 0.81") {
		t.Error("missing debt score")
	}
	if !strings.Contains(result, "Split candidate: yes") {
		t.Error("missing candidate verdict")
	}
}

func TestFormatPlanHuman(t *testing.T) {
	plan := &refactor.SplitPlan{
		ID:        "plan-1",
		Path:      "src/big.py",
		Language:  "python",
		Checksum:  "0123456789abcdef0123",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Targets: []refactor.PlanTarget{
			{
				Path:  "src/big_core.py",
				Lines: 600,
				Declarations: []refactor.PlanDeclaration{
					{QualifiedName: "big.Alpha", Kind: entity.KindClass, StartLine: 1, EndLine: 600},
				},
			},
			{
				Path:  "src/big_util.py",
				Lines: 500,
				Declarations: []refactor.PlanDeclaration{
					{QualifiedName: "big.helper", Kind: entity.KindFunction, StartLine: 601, EndLine: 1100},
				},
				LocalImports: []refactor.LocalImport{
					{TargetPath: "src/big_core.py", Names: []string{"Alpha"}},
				},
			},
		},
	}

	result, err := formatPlanHuman(plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result, "Split Plan plan-1") {
		t.Error("missing header")
	}
	if !strings.Contains(result, "File: src/big.py (python)") {
		t.Error("missing source line")
	}
	if !strings.Contains(result, "Checksum: 0123456789ab") {
		t.Error("checksum should be abbreviated")
	}
	if !strings.Contains(result, "1. src/big_core.py (600 lines, 1 declarations)") {
		t.Error("missing first target")
	}
	if !strings.Contains(result, "needs: src/big_core.py (Alpha)") {
		t.Error("missing local import line")
	}
	if !strings.Contains(result, "ckg split apply plan-1") {
		t.Error("missing apply hint")
	}
}

func TestFormatImpactHuman(t *testing.T) {
	resp := &impact.Report{
		Risk:          impact.RiskHigh,
		Score:         0.62,
		Explanation:   "Signature change reaches 6 files.",
		ImpactedFiles: 6,
		UntestedFiles: 2,
		Impacted: []impact.Item{
			{QualifiedName: "api.handler", Kind: entity.KindFunction, Path: "src/api.py", Distance: 1, HasTests: true},
			{QualifiedName: "jobs.runner", Kind: entity.KindFunction, Path: "src/jobs.py", Distance: 2},
		},
		Factors: []impact.RiskFactor{
			{Name: "blast-radius", Weight: 0.4, Value: 0.55},
		},
	}

	result, err := formatImpactHuman(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result, "Risk: high (score 0.62)") {
		t.Error("missing risk line")
	}
	if !strings.Contains(result, "Impacted: 2 entities across 6 files (2 untested)") {
		t.Error("missing impact summary")
	}
	if !strings.Contains(result, "d1  api.handler (function)  src/api.py  [tested]") {
		t.Error("missing tested item")
	}
	if !strings.Contains(result, "d2  jobs.runner") {
		t.Error("missing second item")
	}
	if !strings.Contains(result, "blast-radius") {
		t.Error("missing risk factor")
	}
}

func TestFormatTreeHuman(t *testing.T) {
	res := &ingest.TreeResult{
		Scanned:      20,
		Ingested:     18,
		Degraded:     1,
		Skipped:      2,
		Pruned:       3,
		ImportsBound: 9,
		Delta: &entity.Delta{
			CreatedEntities:      []string{"a", "b"},
			CreatedRelationships: []string{"r1"},
		},
	}

	result, err := formatTreeHuman(res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result, "Scanned: 20") {
		t.Error("missing scanned count")
	}
	if !strings.Contains(result, "Ingested: 18 (1 degraded)") {
		t.Error("missing ingested counts")
	}
	if !strings.Contains(result, "Skipped: 2  Pruned: 3") {
		t.Error("missing skip/prune counts")
	}
	if !strings.Contains(result, "+2 ~0 -0 entities, +1 -0 edges") {
		t.Error("missing delta summary")
	}
}

func TestFormatDeltaHuman(t *testing.T) {
	d := &entity.Delta{
		CreatedEntities: []string{"a"},
		UpdatedEntities: []string{"b", "c"},
		DeletedEntities: []string{"d"},
	}

	got := formatDeltaHuman(d)
	if got != "+1 ~2 -1 entities, +0 -0 edges" {
		t.Errorf("formatDeltaHuman = %q", got)
	}
}

func TestShortHash(t *testing.T) {
	if got := shortHash("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("shortHash(long) = %q, want 12-char prefix", got)
	}
	if got := shortHash("abc"); got != "abc" {
		t.Errorf("shortHash(short) = %q, want unchanged", got)
	}
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds("function, method")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != entity.KindFunction || kinds[1] != entity.KindMethod {
		t.Errorf("parseKinds = %v", kinds)
	}

	if _, err := parseKinds("gadget"); err == nil {
		t.Error("expected error for unknown kind")
	}

	kinds, err = parseKinds("")
	if err != nil {
		t.Fatalf("unexpected error for empty list: %v", err)
	}
	if len(kinds) != 0 {
		t.Errorf("empty list should parse to no kinds, got %v", kinds)
	}
}

package ingest

import (
	"reflect"
	"testing"

	"ckg/internal/entity"
)

// shapesInfo is a hand-built extraction result: a class with one method,
// a top-level function, two imports, and a spread of mentions.
func shapesInfo() *FileInfo {
	return &FileInfo{
		Path:      "pkg/shapes.py",
		Language:  LangPython,
		LineCount: 60,
		Declarations: []Declaration{
			{Kind: entity.KindClass, Name: "Circle", QualifiedName: "Circle", StartLine: 5, EndLine: 30, Complexity: 3},
			{Kind: entity.KindMethod, Name: "area", QualifiedName: "Circle.area", ClassName: "Circle", StartLine: 10, EndLine: 18, Complexity: 3},
			{Kind: entity.KindFunction, Name: "scale", QualifiedName: "scale", StartLine: 35, EndLine: 50, Complexity: 4},
		},
		Imports: []Import{
			{Module: "math", Names: []string{"math"}, Line: 1},
			{Module: "pkg.colors", Names: []string{"tint"}, Line: 2},
			{Module: "pkg.colors", Names: []string{"shade"}, Line: 3},
		},
		Mentions: []Mention{
			{From: "Circle.area", Name: "math", Line: 12},
			{From: "Circle.area", Name: "scale", Line: 14},
			{From: "scale", Name: "tint", Line: 40},
			{From: "scale", Name: "scale", Line: 41},
			{From: "", Name: "shade", Line: 55},
			{From: "scale", Name: "unknown_thing", Line: 44},
		},
	}
}

func countRels(rels []entity.Relationship, kind entity.RelKind, resolved bool) int {
	n := 0
	for _, r := range rels {
		if r.Kind == kind && r.Resolved == resolved {
			n++
		}
	}
	return n
}

func TestBuildUpsertEntities(t *testing.T) {
	up := buildUpsert("pkg/shapes.py", []byte("content"), "rev-9", shapesInfo())

	if len(up.Entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(up.Entities))
	}
	// File complexity counts classes and functions once; method
	// complexity is already folded into its class.
	if up.Complexity != 7 {
		t.Errorf("expected file complexity 7, got %d", up.Complexity)
	}
	if up.Revision != "rev-9" {
		t.Errorf("revision not carried: %q", up.Revision)
	}

	for _, e := range up.Entities {
		if e.ID != entity.StableID(e.Kind, "pkg/shapes.py", e.QualifiedName) {
			t.Errorf("entity %s has non-canonical ID", e.QualifiedName)
		}
		if e.Language != "python" {
			t.Errorf("entity %s missing language", e.QualifiedName)
		}
	}
}

func TestBuildUpsertContainment(t *testing.T) {
	up := buildUpsert("pkg/shapes.py", nil, "", shapesInfo())

	fileID := entity.FileID("pkg/shapes.py")
	classID := entity.StableID(entity.KindClass, "pkg/shapes.py", "Circle")
	methodID := entity.StableID(entity.KindMethod, "pkg/shapes.py", "Circle.area")

	parents := map[string]string{}
	for _, r := range up.Relationships {
		if r.Kind == entity.RelContains {
			parents[r.ToID] = r.FromID
		}
	}
	if len(parents) != 3 {
		t.Fatalf("expected 3 CONTAINS edges, got %d", len(parents))
	}
	if parents[classID] != fileID {
		t.Errorf("class should be contained by the file")
	}
	if parents[methodID] != classID {
		t.Errorf("method should be contained by its class, got %s", parents[methodID])
	}
}

func TestBuildUpsertImportsAndReferences(t *testing.T) {
	up := buildUpsert("pkg/shapes.py", nil, "", shapesInfo())

	// Two distinct modules, one IMPORTS edge each
	if got := countRels(up.Relationships, entity.RelImports, false); got != 2 {
		t.Errorf("expected 2 unresolved IMPORTS edges, got %d", got)
	}
	// area -> scale resolves locally
	if got := countRels(up.Relationships, entity.RelReferences, true); got != 1 {
		t.Errorf("expected 1 resolved REFERENCES edge, got %d", got)
	}
	// math from area, tint from scale, shade from module level; the
	// self-mention and the unknown name produce nothing
	if got := countRels(up.Relationships, entity.RelReferences, false); got != 3 {
		t.Errorf("expected 3 unresolved REFERENCES edges, got %d", got)
	}

	fileID := entity.FileID("pkg/shapes.py")
	wantToNames := map[string]string{
		entity.MentionRef("math", "math"):        entity.StableID(entity.KindMethod, "pkg/shapes.py", "Circle.area"),
		entity.MentionRef("pkg.colors", "tint"):  entity.StableID(entity.KindFunction, "pkg/shapes.py", "scale"),
		entity.MentionRef("pkg.colors", "shade"): fileID,
	}
	for _, r := range up.Relationships {
		if r.Kind != entity.RelReferences || r.Resolved {
			continue
		}
		from, ok := wantToNames[r.ToName]
		if !ok {
			t.Errorf("unexpected unresolved reference %q", r.ToName)
			continue
		}
		if r.FromID != from {
			t.Errorf("reference %q attributed to wrong declaration", r.ToName)
		}
	}
}

func TestBuildUpsertDegraded(t *testing.T) {
	info := &FileInfo{
		Path:       "broken.py",
		Language:   LangPython,
		LineCount:  3,
		Degraded:   true,
		ParseError: "syntax error near line 1",
	}
	up := buildUpsert("broken.py", []byte("def broken(:"), "", info)

	if !up.Degraded || up.ParseError == "" {
		t.Errorf("degraded flags not carried")
	}
	if len(up.Entities) != 0 || len(up.Relationships) != 0 {
		t.Errorf("degraded files must not contribute declarations")
	}
}

func TestImportCandidates(t *testing.T) {
	tests := []struct {
		name     string
		module   string
		importer string
		lang     Language
		want     []string
	}{
		{
			name:     "python absolute",
			module:   "pkg.util",
			importer: "app.py",
			lang:     LangPython,
			want:     []string{"pkg/util.py", "pkg/util/__init__.py"},
		},
		{
			name:     "python relative sibling",
			module:   ".sibling",
			importer: "a/b/mod.py",
			lang:     LangPython,
			want:     []string{"a/b/sibling.py", "a/b/sibling/__init__.py"},
		},
		{
			name:     "python relative parent",
			module:   "..top",
			importer: "a/b/mod.py",
			lang:     LangPython,
			want:     []string{"a/top.py", "a/top/__init__.py"},
		},
		{
			name:     "go is scip territory",
			module:   "fmt",
			importer: "main.go",
			lang:     LangGo,
			want:     nil,
		},
		{
			name:     "js bare module is external",
			module:   "react",
			importer: "src/app.ts",
			lang:     LangTypeScript,
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := importCandidates(tt.module, tt.importer, tt.lang)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("importCandidates(%q) = %v, want %v", tt.module, got, tt.want)
			}
		})
	}
}

func TestImportCandidatesRelativeJS(t *testing.T) {
	got := importCandidates("./util", "src/app.ts", LangTypeScript)
	wantFirst := "src/util.ts"
	if len(got) == 0 || got[0] != wantFirst {
		t.Fatalf("expected first candidate %q, got %v", wantFirst, got)
	}
	found := false
	for _, c := range got {
		if c == "src/util/index.ts" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected index candidate, got %v", got)
	}
}

func TestCountLines(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n", 2},
	}
	for _, tt := range tests {
		if got := CountLines([]byte(tt.content)); got != tt.want {
			t.Errorf("CountLines(%q) = %d, want %d", tt.content, got, tt.want)
		}
	}
}

func TestLanguageFromPath(t *testing.T) {
	if lang, ok := LanguageFromPath("pkg/util.py"); !ok || lang != LangPython {
		t.Errorf("expected python, got %s", lang)
	}
	if lang, ok := LanguageFromPath("web/App.TSX"); !ok || lang != LangTSX {
		t.Errorf("expected tsx for uppercase extension, got %s", lang)
	}
	if _, ok := LanguageFromPath("README.md"); ok {
		t.Errorf("markdown should not be a supported language")
	}
}

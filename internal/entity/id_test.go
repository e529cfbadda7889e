package entity

import (
	"strings"
	"testing"
)

func TestStableIDDeterministic(t *testing.T) {
	a := StableID(KindFunction, "pkg/util.py", "process_batch")
	b := StableID(KindFunction, "pkg/util.py", "process_batch")

	if a != b {
		t.Errorf("same inputs produced different ids: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "ckg:function:") {
		t.Errorf("unexpected id format: %s", a)
	}
}

func TestStableIDDistinguishesKind(t *testing.T) {
	fn := StableID(KindFunction, "pkg/util.py", "Widget")
	cls := StableID(KindClass, "pkg/util.py", "Widget")

	if fn == cls {
		t.Error("same name with different kinds must not collide")
	}
}

func TestStableIDDistinguishesPath(t *testing.T) {
	a := StableID(KindFunction, "pkg/a.py", "run")
	b := StableID(KindFunction, "pkg/b.py", "run")

	if a == b {
		t.Error("same name in different files must not collide")
	}
}

func TestStableIDIgnoresLocation(t *testing.T) {
	// Identity comes from (path, qualified name, kind) only. There is no
	// line or body input to vary, which is the point: compute twice and
	// compare against a fresh fingerprint struct.
	id := StableID(KindMethod, "svc/api.py", "Handler.get")
	fp := &Fingerprint{Path: "svc/api.py", QualifiedName: "Handler.get", Kind: KindMethod}
	want := "ckg:method:" + ComputeFingerprint(fp)

	if id != want {
		t.Errorf("StableID = %s, want %s", id, want)
	}
}

func TestFileID(t *testing.T) {
	a := FileID("src/main.py")
	if !strings.HasPrefix(a, "ckg:file:") {
		t.Errorf("unexpected file id format: %s", a)
	}
	if a != StableID(KindFile, "src/main.py", "src/main.py") {
		t.Error("FileID should qualify the file by its own path")
	}
}

func TestRelationshipIDDeterministic(t *testing.T) {
	a := RelationshipID("ckg:file:x", RelImports, "", "os.path")
	b := RelationshipID("ckg:file:x", RelImports, "", "os.path")
	if a != b {
		t.Error("relationship ids must be deterministic")
	}

	c := RelationshipID("ckg:file:x", RelReferences, "", "os.path")
	if a == c {
		t.Error("edge kind must factor into the id")
	}
}

func TestNormalizeSignature(t *testing.T) {
	got := NormalizeSignature("def f(a,  b,\n\tc):")
	want := "deff(a,b,c):"
	if got != want {
		t.Errorf("NormalizeSignature = %q, want %q", got, want)
	}
}

func TestQualifyMethod(t *testing.T) {
	if got := QualifyMethod("Widget", "render"); got != "Widget.render" {
		t.Errorf("QualifyMethod = %q", got)
	}
}

func TestDeltaEmptyAndMerge(t *testing.T) {
	d := &Delta{}
	if !d.Empty() {
		t.Error("zero delta should be empty")
	}

	d.Merge(&Delta{CreatedEntities: []string{"a"}})
	d.Merge(&Delta{DeletedRelationships: []string{"r1", "r2"}})

	if d.Empty() {
		t.Error("merged delta should not be empty")
	}
	if len(d.CreatedEntities) != 1 || len(d.DeletedRelationships) != 2 {
		t.Errorf("merge lost changes: %+v", d)
	}
}

func TestDeltaTouchedEntities(t *testing.T) {
	d := &Delta{
		CreatedEntities: []string{"a", "b"},
		UpdatedEntities: []string{"c"},
		DeletedEntities: []string{"d"},
	}
	touched := d.TouchedEntities()
	if len(touched) != 3 {
		t.Errorf("TouchedEntities = %v, want created+updated", touched)
	}
	for _, id := range touched {
		if id == "d" {
			t.Error("deleted entities must not appear in touched set")
		}
	}
}

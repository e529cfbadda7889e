package impact

import (
	"context"
	"testing"

	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
)

const mixedDiff = `--- a/app.py
+++ b/app.py
@@ -2,1 +2,1 @@
-import os
+import sys
@@ -6,2 +6,2 @@
 x = 1
-y = 2
+y = 3
@@ -12,1 +12,1 @@
-def run(a):
+def run(a, b):
--- a/lib.py
+++ /dev/null
@@ -1,2 +0,0 @@
-def helper():
-    pass
--- a/ghost.py
+++ b/ghost.py
@@ -1,1 +1,1 @@
-a = 1
+a = 2
`

func TestFromDiffMapsHunksToSeeds(t *testing.T) {
	an, st, done := setupTestImpact(t)
	defer done()
	ctx := context.Background()

	seedFile(t, st, "app.py", []entity.Entity{
		declEnt("app.py", "app.load", 5, 9),
		declEnt("app.py", "app.run", 12, 18),
	}, nil)
	seedFile(t, st, "lib.py", []entity.Entity{declEnt("lib.py", "lib.helper", 1, 2)}, nil)

	seeds, err := an.FromDiff(ctx, []byte(mixedDiff))
	if err != nil {
		t.Fatalf("FromDiff: %v", err)
	}

	want := []Seed{
		{EntityID: declID("app.py", "app.load"), QualifiedName: "app.load"},
		{EntityID: entity.FileID("app.py"), QualifiedName: "app.py"},
		{EntityID: declID("app.py", "app.run"), QualifiedName: "app.run", SignatureChanged: true},
		{EntityID: declID("lib.py", "lib.helper"), QualifiedName: "lib.helper", SignatureChanged: true, Deleted: true},
		{EntityID: entity.FileID("lib.py"), QualifiedName: "lib.py", SignatureChanged: true, Deleted: true},
	}
	if len(seeds) != len(want) {
		t.Fatalf("got %d seeds, want %d: %+v", len(seeds), len(want), seeds)
	}
	for i, w := range want {
		if seeds[i] != w {
			t.Errorf("seed[%d] = %+v, want %+v", i, seeds[i], w)
		}
	}
}

func TestFromDiffBodyChangeKeepsSignature(t *testing.T) {
	an, st, done := setupTestImpact(t)
	defer done()
	ctx := context.Background()

	seedFile(t, st, "app.py", []entity.Entity{declEnt("app.py", "app.load", 5, 9)}, nil)

	diff := `--- a/app.py
+++ b/app.py
@@ -7,1 +7,1 @@
-    return None
+    return 1
`
	seeds, err := an.FromDiff(ctx, []byte(diff))
	if err != nil {
		t.Fatalf("FromDiff: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("got %d seeds, want declaration plus file node: %+v", len(seeds), seeds)
	}
	if seeds[0].EntityID != declID("app.py", "app.load") {
		t.Errorf("seed = %+v, want app.load", seeds[0])
	}
	if seeds[0].SignatureChanged || seeds[1].SignatureChanged {
		t.Errorf("body-only change flagged as signature change: %+v", seeds)
	}
}

func TestFromDiffEmpty(t *testing.T) {
	an, _, done := setupTestImpact(t)
	defer done()

	seeds, err := an.FromDiff(context.Background(), nil)
	if err != nil {
		t.Fatalf("FromDiff: %v", err)
	}
	if len(seeds) != 0 {
		t.Errorf("empty diff produced seeds: %+v", seeds)
	}
}

func TestFromDiffMalformed(t *testing.T) {
	an, _, done := setupTestImpact(t)
	defer done()

	bad := "--- a/x.py\n+++ b/x.py\n@@ -x @@\n"
	_, err := an.FromDiff(context.Background(), []byte(bad))
	if err == nil {
		t.Fatalf("expected error for malformed diff")
	}
	if !ckgerrors.HasCode(err, ckgerrors.InvalidInput) {
		t.Errorf("error code = %v, want INVALID_INPUT", err)
	}
}

func TestFromDiffFeedsAnalyze(t *testing.T) {
	an, st, done := setupTestImpact(t)
	defer done()
	ctx := context.Background()

	seedFile(t, st, "lib.py", []entity.Entity{declEnt("lib.py", "lib.helper", 1, 4)}, nil)
	seedFile(t, st, "app.py",
		[]entity.Entity{declEnt("app.py", "app.run", 1, 4)},
		[]entity.Relationship{crossRef("app.py", "app.run", "lib.py", "lib.helper")})

	diff := `--- a/lib.py
+++ b/lib.py
@@ -1,1 +1,1 @@
-def helper(x):
+def helper(x, y):
`
	seeds, err := an.FromDiff(ctx, []byte(diff))
	if err != nil {
		t.Fatalf("FromDiff: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("seeds = %+v, want lib.helper plus file node", seeds)
	}
	if seeds[0].QualifiedName != "lib.helper" || !seeds[0].SignatureChanged {
		t.Fatalf("seeds[0] = %+v, want signature change on lib.helper", seeds[0])
	}

	report, err := an.Analyze(ctx, seeds, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.Risk != RiskCritical {
		t.Errorf("risk = %s, want critical for signature change reaching untested app.py", report.Risk)
	}
	if len(report.Impacted) != 1 || report.Impacted[0].QualifiedName != "app.run" {
		t.Errorf("impacted = %+v, want app.run", report.Impacted)
	}
}

package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ckg/internal/category"
	"ckg/internal/config"
	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTarget records replayed events so tests can assert on what reached
// the graph without a real engine behind the watcher.
type fakeTarget struct {
	mu      sync.Mutex
	ingests []string
	deletes []string
	syncs   int
	failOn  map[string]error
}

func (f *fakeTarget) IngestFile(_ context.Context, relPath string) (*entity.Delta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[relPath]; ok {
		return nil, err
	}
	f.ingests = append(f.ingests, relPath)
	return &entity.Delta{}, nil
}

func (f *fakeTarget) DeleteFile(_ context.Context, relPath string) (*entity.Delta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, relPath)
	return &entity.Delta{}, nil
}

func (f *fakeTarget) SyncCategories(_ context.Context) (*category.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return &category.SyncResult{}, nil
}

func (f *fakeTarget) ingestCount(relPath string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.ingests {
		if p == relPath {
			n++
		}
	}
	return n
}

func (f *fakeTarget) deleted(relPath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.deletes {
		if p == relPath {
			return true
		}
	}
	return false
}

func (f *fakeTarget) synced() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs
}

func (f *fakeTarget) allIngests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ingests))
	copy(out, f.ingests)
	return out
}

func setupTestWatcher(t *testing.T, debounceMs int) (*Watcher, *fakeTarget, string, func()) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.RepoRoot = dir
	cfg.Ingest.WatchDebounceMs = debounceMs

	target := &fakeTarget{failOn: map[string]error{}}
	w, err := New(target, cfg, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return w, target, dir, w.Stop
}

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir for %s failed: %v", rel, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", rel, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatcherIngestsNewFile(t *testing.T) {
	_, target, dir, teardown := setupTestWatcher(t, 50)
	defer teardown()

	writeRepoFile(t, dir, "server.py", "def handle():\n    pass\n")

	waitFor(t, "server.py ingest", func() bool {
		return target.ingestCount("server.py") >= 1
	})
}

func TestWatcherCoalescesRapidWrites(t *testing.T) {
	w, target, dir, teardown := setupTestWatcher(t, 200)
	defer teardown()

	for i := 0; i < 5; i++ {
		writeRepoFile(t, dir, "busy.py", "def busy():\n    pass\n")
		time.Sleep(10 * time.Millisecond)
	}

	waitFor(t, "busy.py ingest", func() bool {
		return target.ingestCount("busy.py") >= 1
	})

	// No further writes, so no further flushes.
	time.Sleep(300 * time.Millisecond)
	if got := target.ingestCount("busy.py"); got != 1 {
		t.Errorf("ingest count = %d, want 1 for coalesced writes", got)
	}
	if st := w.Stats(); st.Ingested != 1 {
		t.Errorf("Stats().Ingested = %d, want 1", st.Ingested)
	}
}

func TestWatcherRemoveDeletesFile(t *testing.T) {
	_, target, dir, teardown := setupTestWatcher(t, 50)
	defer teardown()

	writeRepoFile(t, dir, "old.py", "def gone():\n    pass\n")
	waitFor(t, "old.py ingest", func() bool {
		return target.ingestCount("old.py") >= 1
	})

	if err := os.Remove(filepath.Join(dir, "old.py")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	waitFor(t, "old.py delete", func() bool {
		return target.deleted("old.py")
	})
}

func TestWatcherWriteThenVanishBecomesDelete(t *testing.T) {
	_, target, dir, teardown := setupTestWatcher(t, 80)
	defer teardown()

	writeRepoFile(t, dir, "flash.py", "def flash():\n    pass\n")
	if err := os.Remove(filepath.Join(dir, "flash.py")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	waitFor(t, "flash.py delete", func() bool {
		return target.deleted("flash.py")
	})
}

func TestWatcherSkipsUntrackedPaths(t *testing.T) {
	_, target, dir, teardown := setupTestWatcher(t, 50)
	defer teardown()

	writeRepoFile(t, dir, "notes.txt", "not source\n")
	writeRepoFile(t, dir, "build/gen.py", "def generated():\n    pass\n")
	writeRepoFile(t, dir, ".cache/tmp.py", "def cached():\n    pass\n")
	writeRepoFile(t, dir, "ok.py", "def ok():\n    pass\n")

	waitFor(t, "ok.py ingest", func() bool {
		return target.ingestCount("ok.py") >= 1
	})

	got := target.allIngests()
	if len(got) != 1 || got[0] != "ok.py" {
		t.Errorf("ingests = %v, want only ok.py", got)
	}
}

func TestWatcherSweepsNewDirectory(t *testing.T) {
	_, target, dir, teardown := setupTestWatcher(t, 50)
	defer teardown()

	// mkdir and write race the directory registration; the sweep on
	// registration covers whichever side loses.
	writeRepoFile(t, dir, "sub/mod.py", "def nested():\n    pass\n")

	waitFor(t, "sub/mod.py ingest", func() bool {
		return target.ingestCount("sub/mod.py") >= 1
	})
}

func TestWatcherCategoryFileTriggersSync(t *testing.T) {
	_, target, dir, teardown := setupTestWatcher(t, 50)
	defer teardown()

	writeRepoFile(t, dir, "CATEGORIES.toml", "version = 1\n")

	waitFor(t, "category sync", func() bool {
		return target.synced() >= 1
	})
	if got := target.allIngests(); len(got) != 0 {
		t.Errorf("declaration file should sync, not ingest, got %v", got)
	}
}

func TestWatcherCountsDegradedAndFailed(t *testing.T) {
	w, target, dir, teardown := setupTestWatcher(t, 50)
	defer teardown()

	target.failOn["broken.py"] = ckgerrors.NewParseError("broken.py", nil)
	target.failOn["locked.py"] = ckgerrors.NewIOError("read locked.py", os.ErrPermission)

	writeRepoFile(t, dir, "broken.py", "def broken(:\n")
	writeRepoFile(t, dir, "locked.py", "def locked():\n    pass\n")

	waitFor(t, "degraded and failed counters", func() bool {
		st := w.Stats()
		return st.Degraded == 1 && st.Failed == 1
	})
	st := w.Stats()
	if st.Ingested != 1 {
		t.Errorf("Stats().Ingested = %d, want 1 (degraded still lands)", st.Ingested)
	}
}

func TestWatcherStopQuiesces(t *testing.T) {
	w, target, dir, teardown := setupTestWatcher(t, 50)
	teardown()

	writeRepoFile(t, dir, "late.py", "def late():\n    pass\n")
	time.Sleep(200 * time.Millisecond)

	if got := target.ingestCount("late.py"); got != 0 {
		t.Errorf("ingest after Stop = %d, want 0", got)
	}

	// Stop twice is safe.
	w.Stop()
}

func TestWatcherStatsTracksDirs(t *testing.T) {
	w, target, dir, teardown := setupTestWatcher(t, 50)
	defer teardown()

	if st := w.Stats(); st.Dirs < 1 {
		t.Errorf("Stats().Dirs = %d, want at least the root", st.Dirs)
	}

	writeRepoFile(t, dir, "pkg/a.py", "def a():\n    pass\n")
	waitFor(t, "pkg/a.py ingest", func() bool {
		return target.ingestCount("pkg/a.py") >= 1
	})
	if st := w.Stats(); st.Dirs < 2 {
		t.Errorf("Stats().Dirs = %d, want root plus pkg", st.Dirs)
	}
	if st := w.Stats(); st.LastFlush.IsZero() {
		t.Error("Stats().LastFlush should be set after a flush")
	}
}

func TestDedupeKeepsNewestPerPath(t *testing.T) {
	batch := []Event{
		{Path: "a.py", Op: OpWrite},
		{Path: "b.py", Op: OpWrite},
		{Path: "a.py", Op: OpRemove},
		{Path: "c.py", Op: OpRemove},
		{Path: "c.py", Op: OpWrite},
	}

	out := dedupe(batch)
	if len(out) != 3 {
		t.Fatalf("dedupe returned %d events, want 3", len(out))
	}
	if out[0].Path != "a.py" || out[0].Op != OpRemove {
		t.Errorf("out[0] = %s %s, want a.py remove", out[0].Path, out[0].Op)
	}
	if out[1].Path != "b.py" || out[1].Op != OpWrite {
		t.Errorf("out[1] = %s %s, want b.py write", out[1].Path, out[1].Op)
	}
	if out[2].Path != "c.py" || out[2].Op != OpWrite {
		t.Errorf("out[2] = %s %s, want c.py write", out[2].Path, out[2].Op)
	}
}

func TestOpString(t *testing.T) {
	if OpWrite.String() != "write" {
		t.Errorf("OpWrite = %q", OpWrite.String())
	}
	if OpRemove.String() != "remove" {
		t.Errorf("OpRemove = %q", OpRemove.String())
	}
	if Op(99).String() != "unknown" {
		t.Errorf("Op(99) = %q", Op(99).String())
	}
}

// Package watch mirrors local file edits into the knowledge graph.
//
// A recursive fsnotify watcher feeds a debounce loop. Once the editor goes
// quiet for the configured window the batched events are deduplicated and
// replayed through the engine as single-file ingests and deletes, so the
// graph tracks the working tree without a full rescan. Edits to the
// category declaration file trigger a category resync instead.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ckg/internal/category"
	"ckg/internal/config"
	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
	"ckg/internal/ingest"
	"ckg/internal/paths"
)

// Op classifies a change after fsnotify's flag combinations are folded
// down to what the graph cares about.
type Op int

const (
	OpWrite Op = iota
	OpRemove
)

// String returns the lowercase name of the operation.
func (op Op) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is one debounced change. Path is relative to the repo root and
// slash-separated, matching how the graph keys files.
type Event struct {
	Path string    `json:"path"`
	Op   Op        `json:"op"`
	Time time.Time `json:"time"`
}

// Target is the mutation surface events are replayed into.
// *query.Engine satisfies it.
type Target interface {
	IngestFile(ctx context.Context, relPath string) (*entity.Delta, error)
	DeleteFile(ctx context.Context, relPath string) (*entity.Delta, error)
}

// categorySyncer lets a target opt in to declaration-file resyncs.
type categorySyncer interface {
	SyncCategories(ctx context.Context) (*category.SyncResult, error)
}

// Stats counts what the watcher has applied since Start.
type Stats struct {
	Dirs      int       `json:"dirs"`
	Ingested  int       `json:"ingested"`
	Degraded  int       `json:"degraded"`
	Deleted   int       `json:"deleted"`
	Failed    int       `json:"failed"`
	LastFlush time.Time `json:"lastFlush"`
}

// Watcher owns the fsnotify handle, the event reader, and the debounce
// loop that applies batches through the target.
type Watcher struct {
	root     string
	target   Target
	cfg      *config.Config
	logger   *slog.Logger
	debounce time.Duration

	fsw      *fsnotify.Watcher
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	dirs      int
	ingested  int
	degraded  int
	deleted   int
	failed    int
	lastFlush time.Time
}

// New builds a watcher rooted at cfg.RepoRoot. Call Start to begin
// watching and Stop to tear it down.
func New(target Target, cfg *config.Config, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ckgerrors.NewIOError("create file watcher", err)
	}
	debounce := time.Duration(cfg.Ingest.WatchDebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		root:     cfg.RepoRoot,
		target:   target,
		cfg:      cfg,
		logger:   logger.With("component", "watch"),
		debounce: debounce,
		fsw:      fsw,
		events:   make(chan Event, 1024),
		done:     make(chan struct{}),
	}, nil
}

// Start registers the tree with fsnotify and launches the reader and
// debounce loops. Both exit when Stop is called or ctx is cancelled;
// Stop waits for them.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root, false); err != nil {
		return err
	}
	w.wg.Add(2)
	go w.readLoop(ctx)
	go w.flushLoop(ctx)
	w.logger.Info("watching tree",
		"root", w.root,
		"debounceMs", w.debounce.Milliseconds())
	return nil
}

// Stop closes the fsnotify handle and waits for both loops to finish.
// Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
	w.wg.Wait()
}

// Stats returns a snapshot of the watcher's counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Dirs:      w.dirs,
		Ingested:  w.ingested,
		Degraded:  w.degraded,
		Deleted:   w.deleted,
		Failed:    w.failed,
		LastFlush: w.lastFlush,
	}
}

// addTree registers dir and everything below it, honouring the same skip
// rules as tree ingestion. With sweep set, source files already present
// are offered as writes; a directory created moments before registration
// can hold files whose events were never delivered.
func (w *Watcher) addTree(dir string, sweep bool) error {
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if p != w.root && (strings.HasPrefix(name, ".") || ingest.IgnoredName(w.cfg.Ingest.Ignore, name)) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(p); err != nil {
				if p == dir {
					return err
				}
				w.logger.Warn("watch register failed", "path", p, "error", err)
				return filepath.SkipDir
			}
			w.mu.Lock()
			w.dirs++
			w.mu.Unlock()
			return nil
		}
		if !sweep {
			return nil
		}
		rel, ok := w.relPath(p)
		if !ok {
			return nil
		}
		if _, supported := ingest.LanguageFromPath(p); supported {
			w.offer(Event{Path: rel, Op: OpWrite, Time: time.Now()})
		}
		return nil
	})
	if walkErr != nil {
		return ckgerrors.NewIOError("watch "+dir, walkErr)
	}
	return nil
}

// readLoop converts raw fsnotify events into debounce-queue entries.
func (w *Watcher) readLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	rel, ok := w.relPath(ev.Name)
	if !ok {
		return
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if isDir(ev.Name) {
			// Register new directories immediately and sweep their
			// contents; files can land between mkdir and registration.
			if err := w.addTree(ev.Name, true); err != nil {
				w.logger.Warn("watch new directory", "path", rel, "error", err)
			}
			return
		}
		if !w.tracked(rel) {
			return
		}
		w.offer(Event{Path: rel, Op: OpWrite, Time: time.Now()})
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// The path is gone, so there is nothing to stat. Removals of
		// paths the graph never held fall through the store as no-ops.
		if !w.tracked(rel) {
			return
		}
		w.offer(Event{Path: rel, Op: OpRemove, Time: time.Now()})
	}
}

// tracked reports whether a change to rel should reach the graph.
func (w *Watcher) tracked(rel string) bool {
	if w.isCategoryFile(rel) {
		return true
	}
	_, supported := ingest.LanguageFromPath(rel)
	return supported
}

func (w *Watcher) isCategoryFile(rel string) bool {
	return w.cfg.Categories.Enabled && rel == w.cfg.Categories.FilePath
}

// relPath maps an absolute event path to its repo-relative form, dropping
// anything outside the root or under a dot or ignored segment.
func (w *Watcher) relPath(abs string) (string, bool) {
	rel, err := paths.Canonical(w.root, abs)
	if err != nil {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") || ingest.IgnoredName(w.cfg.Ingest.Ignore, seg) {
			return "", false
		}
	}
	return rel, true
}

// offer hands an event to the debounce loop without blocking. A dropped
// event leaves the graph behind until the next tree ingest, which is the
// standing recovery path for missed changes anyway.
func (w *Watcher) offer(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("watch buffer full, dropping event", "path", ev.Path)
	}
}

// flushLoop batches events and applies them once the debounce window
// passes without new activity. Whatever is still batched when the loop
// exits is applied on the way out so edits made just before shutdown are
// not lost.
func (w *Watcher) flushLoop(ctx context.Context) {
	defer w.wg.Done()

	var batch []Event
	var timer *time.Timer
	var expiry <-chan time.Time

	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			expiry = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background(), batch)
			return
		case <-w.done:
			w.flush(context.Background(), batch)
			return
		case ev := <-w.events:
			batch = append(batch, ev)
			arm()
		case <-expiry:
			timer = nil
			expiry = nil
			w.flush(ctx, batch)
			batch = nil
		}
	}
}

// flush deduplicates a batch and replays it through the target.
func (w *Watcher) flush(ctx context.Context, batch []Event) {
	events := dedupe(batch)
	if len(events) == 0 {
		return
	}

	var ingested, degraded, deleted, failed int
	syncCategories := false
	for _, ev := range events {
		if w.isCategoryFile(ev.Path) {
			syncCategories = true
			continue
		}
		op := ev.Op
		if op == OpWrite && !w.exists(ev.Path) {
			// Editors often save through a rename; the written file can
			// already be gone again by flush time.
			op = OpRemove
		}
		switch op {
		case OpRemove:
			if _, err := w.target.DeleteFile(ctx, ev.Path); err != nil {
				failed++
				w.logger.Warn("watch delete failed", "path", ev.Path, "error", err)
				continue
			}
			deleted++
		default:
			_, err := w.target.IngestFile(ctx, ev.Path)
			switch {
			case err == nil:
				ingested++
			case ckgerrors.HasCode(err, ckgerrors.ParseFailed):
				// Degraded files stay in the graph; the next clean save
				// heals them.
				ingested++
				degraded++
			default:
				failed++
				w.logger.Warn("watch ingest failed", "path", ev.Path, "error", err)
			}
		}
	}

	if syncCategories {
		if cs, ok := w.target.(categorySyncer); ok {
			if _, err := cs.SyncCategories(ctx); err != nil {
				w.logger.Warn("watch category sync failed", "error", err)
			}
		}
	}

	w.mu.Lock()
	w.ingested += ingested
	w.degraded += degraded
	w.deleted += deleted
	w.failed += failed
	w.lastFlush = time.Now()
	w.mu.Unlock()

	w.logger.Info("applied change batch",
		"events", len(events),
		"ingested", ingested,
		"deleted", deleted,
		"failed", failed)
}

func (w *Watcher) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(rel)))
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// dedupe keeps only the newest event per path, preserving first-seen
// order. A remove followed by a recreate collapses to the recreate.
func dedupe(batch []Event) []Event {
	seen := make(map[string]int, len(batch))
	out := make([]Event, 0, len(batch))
	for _, ev := range batch {
		if i, ok := seen[ev.Path]; ok {
			out[i] = ev
			continue
		}
		seen[ev.Path] = len(out)
		out = append(out, ev)
	}
	return out
}

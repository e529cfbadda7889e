package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ckg/internal/config"
	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
	"ckg/internal/store"
)

const (
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 30 * time.Second
	sweepInterval  = 10 * time.Second
)

// Indexer keeps the vector index in sync with the graph. Entity ids flow
// through a bounded queue into a worker pool; each worker loads the
// declaration, embeds its source text, and persists the vector. Work is
// at-least-once: an id that is dropped, fails, or crashes mid-flight stays
// pending in the store and the periodic sweep re-enqueues it.
type Indexer struct {
	store    *store.Store
	embedder Embedder
	index    *Index
	cfg      *config.Config
	logger   *slog.Logger

	queue chan string
	done  chan struct{}
	wg    sync.WaitGroup

	queryCache *lru.Cache[string, []float32]

	mu           sync.Mutex
	started      bool
	processed    int64
	failed       int64
	lastError    string
	pendingSince time.Time
}

func NewIndexer(st *store.Store, embedder Embedder, cfg *config.Config, logger *slog.Logger) (*Indexer, error) {
	cacheSize := cfg.Embedding.QueryCacheSize
	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, err
	}

	queueSize := cfg.Embedding.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	return &Indexer{
		store:      st,
		embedder:   embedder,
		index:      NewIndex(embedder.Model(), embedder.Dim()),
		cfg:        cfg,
		logger:     logger.With("component", "embed"),
		queue:      make(chan string, queueSize),
		done:       make(chan struct{}),
		queryCache: cache,
	}, nil
}

// Start warms the index from stored vectors, then launches the workers and
// the sweep loop. The context bounds only the warm start.
func (i *Indexer) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.started {
		i.mu.Unlock()
		return nil
	}
	i.started = true
	i.mu.Unlock()

	if err := i.warmStart(ctx); err != nil {
		return err
	}

	workers := i.cfg.Embedding.Workers
	if workers <= 0 {
		workers = 2
	}
	for w := 0; w < workers; w++ {
		i.wg.Add(1)
		go i.worker(w)
	}
	i.wg.Add(1)
	go i.sweepLoop()

	i.sweepOnce()

	i.logger.Info("embedding indexer started",
		"model", i.embedder.Model(),
		"dim", i.embedder.Dim(),
		"workers", workers,
		"warmed", i.index.Len())
	return nil
}

func (i *Indexer) warmStart(ctx context.Context) error {
	vectors, err := i.store.LoadEmbeddings(ctx, i.embedder.Model())
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}

	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	ents, err := i.store.EntitiesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for id, vec := range vectors {
		ent, ok := ents[id]
		if !ok {
			continue
		}
		if err := i.index.Upsert(id, ent.Kind, i.embedder.Model(), vec); err != nil {
			i.logger.Warn("skipping stored vector", "entity", id, "error", err)
		}
	}
	return nil
}

// Stop shuts the workers down. Queued ids are abandoned; they remain
// pending in the store and the next Start sweeps them up again.
func (i *Indexer) Stop(timeout time.Duration) error {
	i.mu.Lock()
	if !i.started {
		i.mu.Unlock()
		return nil
	}
	i.started = false
	i.mu.Unlock()

	close(i.done)

	finished := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		i.logger.Info("embedding indexer stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("embedding indexer shutdown timed out after %v", timeout)
	}
}

// Enqueue offers entity ids to the workers without blocking. When the
// queue is full the ids are dropped here; they stay pending in the store,
// so the sweep delivers them later. Ingestion must never wait on this.
func (i *Indexer) Enqueue(ids ...string) {
	for _, id := range ids {
		select {
		case i.queue <- id:
		default:
			i.logger.Debug("embedding queue full, deferring to sweep", "entity", id)
			return
		}
	}
}

func (i *Indexer) worker(id int) {
	defer i.wg.Done()
	for {
		select {
		case entityID := <-i.queue:
			i.process(entityID)
		case <-i.done:
			return
		}
	}
}

// process embeds one declaration, retrying transient backend failures with
// exponential backoff. Permanent failures and exhausted retries leave the
// row pending for a later sweep.
func (i *Indexer) process(entityID string) {
	ctx := context.Background()

	ent, err := i.store.GetEntity(ctx, entityID)
	if ckgerrors.HasCode(err, ckgerrors.EntityNotFound) {
		i.index.Delete(entityID)
		return
	}
	if err != nil {
		i.recordFailure(err)
		return
	}
	if !ent.IsDeclaration() {
		return
	}

	text := SourceText(ent, i.cfg.Embedding.SourceTextMaxChars)
	if text == "" {
		return
	}

	maxRetries := i.cfg.Embedding.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	for attempt := 0; ; attempt++ {
		vec, err := i.embedder.Embed(ctx, text)
		if err == nil {
			if err := i.store.UpsertEmbedding(ctx, entityID, i.embedder.Model(), vec); err != nil {
				i.recordFailure(err)
				return
			}
			if err := i.index.Upsert(entityID, ent.Kind, i.embedder.Model(), vec); err != nil {
				i.recordFailure(err)
				return
			}
			i.mu.Lock()
			i.processed++
			i.mu.Unlock()
			return
		}

		if !ckgerrors.HasCode(err, ckgerrors.EmbeddingUnavailable) || attempt >= maxRetries {
			i.recordFailure(err)
			i.logger.Warn("embedding failed, leaving entity pending",
				"entity", entityID, "attempts", attempt+1, "error", err)
			return
		}

		delay := retryBaseDelay * time.Duration(1<<uint(attempt))
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		select {
		case <-i.done:
			return
		case <-time.After(delay):
		}
	}
}

func (i *Indexer) recordFailure(err error) {
	i.mu.Lock()
	i.failed++
	i.lastError = err.Error()
	i.mu.Unlock()
}

func (i *Indexer) sweepLoop() {
	defer i.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			i.sweepOnce()
		case <-i.done:
			return
		}
	}
}

// sweepOnce re-enqueues declarations that still lack a fresh vector and
// tracks how long the backlog has been nonempty for the staleness SLA.
func (i *Indexer) sweepOnce() {
	pending, err := i.store.PendingEmbeddings(context.Background(), i.embedder.Model(), cap(i.queue))
	if err != nil {
		i.logger.Warn("pending embeddings sweep failed", "error", err)
		return
	}

	i.mu.Lock()
	if len(pending) == 0 {
		i.pendingSince = time.Time{}
	} else if i.pendingSince.IsZero() {
		i.pendingSince = time.Now()
	}
	i.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	ids := make([]string, len(pending))
	for n, ent := range pending {
		ids[n] = ent.ID
	}
	i.Enqueue(ids...)
}

// Search embeds the query text and ranks indexed declarations by cosine
// similarity. Query vectors are cached; the index is only read-locked, so
// searches proceed at full speed while indexing runs behind.
func (i *Indexer) Search(ctx context.Context, query string, topK int, kinds ...entity.Kind) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ckgerrors.New(ckgerrors.InvalidInput, "search query is empty", nil)
	}
	if topK <= 0 {
		topK = 10
	}

	vec, ok := i.queryCache.Get(query)
	if !ok {
		var err error
		vec, err = i.embedder.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		i.queryCache.Add(query, vec)
	}
	return i.index.Search(vec, topK, kinds...), nil
}

// Forget drops entities from the live index after their file left the
// graph. The store rows cascade with the entities themselves.
func (i *Indexer) Forget(ids ...string) {
	i.index.Delete(ids...)
}

// Reindex marks every stored vector stale so the sweep rebuilds them all.
// Existing in-memory vectors keep serving searches until each replacement
// lands.
func (i *Indexer) Reindex(ctx context.Context) error {
	if err := i.store.MarkAllEmbeddingsStale(ctx, i.embedder.Model()); err != nil {
		return err
	}
	i.sweepOnce()
	return nil
}

// Status describes indexer health for the status surface.
type Status struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	Dim         int    `json:"dim"`
	Indexed     int    `json:"indexed"`
	Pending     int    `json:"pending"`
	QueueLength int    `json:"queueLength"`
	Processed   int64  `json:"processed"`
	Failed      int64  `json:"failed"`
	LastError   string `json:"lastError,omitempty"`
	StaleFor    string `json:"staleFor,omitempty"`
	SLAViolated bool   `json:"slaViolated"`
}

func (i *Indexer) Status(ctx context.Context) (*Status, error) {
	pending, err := i.store.CountPendingEmbeddings(ctx, i.embedder.Model())
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	st := &Status{
		Provider:    i.cfg.Embedding.Provider,
		Model:       i.embedder.Model(),
		Dim:         i.embedder.Dim(),
		Indexed:     i.index.Len(),
		Pending:     pending,
		QueueLength: len(i.queue),
		Processed:   i.processed,
		Failed:      i.failed,
		LastError:   i.lastError,
	}
	if pending > 0 && !i.pendingSince.IsZero() {
		age := time.Since(i.pendingSince)
		st.StaleFor = age.Round(time.Second).String()
		sla := time.Duration(i.cfg.Embedding.StalenessSLASeconds) * time.Second
		st.SLAViolated = sla > 0 && age > sla
	}
	return st, nil
}

// NewEmbedderFromConfig picks the backend the config names.
func NewEmbedderFromConfig(cfg *config.Config) (Embedder, error) {
	switch cfg.Embedding.Provider {
	case "", "hash":
		return NewHashEmbedder(cfg.Embedding.Dimension), nil
	case "http":
		return NewHTTPEmbedder(cfg.Embedding), nil
	default:
		return nil, ckgerrors.New(ckgerrors.InvalidInput,
			fmt.Sprintf("unknown embedding provider %q", cfg.Embedding.Provider), nil)
	}
}

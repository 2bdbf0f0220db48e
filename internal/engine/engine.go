// Package engine is the coordinator that owns the episode buffer, the
// consolidation components, and UnifiedRecall, and orchestrates
// consolidation and compaction across them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scrypster/souvenir/internal/callbacks"
	"github.com/scrypster/souvenir/internal/config"
	"github.com/scrypster/souvenir/internal/consolidation"
	"github.com/scrypster/souvenir/internal/ids"
	"github.com/scrypster/souvenir/internal/recall"
	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

// embeddingBackfillBatch bounds how many unembedded memories a single
// consolidate pass will attempt to backfill, so one oversized batch can't
// monopolize the embedding callback.
const embeddingBackfillBatch = 200

// Engine owns the episode buffer, the component list, and the store
// handles, and orchestrates consolidation and compaction. It is safe for
// concurrent use.
type Engine struct {
	mu      sync.Mutex
	started bool

	store      storage.MemoryStore
	episodes   storage.EpisodeStore
	components []consolidation.Component
	recaller   *recall.UnifiedRecall
	embed      callbacks.EmbeddingFunc

	buffer         []types.Episode
	flushThreshold int

	compaction config.CompactionConfig

	logger *slog.Logger
}

// New constructs an Engine. Initialize must be called before Record,
// Consolidate, Recall, or Compact are used.
func New(
	store storage.MemoryStore,
	episodeStore storage.EpisodeStore,
	components []consolidation.Component,
	recaller *recall.UnifiedRecall,
	embed callbacks.EmbeddingFunc,
	flushThreshold int,
	compaction config.CompactionConfig,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if flushThreshold <= 0 {
		flushThreshold = 20
	}
	return &Engine{
		store:          store,
		episodes:       episodeStore,
		components:     components,
		recaller:       recaller,
		embed:          embed,
		flushThreshold: flushThreshold,
		compaction:     compaction,
		logger:         logger,
	}
}

// Initialize brings up every component in parallel. The store is assumed
// already open (construction is the store's own initialization point);
// this only initializes the components layered on top of it.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return fmt.Errorf("%w: no store configured", storage.ErrNotInitialized)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(e.components))
	for i, c := range e.components {
		wg.Add(1)
		go func(i int, c consolidation.Component) {
			defer wg.Done()
			errs[i] = c.Initialize(ctx)
		}(i, c)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("engine: initialize component %q: %w", e.components[i].Name(), err)
		}
	}

	e.started = true
	e.logger.Debug("engine: initialized", "components", len(e.components))
	return nil
}

func (e *Engine) requireStarted() error {
	if !e.started {
		return storage.ErrNotInitialized
	}
	return nil
}

// Record appends episode to the in-memory buffer, filling in ID, Timestamp,
// and Importance when the caller left them zero. If the buffer reaches the
// flush threshold, it is flushed synchronously.
func (e *Engine) Record(ctx context.Context, episode types.Episode) error {
	e.mu.Lock()
	if err := e.requireStarted(); err != nil {
		e.mu.Unlock()
		return err
	}

	if episode.ID == "" {
		episode.ID = ids.NewEpisodeID(episode.SessionID)
	}
	if episode.Timestamp.IsZero() {
		episode.Timestamp = time.Now().UTC()
	}
	if episode.Importance == 0 {
		episode.Importance = episode.Type.DefaultImportance()
	}

	e.buffer = append(e.buffer, episode)
	shouldFlush := len(e.buffer) >= e.flushThreshold
	e.mu.Unlock()

	if shouldFlush {
		return e.Flush(ctx)
	}
	return nil
}

// Flush snapshots and clears the buffer, then persists the snapshot. The
// clear happens before the insert so a record arriving while Insert is
// in-flight is never double-counted or lost.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if err := e.requireStarted(); err != nil {
		e.mu.Unlock()
		return err
	}
	snapshot := e.buffer
	e.buffer = nil
	e.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	if err := e.episodes.Insert(ctx, snapshot); err != nil {
		return fmt.Errorf("engine: flush: %w", err)
	}
	e.logger.Debug("engine: flushed buffer", "episodes", len(snapshot))
	return nil
}

// Consolidate runs one full consolidation pass: flush, fetch unconsolidated episodes, fan out to every
// component in parallel, mark the batch consolidated once every component
// has returned, then backfill embeddings for memories left without one.
func (e *Engine) Consolidate(ctx context.Context, llm callbacks.LLMFunc) ([]types.ConsolidationReport, error) {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return nil, storage.ErrNotInitialized
	}

	if err := e.Flush(ctx); err != nil {
		return nil, err
	}

	pending, err := e.episodes.FetchUnconsolidated(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch unconsolidated: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	reports := make([]types.ConsolidationReport, len(e.components))
	var wg sync.WaitGroup
	for i, c := range e.components {
		wg.Add(1)
		go func(i int, c consolidation.Component) {
			defer wg.Done()
			reports[i] = c.Consolidate(ctx, pending, llm)
		}(i, c)
	}
	wg.Wait()

	consolidatedIDs := make([]string, len(pending))
	for i, ep := range pending {
		consolidatedIDs[i] = ep.ID
	}
	if err := e.episodes.MarkConsolidated(ctx, consolidatedIDs); err != nil {
		return reports, fmt.Errorf("engine: mark consolidated: %w", err)
	}

	e.backfillEmbeddings(ctx)

	return reports, nil
}

// backfillEmbeddings embeds every active memory missing a vector. Failures
// are absorbed: embedding is never fatal to
// consolidation, the memory just stays FTS/entity-searchable.
func (e *Engine) backfillEmbeddings(ctx context.Context) {
	if e.embed == nil {
		return
	}

	unembedded, err := e.store.FindUnembeddedMemories(ctx, embeddingBackfillBatch)
	if err != nil {
		e.logger.Warn("engine: find unembedded memories failed", "error", err)
		return
	}

	for _, m := range unembedded {
		vec, err := e.embed(ctx, m.Content)
		if err != nil {
			e.logger.Warn("engine: embed backfill failed", "memory", m.ID, "error", fmt.Errorf("%w: %v", storage.ErrEmbedding, err))
			continue
		}
		if err := e.store.Update(ctx, m.ID, storage.MemoryUpdate{Embedding: &vec}); err != nil {
			e.logger.Warn("engine: embed backfill store update failed", "memory", m.ID, "error", err)
		}
	}
}

// Recall delegates to UnifiedRecall. budget <= 0 uses the configured
// default token budget.
func (e *Engine) Recall(ctx context.Context, query string, budget int) ([]types.RecallResult, error) {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return nil, storage.ErrNotInitialized
	}
	return e.recaller.Recall(ctx, query, budget)
}

// Stats delegates to the store.
func (e *Engine) Stats(ctx context.Context) (types.Stats, error) {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return types.Stats{}, storage.ErrNotInitialized
	}
	return e.store.Stats(ctx)
}

// Close flushes the buffer, closes every component in parallel, then
// closes both stores.
func (e *Engine) Close() error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return storage.ErrNotInitialized
	}

	if err := e.Flush(context.Background()); err != nil {
		e.logger.Warn("engine: flush during close failed", "error", err)
	}

	var wg sync.WaitGroup
	for _, c := range e.components {
		wg.Add(1)
		go func(c consolidation.Component) {
			defer wg.Done()
			if err := c.Close(); err != nil {
				e.logger.Warn("engine: component close failed", "component", c.Name(), "error", err)
			}
		}(c)
	}
	wg.Wait()

	var errs []error
	if err := e.episodes.Close(); err != nil {
		errs = append(errs, fmt.Errorf("episode store: %w", err))
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("memory store: %w", err))
	}

	e.mu.Lock()
	e.started = false
	e.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("engine: close: %v", errs)
	}
	return nil
}

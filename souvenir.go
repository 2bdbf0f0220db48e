// Package souvenir is a persistent, multi-signal memory engine for
// autonomous agents: record raw episodes, consolidate them into curated
// memories via a caller-supplied LLM, and recall them later by fusing
// full-text, vector, and entity-graph signals.
//
// New wires together a storage backend, the three reference consolidation
// components, and UnifiedRecall from an EngineConfig, returning a ready
// *engine.Engine. The caller supplies an LLMFunc (for Consolidate) and,
// optionally, an EmbeddingFunc (for the vector recall signal and embedding
// backfill) — souvenir never talks to a model provider directly.
package souvenir

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scrypster/souvenir/internal/callbacks"
	"github.com/scrypster/souvenir/internal/config"
	"github.com/scrypster/souvenir/internal/consolidation"
	"github.com/scrypster/souvenir/internal/engine"
	"github.com/scrypster/souvenir/internal/recall"
	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/internal/storage/postgres"
	"github.com/scrypster/souvenir/internal/storage/sqlite"
)

// Re-exported so callers outside this module don't need to import internal
// packages directly.
type (
	Engine          = engine.Engine
	EngineConfig    = config.EngineConfig
	LLMFunc         = callbacks.LLMFunc
	EmbeddingFunc   = callbacks.EmbeddingFunc
	ResilientConfig = callbacks.Config
)

// NewResilient wraps a caller-supplied LLMFunc/EmbeddingFunc with a circuit
// breaker and rate limiter (see internal/callbacks for the policy).
func NewResilient(name string, cfg ResilientConfig) *callbacks.Resilient {
	return callbacks.NewResilient(name, cfg)
}

// New constructs and initializes an Engine from cfg. embed may be nil — the
// engine then has no vector recall signal and performs no embedding
// backfill; recall still works through the FTS and entity signals.
func New(ctx context.Context, cfg *EngineConfig, embed EmbeddingFunc, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("souvenir: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	memStore, episodeStore, err := openStores(cfg.Storage)
	if err != nil {
		return nil, err
	}

	components := []consolidation.Component{
		consolidation.NewTaskMemory(memStore, cfg.Consolidation.TaskMaxItemsPerSession, cfg.Consolidation.FindSimilarLimit, logger),
		consolidation.NewDurableMemory(memStore, cfg.Consolidation.DurableDecayInactivePeriod, cfg.Consolidation.DurableDecayRate, cfg.Consolidation.DurableDecayFloor, cfg.Consolidation.FindSimilarLimit, logger),
		consolidation.NewEnvironmentalMemory(memStore, cfg.Consolidation.EnvironmentalDecayInactivePeriod, cfg.Consolidation.EnvironmentalDecayRate, cfg.Consolidation.EnvironmentalDecayFloor, cfg.Consolidation.FindSimilarLimit, logger),
	}

	recaller := recall.New(memStore, embed, cfg.Recall, logger)

	e := engine.New(memStore, episodeStore, components, recaller, embed, cfg.Engine.FlushThreshold, cfg.Compaction, logger)
	if err := e.Initialize(ctx); err != nil {
		_ = episodeStore.Close()
		_ = memStore.Close()
		return nil, fmt.Errorf("souvenir: initialize engine: %w", err)
	}

	return e, nil
}

// openStores selects and opens the backend named by cfg.StorageEngine.
func openStores(cfg config.StorageConfig) (storage.MemoryStore, storage.EpisodeStore, error) {
	switch cfg.StorageEngine {
	case "", "sqlite":
		memStore, err := sqlite.NewMemoryStore(cfg.DSN, cfg.TablePrefix, cfg.RequireEncryption)
		if err != nil {
			return nil, nil, fmt.Errorf("souvenir: open sqlite memory store: %w", err)
		}
		episodeStore, err := sqlite.NewEpisodeStore(cfg.DSN, cfg.TablePrefix)
		if err != nil {
			_ = memStore.Close()
			return nil, nil, fmt.Errorf("souvenir: open sqlite episode store: %w", err)
		}
		return memStore, episodeStore, nil

	case "postgres":
		memStore, err := postgres.NewMemoryStore(cfg.DSN, cfg.TablePrefix, cfg.RequireEncryption)
		if err != nil {
			return nil, nil, fmt.Errorf("souvenir: open postgres memory store: %w", err)
		}
		episodeStore, err := postgres.NewEpisodeStore(cfg.DSN, cfg.TablePrefix)
		if err != nil {
			_ = memStore.Close()
			return nil, nil, fmt.Errorf("souvenir: open postgres episode store: %w", err)
		}
		return memStore, episodeStore, nil

	default:
		return nil, nil, fmt.Errorf("souvenir: unknown storage engine %q", cfg.StorageEngine)
	}
}

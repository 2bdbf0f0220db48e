package consolidation

import (
	"context"
	"log/slog"
	"time"

	"github.com/scrypster/souvenir/internal/callbacks"
	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

// EnvironmentalMemory is the cross-session reference component extracting capability/constraint/environment/pattern items with no
// session expiry and a faster decay cadence than DurableMemory.
type EnvironmentalMemory struct {
	store               storage.MemoryStore
	decayInactivePeriod time.Duration
	decayRate           float64
	decayFloor          float64
	findSimilarLimit    int
	logger              *slog.Logger
}

// NewEnvironmentalMemory constructs an EnvironmentalMemory component.
// Defaults: inactivePeriod 14 days, decayRate 0.95, floor 0.1.
func NewEnvironmentalMemory(store storage.MemoryStore, decayInactivePeriod time.Duration, decayRate, decayFloor float64, findSimilarLimit int, logger *slog.Logger) *EnvironmentalMemory {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvironmentalMemory{
		store:               store,
		decayInactivePeriod: decayInactivePeriod,
		decayRate:           decayRate,
		decayFloor:          decayFloor,
		findSimilarLimit:    findSimilarLimit,
		logger:              logger,
	}
}

func (e *EnvironmentalMemory) Name() string { return types.ComponentEnvironmental }

func (e *EnvironmentalMemory) Initialize(ctx context.Context) error { return nil }

func (e *EnvironmentalMemory) Close() error { return nil }

func (e *EnvironmentalMemory) Consolidate(ctx context.Context, episodes []types.Episode, llm callbacks.LLMFunc) types.ConsolidationReport {
	report := types.ConsolidationReport{ComponentName: types.ComponentEnvironmental}

	if len(episodes) == 0 {
		e.applyDecay(ctx, &report)
		return report
	}
	report.EpisodesConsumed = len(episodes)

	transcript := buildTranscript(episodes)
	raw, err := llm(ctx, environmentalSystemPrompt, transcript)
	if err != nil {
		e.logger.Warn("environmental: llm call failed", "error", err)
		e.applyDecay(ctx, &report)
		return report
	}

	extraction, err := parseItems(raw)
	if err != nil {
		e.logger.Warn("environmental: response parse failed, skipping batch", "error", err)
		e.applyDecay(ctx, &report)
		return report
	}

	sourceIDs := episodeIDs(episodes)
	for _, it := range extraction.Items {
		category := it.Category
		if category == "" {
			category = types.CategoryPattern
		}
		outcome, err := resolveConflict(ctx, e.store, types.ComponentEnvironmental, resolvedItem{
			Content:          it.Content,
			Category:         category,
			Importance:       it.Importance,
			SourceEpisodeIDs: sourceIDs,
			Action:           it.Action,
		}, e.findSimilarLimit)
		if err != nil {
			e.logger.Warn("environmental: resolve conflict failed", "error", err)
			continue
		}
		tally(&report, outcome)
	}

	e.applyDecay(ctx, &report)
	return report
}

func (e *EnvironmentalMemory) applyDecay(ctx context.Context, report *types.ConsolidationReport) {
	floor := e.decayFloor
	crossed, err := e.store.ApplyImportanceDecay(ctx, types.ComponentEnvironmental, e.decayInactivePeriod, e.decayRate, &floor)
	if err != nil {
		e.logger.Warn("environmental: apply importance decay failed", "error", err)
		return
	}
	report.ItemsDecayed = crossed
}

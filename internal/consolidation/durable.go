package consolidation

import (
	"context"
	"log/slog"
	"time"

	"github.com/scrypster/souvenir/internal/callbacks"
	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

// DurableMemory is the cross-session reference component: a
// selective, high-bar extractor for fact/preference/knowledge items plus
// explicit entity/relationship extraction, with importance decay on every
// consolidation pass.
type DurableMemory struct {
	store               storage.MemoryStore
	decayInactivePeriod time.Duration
	decayRate           float64
	decayFloor          float64
	findSimilarLimit    int
	logger              *slog.Logger
}

// NewDurableMemory constructs a DurableMemory component. Defaults:
// inactivePeriod 90 days, decayRate 0.97, floor 0.05.
func NewDurableMemory(store storage.MemoryStore, decayInactivePeriod time.Duration, decayRate, decayFloor float64, findSimilarLimit int, logger *slog.Logger) *DurableMemory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DurableMemory{
		store:               store,
		decayInactivePeriod: decayInactivePeriod,
		decayRate:           decayRate,
		decayFloor:          decayFloor,
		findSimilarLimit:    findSimilarLimit,
		logger:              logger,
	}
}

func (d *DurableMemory) Name() string { return types.ComponentDurable }

func (d *DurableMemory) Initialize(ctx context.Context) error { return nil }

func (d *DurableMemory) Close() error { return nil }

func (d *DurableMemory) Consolidate(ctx context.Context, episodes []types.Episode, llm callbacks.LLMFunc) types.ConsolidationReport {
	report := types.ConsolidationReport{ComponentName: types.ComponentDurable}

	if len(episodes) == 0 {
		d.applyDecay(ctx, &report)
		return report
	}
	report.EpisodesConsumed = len(episodes)

	transcript := buildTranscript(episodes)
	raw, err := llm(ctx, durableSystemPrompt, transcript)
	if err != nil {
		d.logger.Warn("durable: llm call failed", "error", err)
		d.applyDecay(ctx, &report)
		return report
	}

	extraction, err := parseDurable(raw)
	if err != nil {
		d.logger.Warn("durable: response parse failed, skipping batch", "error", err)
		d.applyDecay(ctx, &report)
		return report
	}

	sourceIDs := episodeIDs(episodes)

	for _, fact := range extraction.Facts {
		entityIDs, err := upsertEntities(ctx, d.store, fact.Entities)
		if err != nil {
			d.logger.Warn("durable: upsert entities failed", "error", err)
			continue
		}

		category := fact.Category
		if category == "" {
			category = types.CategoryFact
		}

		outcome, err := resolveConflict(ctx, d.store, types.ComponentDurable, resolvedItem{
			Content:          fact.Content,
			Category:         category,
			Importance:       fact.Importance,
			EntityIDs:        entityIDs,
			SourceEpisodeIDs: sourceIDs,
			Action:           fact.Conflict,
		}, d.findSimilarLimit)
		if err != nil {
			d.logger.Warn("durable: resolve conflict failed", "error", err)
			continue
		}
		tally(&report, outcome)
	}

	for _, rel := range extraction.Relationships {
		if err := d.upsertRelationship(ctx, rel); err != nil {
			d.logger.Warn("durable: upsert relationship failed", "from", rel.From, "to", rel.To, "error", err)
		}
	}

	d.applyDecay(ctx, &report)
	return report
}

func (d *DurableMemory) upsertRelationship(ctx context.Context, rel RelationshipExtraction) error {
	from, err := d.store.UpsertEntity(ctx, &types.Entity{Name: rel.From})
	if err != nil {
		return err
	}
	to, err := d.store.UpsertEntity(ctx, &types.Entity{Name: rel.To})
	if err != nil {
		return err
	}
	return d.store.UpsertRelationship(ctx, &types.Relationship{
		FromEntityID: from.ID,
		ToEntityID:   to.ID,
		Relation:     rel.Relation,
		Confidence:   rel.Confidence,
		UpdatedAt:    time.Now().UTC(),
	})
}

func (d *DurableMemory) applyDecay(ctx context.Context, report *types.ConsolidationReport) {
	floor := d.decayFloor
	crossed, err := d.store.ApplyImportanceDecay(ctx, types.ComponentDurable, d.decayInactivePeriod, d.decayRate, &floor)
	if err != nil {
		d.logger.Warn("durable: apply importance decay failed", "error", err)
		return
	}
	report.ItemsDecayed = crossed
}

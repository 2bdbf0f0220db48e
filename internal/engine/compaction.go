package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

// Compact runs tombstone pruning, episode pruning, near-duplicate merging,
// and orphan graph pruning. It is idempotent: an immediate
// second call reports all-zero counts.
func (e *Engine) Compact(ctx context.Context) (types.CompactionReport, error) {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return types.CompactionReport{}, storage.ErrNotInitialized
	}

	var report types.CompactionReport
	now := time.Now().UTC()

	expired, err := e.store.DeleteTombstoned(ctx, types.StatusExpired, now.Add(-retentionOrDefault(e.compaction.ExpiredRetention, 7*24*time.Hour)))
	if err != nil {
		return report, err
	}
	report.ExpiredDeleted = expired

	superseded, err := e.store.DeleteTombstoned(ctx, types.StatusSuperseded, now.Add(-retentionOrDefault(e.compaction.SupersededRetention, 30*24*time.Hour)))
	if err != nil {
		return report, err
	}
	report.SupersededDeleted = superseded

	decayed, err := e.store.DeleteTombstoned(ctx, types.StatusDecayed, now.Add(-retentionOrDefault(e.compaction.DecayedRetention, 14*24*time.Hour)))
	if err != nil {
		return report, err
	}
	report.DecayedDeleted = decayed

	episodesDeleted, err := e.episodes.DeleteConsolidatedBefore(ctx, now.Add(-retentionOrDefault(e.compaction.EpisodeRetention, 90*24*time.Hour)))
	if err != nil {
		return report, err
	}
	report.EpisodesDeleted = episodesDeleted

	merged, err := e.mergeNearDuplicates(ctx)
	if err != nil {
		return report, err
	}
	report.DuplicatesMerged = merged

	orphanEntities, err := e.store.DeleteOrphanedEntities(ctx)
	if err != nil {
		return report, err
	}
	report.OrphanedEntitiesDeleted = orphanEntities

	orphanRels, err := e.store.DeleteOrphanedRelationships(ctx)
	if err != nil {
		return report, err
	}
	report.OrphanedRelationshipsDeleted = orphanRels

	return report, nil
}

func retentionOrDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// mergeNearDuplicates folds near-identical memories into the stronger of
// each pair via cosine clustering. Skipped entirely if no
// embedding provider is configured or the deduplication threshold is nil.
func (e *Engine) mergeNearDuplicates(ctx context.Context) (int, error) {
	if e.embed == nil || e.compaction.DeduplicationThreshold == nil {
		return 0, nil
	}
	threshold := *e.compaction.DeduplicationThreshold

	memories, err := e.store.LoadActiveWithEmbeddings(ctx)
	if err != nil {
		return 0, err
	}

	sort.SliceStable(memories, func(i, j int) bool {
		return survivalScore(memories[i]) > survivalScore(memories[j])
	})

	superseded := make(map[string]bool, len(memories))
	merged := 0

	for i := range memories {
		if superseded[memories[i].ID] {
			continue
		}
		higher := memories[i]
		for j := i + 1; j < len(memories); j++ {
			if superseded[memories[j].ID] {
				continue
			}
			lower := memories[j]
			if cosineSimilarity(higher.Embedding, lower.Embedding) < threshold {
				continue
			}

			if err := e.store.Supersede(ctx, lower.ID, higher.ID); err != nil {
				return merged, err
			}
			entityIDs := unionStrings(higher.EntityIDs, lower.EntityIDs)
			sourceIDs := unionStrings(higher.SourceEpisodeIDs, lower.SourceEpisodeIDs)
			if err := e.store.Update(ctx, higher.ID, storage.MemoryUpdate{
				EntityIDs:        &entityIDs,
				SourceEpisodeIDs: &sourceIDs,
			}); err != nil {
				return merged, err
			}

			superseded[lower.ID] = true
			merged++
		}
	}

	return merged, nil
}

// survivalScore ranks which side of a near-duplicate pair survives:
// importance weighted by an access-frequency boost.
func survivalScore(m types.StoredMemory) float64 {
	return m.Importance * (1 + math.Log(1+float64(m.AccessCount))*0.1)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

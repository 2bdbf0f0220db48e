// Package recall implements UnifiedRecall: multi-signal
// retrieval fusing full-text, vector, and entity-graph signals into a
// ranked, deduplicated, budget-trimmed result list.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/scrypster/souvenir/internal/callbacks"
	"github.com/scrypster/souvenir/internal/config"
	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

// UnifiedRecall is the single multi-signal recall pipeline shared by every
// consumer of the engine. It holds no state of its own beyond its tunables
// — the store is the only source of truth.
type UnifiedRecall struct {
	store  storage.MemoryStore
	embed  callbacks.EmbeddingFunc // nil disables the vector signal
	cfg    config.RecallConfig
	logger *slog.Logger
}

// New constructs a UnifiedRecall. embed may be nil — the vector signal then
// contributes nothing and recall degrades gracefully to FTS+entity.
func New(store storage.MemoryStore, embed callbacks.EmbeddingFunc, cfg config.RecallConfig, logger *slog.Logger) *UnifiedRecall {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnifiedRecall{store: store, embed: embed, cfg: cfg, logger: logger}
}

type candidate struct {
	memory      types.StoredMemory
	ftsScore    float64
	vectorScore float64
	entityScore float64
}

// Recall gathers the three signals, fuses and ranks them, and returns at most
// topK results, budget-trimmed, with access stats updated for every
// returned memory.
func (r *UnifiedRecall) Recall(ctx context.Context, query string, tokenBudget int) ([]types.RecallResult, error) {
	if tokenBudget <= 0 {
		tokenBudget = r.cfg.DefaultTokenBudget
	}

	candidates := map[string]*candidate{}

	r.gatherFTS(ctx, query, candidates)
	r.gatherVector(ctx, query, candidates)
	r.gatherEntity(ctx, query, candidates)

	if len(candidates) == 0 {
		return nil, nil
	}

	results := r.fuse(candidates)

	results = filterByThreshold(results, r.cfg.RelevanceThreshold)
	results = dedupeByContent(results)
	results = capTopK(results, r.cfg.TopK)
	results = trimToBudget(results, tokenBudget, r.charsPerToken())

	if len(results) > 0 {
		ids := make([]string, len(results))
		for i, res := range results {
			ids[i] = res.Memory.ID
		}
		if err := r.store.UpdateAccessStats(ctx, ids); err != nil {
			r.logger.Warn("recall: update access stats failed", "error", err)
		}
	}

	return results, nil
}

func (r *UnifiedRecall) charsPerToken() int {
	if r.cfg.CharsPerToken <= 0 {
		return 4
	}
	return r.cfg.CharsPerToken
}

// gatherFTS runs the BM25 signal. Failure is absorbed:
// an empty/errored FTS call simply contributes no candidates.
func (r *UnifiedRecall) gatherFTS(ctx context.Context, query string, candidates map[string]*candidate) {
	limit := r.cfg.FtsCandidateLimit
	if limit <= 0 {
		limit = 50
	}
	scored, err := r.store.SearchFTS(ctx, query, limit)
	if err != nil {
		r.logger.Warn("recall: fts signal degraded", "error", fmt.Errorf("%w: %v", storage.ErrSignalDegraded, err))
		return
	}
	if len(scored) == 0 {
		return
	}

	max := scored[0].Score
	for _, s := range scored {
		if s.Score > max {
			max = s.Score
		}
	}

	for _, s := range scored {
		norm := 0.0
		if max > 0 {
			norm = s.Score / max
		}
		c := candidateFor(candidates, s.Memory)
		c.ftsScore = norm
	}
}

// gatherVector runs the vector signal. Absent or
// failing embedding provider degrades gracefully to zero contribution.
func (r *UnifiedRecall) gatherVector(ctx context.Context, query string, candidates map[string]*candidate) {
	if r.embed == nil {
		return
	}

	queryVec, err := r.embed(ctx, query)
	if err != nil {
		r.logger.Warn("recall: vector signal degraded (embed query)", "error", fmt.Errorf("%w: %v", storage.ErrSignalDegraded, err))
		return
	}

	memories, err := r.store.LoadActiveWithEmbeddings(ctx)
	if err != nil {
		r.logger.Warn("recall: vector signal degraded (load embeddings)", "error", fmt.Errorf("%w: %v", storage.ErrSignalDegraded, err))
		return
	}

	limit := r.cfg.VectorCandidateLimit
	if limit <= 0 {
		limit = 20
	}
	if len(memories) > limit {
		memories = memories[:limit] // already importance-ordered by the store
	}

	for _, m := range memories {
		sim := cosineSimilarity(queryVec, m.Embedding)
		if sim <= 0 {
			continue
		}
		c := candidateFor(candidates, m)
		c.vectorScore = sim
	}
}

// maxDirectEntities and maxNeighborEdges bound the one-hop entity-graph
// expansion so a query matching a hub entity can't walk an unbounded
// fan-out of relationships on every recall call.
const (
	maxDirectEntities = 50
	maxNeighborEdges  = 500
)

// gatherEntity runs the entity-graph signal: direct
// name matches score 1.0, one-hop relationship neighbours score at their
// relationship confidence (or the existing score if higher).
func (r *UnifiedRecall) gatherEntity(ctx context.Context, query string, candidates map[string]*candidate) {
	directEntities, err := r.store.FindEntitiesByName(ctx, query)
	if err != nil {
		r.logger.Warn("recall: entity signal degraded (findEntitiesByName)", "error", fmt.Errorf("%w: %v", storage.ErrSignalDegraded, err))
		return
	}
	if len(directEntities) == 0 {
		return
	}
	if len(directEntities) > maxDirectEntities {
		r.logger.Warn("recall: entity signal bounds exceeded, truncating direct matches",
			"error", storage.ErrGraphBoundsExceeded, "matched", len(directEntities), "cap", maxDirectEntities)
		directEntities = directEntities[:maxDirectEntities]
	}

	entityScores := map[string]float64{}
	for _, e := range directEntities {
		entityScores[e.ID] = 1.0
	}

	edgesVisited := 0
	for _, e := range directEntities {
		if edgesVisited >= maxNeighborEdges {
			r.logger.Warn("recall: entity signal bounds exceeded, stopping one-hop expansion",
				"error", storage.ErrGraphBoundsExceeded, "cap", maxNeighborEdges)
			break
		}
		rels, err := r.store.FindRelationshipsForEntity(ctx, e.ID)
		if err != nil {
			r.logger.Warn("recall: entity signal degraded (findRelationshipsForEntity)", "entity", e.ID, "error", fmt.Errorf("%w: %v", storage.ErrSignalDegraded, err))
			continue
		}
		for _, rel := range rels {
			if edgesVisited >= maxNeighborEdges {
				break
			}
			edgesVisited++
			neighbor := rel.ToEntityID
			if neighbor == e.ID {
				neighbor = rel.FromEntityID
			}
			if rel.Confidence > entityScores[neighbor] {
				entityScores[neighbor] = rel.Confidence
			}
		}
	}

	allIDs := make([]string, 0, len(entityScores))
	for id := range entityScores {
		allIDs = append(allIDs, id)
	}

	memories, err := r.store.FindMemoriesByEntityIDs(ctx, allIDs)
	if err != nil {
		r.logger.Warn("recall: entity signal degraded (findMemoriesByEntityIds)", "error", fmt.Errorf("%w: %v", storage.ErrSignalDegraded, err))
		return
	}

	for _, m := range memories {
		best := 0.0
		for _, eid := range m.EntityIDs {
			if s, ok := entityScores[eid]; ok && s > best {
				best = s
			}
		}
		if best <= 0 {
			continue
		}
		c := candidateFor(candidates, m)
		c.entityScore = best
	}
}

func candidateFor(candidates map[string]*candidate, m types.StoredMemory) *candidate {
	c, ok := candidates[m.ID]
	if !ok {
		c = &candidate{memory: m}
		candidates[m.ID] = c
	}
	return c
}

// fuse applies the weighted linear fusion and every multiplicative score
// adjustment.
func (r *UnifiedRecall) fuse(candidates map[string]*candidate) []types.RecallResult {
	ftsWeight, vectorWeight, entityWeight := r.cfg.FtsWeight, r.cfg.VectorWeight, r.cfg.EntityWeight
	if ftsWeight == 0 && vectorWeight == 0 && entityWeight == 0 {
		ftsWeight, vectorWeight, entityWeight = 1.0, 1.5, 0.8
	}
	lambda := r.cfg.TemporalDecayLambda
	if lambda == 0 {
		lambda = 0.005
	}

	now := time.Now().UTC()
	results := make([]types.RecallResult, 0, len(candidates))

	for _, c := range candidates {
		raw := ftsWeight*c.ftsScore + vectorWeight*c.vectorScore + entityWeight*c.entityScore

		if w, ok := r.cfg.ComponentWeights[c.memory.Component]; ok {
			raw *= w
		}

		raw *= c.memory.Importance

		ageDays := now.Sub(c.memory.UpdatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		raw *= math.Exp(-lambda * ageDays)

		raw *= 1 + math.Log(1+float64(c.memory.AccessCount))*0.1

		results = append(results, types.RecallResult{
			Memory:      c.memory,
			FTSScore:    c.ftsScore,
			VectorScore: c.vectorScore,
			EntityScore: c.entityScore,
			FinalScore:  raw,
		})
	}

	return results
}

func filterByThreshold(results []types.RecallResult, threshold float64) []types.RecallResult {
	out := results[:0:0]
	for _, r := range results {
		if r.FinalScore >= threshold {
			out = append(out, r)
		}
	}
	return out
}

// dedupeByContent sorts by score descending then keeps only the first
// occurrence of each distinct content string.
func dedupeByContent(results []types.RecallResult) []types.RecallResult {
	sort.SliceStable(results, func(i, j int) bool { return results[i].FinalScore > results[j].FinalScore })

	seen := make(map[string]bool, len(results))
	out := results[:0:0]
	for _, r := range results {
		if seen[r.Memory.Content] {
			continue
		}
		seen[r.Memory.Content] = true
		out = append(out, r)
	}
	return out
}

func capTopK(results []types.RecallResult, topK int) []types.RecallResult {
	if topK <= 0 {
		topK = 20
	}
	if len(results) > topK {
		return results[:topK]
	}
	return results
}

// trimToBudget walks the ranked survivors accumulating estimated tokens
// until the next item would exceed budget, always including at least the
// first item.
func trimToBudget(results []types.RecallResult, budget, charsPerToken int) []types.RecallResult {
	if len(results) == 0 {
		return results
	}

	out := []types.RecallResult{results[0]}
	spent := estimateTokens(results[0].Memory.Content, charsPerToken)

	for _, r := range results[1:] {
		cost := estimateTokens(r.Memory.Content, charsPerToken)
		if spent+cost > budget {
			break
		}
		out = append(out, r)
		spent += cost
	}
	return out
}

func estimateTokens(content string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return int(math.Ceil(float64(len(content)) / float64(charsPerToken)))
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

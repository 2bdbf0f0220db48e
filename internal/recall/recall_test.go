package recall_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/souvenir/internal/config"
	"github.com/scrypster/souvenir/internal/recall"
	"github.com/scrypster/souvenir/internal/storage/sqlite"
	"github.com/scrypster/souvenir/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.MemoryStore {
	t.Helper()
	s, err := sqlite.NewMemoryStore(":memory:", "", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func defaultCfg() config.RecallConfig {
	return config.RecallConfig{
		FtsWeight:            1.0,
		VectorWeight:         1.5,
		EntityWeight:         0.8,
		ComponentWeights:     map[string]float64{},
		TemporalDecayLambda:  0.005,
		RelevanceThreshold:   0.05,
		TopK:                 20,
		DefaultTokenBudget:   2000,
		FtsCandidateLimit:    50,
		VectorCandidateLimit: 20,
		CharsPerToken:        4,
	}
}

func seedMemory(t *testing.T, store *sqlite.MemoryStore, m types.StoredMemory) {
	t.Helper()
	if m.Status == "" {
		m.Status = types.StatusActive
	}
	if m.Importance == 0 {
		m.Importance = 0.5
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	require.NoError(t, store.Insert(context.Background(), &m))
}

// fakeEmbed returns a fixed-dimension vector derived deterministically from
// text so semantically related strings can be made to cluster by test
// fixtures without a real model.
func fakeEmbed(vectors map[string][]float32) func(ctx context.Context, text string) ([]float32, error) {
	return func(ctx context.Context, text string) ([]float32, error) {
		if v, ok := vectors[text]; ok {
			return v, nil
		}
		return []float32{0, 0, 0}, nil
	}
}

func TestUnifiedRecall_SemanticBridging(t *testing.T) {
	store := newTestStore(t)

	seedMemory(t, store, types.StoredMemory{
		ID: "m1", Content: "the deployment pipeline uses canary releases",
		Component: types.ComponentDurable, Category: types.CategoryFact,
		Embedding: []float32{1, 0, 0},
	})
	seedMemory(t, store, types.StoredMemory{
		ID: "m2", Content: "unrelated note about lunch plans",
		Component: types.ComponentDurable, Category: types.CategoryFact,
		Embedding: []float32{0, 1, 0},
	})

	embed := fakeEmbed(map[string][]float32{"how do we ship safely": {1, 0, 0}})
	r := recall.New(store, embed, defaultCfg(), nil)

	results, err := r.Recall(context.Background(), "how do we ship safely", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "m1", results[0].Memory.ID)
	assert.Greater(t, results[0].VectorScore, 0.9)
}

func TestUnifiedRecall_PureFTSWithoutEmbedder(t *testing.T) {
	store := newTestStore(t)

	seedMemory(t, store, types.StoredMemory{
		ID: "m1", Content: "rollback procedure for the payments service",
		Component: types.ComponentDurable, Category: types.CategoryFact,
	})

	r := recall.New(store, nil, defaultCfg(), nil)

	results, err := r.Recall(context.Background(), "rollback payments", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].Memory.ID)
	assert.Zero(t, results[0].VectorScore)
	assert.Greater(t, results[0].FTSScore, 0.0)
}

func TestUnifiedRecall_EntityGraphExpansion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alice, err := store.UpsertEntity(ctx, &types.Entity{Name: "Alice", Type: "person"})
	require.NoError(t, err)
	bob, err := store.UpsertEntity(ctx, &types.Entity{Name: "Bob", Type: "person"})
	require.NoError(t, err)

	require.NoError(t, store.UpsertRelationship(ctx, &types.Relationship{
		FromEntityID: alice.ID, ToEntityID: bob.ID, Relation: "manages", Confidence: 0.9,
		UpdatedAt: time.Now().UTC(),
	}))

	seedMemory(t, store, types.StoredMemory{
		ID: "m1", Content: "this memory is about bob's onboarding, no literal query terms here",
		Component: types.ComponentDurable, Category: types.CategoryFact,
		EntityIDs: []string{bob.ID},
	})

	r := recall.New(store, nil, defaultCfg(), nil)

	results, err := r.Recall(context.Background(), "Alice", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "m1", results[0].Memory.ID)
	assert.Greater(t, results[0].EntityScore, 0.0)
}

func TestUnifiedRecall_BelowThresholdIsSilent(t *testing.T) {
	store := newTestStore(t)

	seedMemory(t, store, types.StoredMemory{
		ID: "m1", Content: "completely unrelated content about gardening",
		Component: types.ComponentDurable, Category: types.CategoryFact,
	})

	cfg := defaultCfg()
	cfg.RelevanceThreshold = 999 // unreachable threshold forces silence

	r := recall.New(store, nil, cfg, nil)

	results, err := r.Recall(context.Background(), "gardening", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUnifiedRecall_SignalBreakdownObservability(t *testing.T) {
	store := newTestStore(t)

	seedMemory(t, store, types.StoredMemory{
		ID: "m1", Content: "multi signal memory about release trains",
		Component: types.ComponentDurable, Category: types.CategoryFact,
		Embedding: []float32{1, 0, 0},
	})

	embed := fakeEmbed(map[string][]float32{"release trains": {1, 0, 0}})
	r := recall.New(store, embed, defaultCfg(), nil)

	results, err := r.Recall(context.Background(), "release trains", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Greater(t, res.FTSScore, 0.0)
	assert.Greater(t, res.VectorScore, 0.0)
	assert.Equal(t, res.FinalScore, res.FinalScore) // sanity: fused score is finite/comparable
	assert.NotZero(t, res.FinalScore)
}

func TestUnifiedRecall_UpdatesAccessStats(t *testing.T) {
	store := newTestStore(t)

	seedMemory(t, store, types.StoredMemory{
		ID: "m1", Content: "a memory whose access stats should be bumped",
		Component: types.ComponentTask, Category: types.CategoryContext, SessionID: "s1",
	})

	r := recall.New(store, nil, defaultCfg(), nil)
	_, err := r.Recall(context.Background(), "access stats bumped", 0)
	require.NoError(t, err)

	active, err := store.ActiveItemsForSession(context.Background(), "s1", types.ComponentTask)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].AccessCount)
}

func TestUnifiedRecall_TokenBudgetAlwaysIncludesFirstItem(t *testing.T) {
	store := newTestStore(t)

	longContent := ""
	for i := 0; i < 5000; i++ {
		longContent += "x"
	}

	seedMemory(t, store, types.StoredMemory{
		ID: "m1", Content: longContent + " budget marker",
		Component: types.ComponentDurable, Category: types.CategoryFact,
	})

	r := recall.New(store, nil, defaultCfg(), nil)
	results, err := r.Recall(context.Background(), "budget marker", 1)
	require.NoError(t, err)
	require.Len(t, results, 1, "the single best item must survive even when it alone exceeds the budget")
}

func TestUnifiedRecall_NoSignalMatchesReturnsEmpty(t *testing.T) {
	store := newTestStore(t)

	seedMemory(t, store, types.StoredMemory{
		ID: "m1", Content: "notes about the deployment pipeline",
		Component: types.ComponentDurable, Category: types.CategoryFact,
		Embedding: []float32{1, 0, 0},
	})

	embed := fakeEmbed(map[string][]float32{"quantum entanglement": {0, 0, 1}})
	r := recall.New(store, embed, defaultCfg(), nil)

	results, err := r.Recall(context.Background(), "quantum entanglement", 0)
	require.NoError(t, err)
	assert.Empty(t, results, "no FTS match, orthogonal embedding, no entity: silence is the correct result")
}

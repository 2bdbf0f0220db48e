package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/internal/storage/postgres"
	"github.com/scrypster/souvenir/pkg/types"
)

// postgresTestDSN returns the DSN for the test database. Tests are skipped
// entirely when it is not set, since they require a real pgvector-enabled
// PostgreSQL instance rather than an in-process fake.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

var prefixCounter int

// newTestStore opens a MemoryStore under a unique table prefix per test so
// parallel/successive runs never collide on the same database.
func newTestStore(t *testing.T) *postgres.MemoryStore {
	t.Helper()
	dsn := postgresTestDSN(t)
	prefixCounter++
	prefix := fmt.Sprintf("souvenir_test_%d_%d_", time.Now().UnixNano(), prefixCounter)

	s, err := postgres.NewMemoryStore(dsn, prefix, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedMemory(t *testing.T, s *postgres.MemoryStore, id, content, component string) types.StoredMemory {
	t.Helper()
	now := time.Now().UTC()
	m := types.StoredMemory{
		ID:         id,
		Content:    content,
		Component:  component,
		Category:   "test",
		Importance: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
		Status:     types.StatusActive,
	}
	require.NoError(t, s.Insert(context.Background(), &m))
	return m
}

func TestInsert_DuplicateIDFails(t *testing.T) {
	s := newTestStore(t)
	seedMemory(t, s, "m1", "hello world", types.ComponentDurable)

	dup := types.StoredMemory{ID: "m1", Content: "other", Component: types.ComponentDurable, Status: types.StatusActive}
	err := s.Insert(context.Background(), &dup)
	assert.ErrorIs(t, err, storage.ErrStoreInvariantViolation)
}

func TestUpdate_UnknownIDReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	content := "x"
	err := s.Update(context.Background(), "missing", storage.MemoryUpdate{Content: &content})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSearchFTS_RanksByTsRank(t *testing.T) {
	s := newTestStore(t)
	seedMemory(t, s, "m1", "the quick brown fox jumps over the lazy dog", types.ComponentTask)
	seedMemory(t, s, "m2", "unrelated content about spreadsheets", types.ComponentTask)

	results, err := s.SearchFTS(context.Background(), "quick fox", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].Memory.ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearchFTS_ExcludesInactiveAndExpired(t *testing.T) {
	s := newTestStore(t)
	seedMemory(t, s, "m1", "alpha beta gamma", types.ComponentTask)
	require.NoError(t, s.ExpireItem(context.Background(), "m1"))

	results, err := s.SearchFTS(context.Background(), "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFindSimilar_ScopedToComponent(t *testing.T) {
	s := newTestStore(t)
	seedMemory(t, s, "m1", "likes rabbits as pets", types.ComponentDurable)
	seedMemory(t, s, "m2", "likes rabbits as pets", types.ComponentTask)

	found, err := s.FindSimilar(context.Background(), "rabbits pets", types.ComponentDurable, "", "", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "m1", found[0].ID)
}

func TestUpsertEntity_CaseInsensitiveDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1, err := s.UpsertEntity(ctx, &types.Entity{Name: "Alice", Type: "person"})
	require.NoError(t, err)

	e2, err := s.UpsertEntity(ctx, &types.Entity{Name: "ALICE", Type: "person"})
	require.NoError(t, err)

	assert.Equal(t, e1.ID, e2.ID)
}

func TestApplyImportanceDecay_TransitionsBelowFloor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	m := types.StoredMemory{
		ID: "m1", Content: "stale", Component: types.ComponentEnvironmental,
		Importance: 0.1, CreatedAt: old, UpdatedAt: old, Status: types.StatusActive,
	}
	require.NoError(t, s.Insert(ctx, &m))

	floor := 0.05
	crossed, err := s.ApplyImportanceDecay(ctx, types.ComponentEnvironmental, time.Hour, 0.3, &floor)
	require.NoError(t, err)
	assert.Equal(t, 1, crossed)

	count, err := s.ActiveItemCount(ctx, types.ComponentEnvironmental, "")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestExpireSession_OnlyAffectsMatchingSessionAndComponent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s1 := types.StoredMemory{ID: "a", Content: "a", Component: types.ComponentTask, SessionID: "S1", CreatedAt: now, UpdatedAt: now, Status: types.StatusActive}
	s2 := types.StoredMemory{ID: "b", Content: "b", Component: types.ComponentTask, SessionID: "S2", CreatedAt: now, UpdatedAt: now, Status: types.StatusActive}
	require.NoError(t, s.Insert(ctx, &s1))
	require.NoError(t, s.Insert(ctx, &s2))

	count, err := s.ExpireSession(ctx, "S1", types.ComponentTask)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	active, err := s.ActiveItemsForSession(ctx, "S2", types.ComponentTask)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestDeleteOrphanedEntitiesAndRelationships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.UpsertEntity(ctx, &types.Entity{Name: "A", Type: "x"})
	require.NoError(t, err)
	b, err := s.UpsertEntity(ctx, &types.Entity{Name: "B", Type: "x"})
	require.NoError(t, err)
	_, err = s.UpsertEntity(ctx, &types.Entity{Name: "Orphan", Type: "x"})
	require.NoError(t, err)
	require.NoError(t, s.UpsertRelationship(ctx, &types.Relationship{
		FromEntityID: a.ID, ToEntityID: b.ID, Relation: "knows", Confidence: 1, UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.UpsertRelationship(ctx, &types.Relationship{
		FromEntityID: a.ID, ToEntityID: "never-existed", Relation: "knows", Confidence: 1, UpdatedAt: time.Now().UTC(),
	}))

	// A and B are kept alive by their relationship; only the unreferenced
	// entity goes.
	removedEntities, err := s.DeleteOrphanedEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removedEntities)

	// Only the edge with a missing endpoint goes.
	removedRels, err := s.DeleteOrphanedRelationships(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removedRels)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	vec := []float32{0.1, -0.2, 0.3, 0.0}
	m := types.StoredMemory{
		ID: "m1", Content: "vector holder", Component: types.ComponentDurable,
		CreatedAt: now, UpdatedAt: now, Status: types.StatusActive, Embedding: vec,
	}
	require.NoError(t, s.Insert(ctx, &m))

	loaded, err := s.LoadActiveWithEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.InDeltaSlice(t, vec, loaded[0].Embedding, 1e-6)
}

func TestVectorSearch_OrdersByCosineSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	near := types.StoredMemory{ID: "near", Content: "near", Component: types.ComponentDurable, CreatedAt: now, UpdatedAt: now, Status: types.StatusActive, Embedding: []float32{1, 0, 0}}
	far := types.StoredMemory{ID: "far", Content: "far", Component: types.ComponentDurable, CreatedAt: now, UpdatedAt: now, Status: types.StatusActive, Embedding: []float32{0, 1, 0}}
	require.NoError(t, s.Insert(ctx, &near))
	require.NoError(t, s.Insert(ctx, &far))

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].Memory.ID)
}

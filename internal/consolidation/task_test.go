package consolidation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/souvenir/internal/consolidation"
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

func episode(sessionID, content string, typ types.EpisodeType, t time.Time) types.Episode {
	return types.Episode{
		ID:        "ep-" + sessionID + "-" + content,
		SessionID: sessionID,
		Timestamp: t,
		Type:      typ,
		Content:   content,
	}
}

func TestTaskMemory_ExtractsNewItems(t *testing.T) {
	store := newTestStore(t)
	tm := consolidation.NewTaskMemory(store, 50, 5, nil)

	episodes := []types.Episode{
		episode("s1", "plan the rollout", types.EpisodeDecision, time.Now()),
	}

	llm := func(ctx context.Context, sys, user string) (string, error) {
		return `{"items": [{"content": "rollout plan decided", "category": "decision", "importance": 0.7, "action": "new"}]}`, nil
	}

	report := tm.Consolidate(context.Background(), episodes, llm)
	assert.Equal(t, 1, report.ItemsCreated)
	assert.Equal(t, 1, report.EpisodesConsumed)

	active, err := store.ActiveItemsForSession(context.Background(), "s1", types.ComponentTask)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "rollout plan decided", active[0].Content)
}

func TestTaskMemory_SessionTransitionExpiresPrevious(t *testing.T) {
	store := newTestStore(t)
	tm := consolidation.NewTaskMemory(store, 50, 5, nil)

	llm := func(ctx context.Context, sys, user string) (string, error) {
		return `{"items": [{"content": "item for this session", "category": "context", "importance": 0.6, "action": "new"}]}`, nil
	}

	_ = tm.Consolidate(context.Background(), []types.Episode{
		episode("s1", "hello", types.EpisodeConversation, time.Now()),
	}, llm)

	_ = tm.Consolidate(context.Background(), []types.Episode{
		episode("s2", "hello again", types.EpisodeConversation, time.Now()),
	}, llm)

	count, err := store.ActiveItemCount(context.Background(), types.ComponentTask, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "s1 items must be expired after s2 begins")

	count2, err := store.ActiveItemCount(context.Background(), types.ComponentTask, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, count2)
}

func TestTaskMemory_CapEvictsLowestImportance(t *testing.T) {
	store := newTestStore(t)
	tm := consolidation.NewTaskMemory(store, 1, 5, nil)

	calls := 0
	llm := func(ctx context.Context, sys, user string) (string, error) {
		calls++
		if calls == 1 {
			return `{"items": [{"content": "low importance item", "category": "context", "importance": 0.1, "action": "new"}]}`, nil
		}
		return `{"items": [{"content": "high importance item", "category": "goal", "importance": 0.9, "action": "new"}]}`, nil
	}

	_ = tm.Consolidate(context.Background(), []types.Episode{
		episode("s1", "one", types.EpisodeConversation, time.Now()),
	}, llm)
	_ = tm.Consolidate(context.Background(), []types.Episode{
		episode("s1", "two", types.EpisodeConversation, time.Now().Add(time.Second)),
	}, llm)

	count, err := store.ActiveItemCount(context.Background(), types.ComponentTask, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "cap of 1 must evict down to one active item")

	active, err := store.ActiveItemsForSession(context.Background(), "s1", types.ComponentTask)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "high importance item", active[0].Content)
}

func TestTaskMemory_EmptyBatchReturnsZeroReport(t *testing.T) {
	store := newTestStore(t)
	tm := consolidation.NewTaskMemory(store, 50, 5, nil)

	report := tm.Consolidate(context.Background(), nil, func(ctx context.Context, sys, user string) (string, error) {
		t.Fatal("llm must not be called for an empty batch")
		return "", nil
	})
	assert.Equal(t, types.ConsolidationReport{ComponentName: types.ComponentTask}, report)
}

func TestTaskMemory_MalformedResponseSkipsGroup(t *testing.T) {
	store := newTestStore(t)
	tm := consolidation.NewTaskMemory(store, 50, 5, nil)

	report := tm.Consolidate(context.Background(), []types.Episode{
		episode("s1", "hello", types.EpisodeConversation, time.Now()),
	}, func(ctx context.Context, sys, user string) (string, error) {
		return "not json", nil
	})

	assert.Equal(t, 0, report.ItemsCreated)
	count, err := store.ActiveItemCount(context.Background(), types.ComponentTask, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

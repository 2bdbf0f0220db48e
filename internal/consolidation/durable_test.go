package consolidation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/souvenir/internal/consolidation"
	"github.com/scrypster/souvenir/pkg/types"
)

func TestDurableMemory_ExtractsFactsAndRelationships(t *testing.T) {
	store := newTestStore(t)
	dm := consolidation.NewDurableMemory(store, 90*24*time.Hour, 0.97, 0.05, 5, nil)

	llm := func(ctx context.Context, sys, user string) (string, error) {
		return `{"facts": [{"content": "User prefers dark mode", "category": "preference",
			"entities": [{"name": "Alice", "type": "person"}], "importance": 0.8, "conflict": null}],
			"relationships": [{"from": "Alice", "to": "Souvenir", "relation": "uses", "confidence": 0.9}]}`, nil
	}

	report := dm.Consolidate(context.Background(), []types.Episode{
		episode("s1", "I use dark mode always", types.EpisodeConversation, time.Now()),
	}, llm)

	assert.Equal(t, 1, report.ItemsCreated)

	active, err := store.ActiveItemCount(context.Background(), types.ComponentDurable, "")
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	entities, err := store.FindEntitiesByName(context.Background(), "Alice")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Alice", entities[0].Name)

	rels, err := store.FindRelationshipsForEntity(context.Background(), entities[0].ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "uses", rels[0].Relation)
}

func TestDurableMemory_EmptyBatchAppliesDecayOnly(t *testing.T) {
	store := newTestStore(t)
	dm := consolidation.NewDurableMemory(store, time.Millisecond, 0.5, 0.9, 5, nil)

	seed := types.StoredMemory{
		ID: "m1", Content: "old fact", Component: types.ComponentDurable, Category: "fact",
		Importance: 0.95, Status: types.StatusActive,
		CreatedAt: time.Now().Add(-time.Hour), UpdatedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.Insert(context.Background(), &seed))

	report := dm.Consolidate(context.Background(), nil, func(ctx context.Context, sys, user string) (string, error) {
		t.Fatal("llm must not be called for an empty batch")
		return "", nil
	})

	assert.Equal(t, 1, report.ItemsDecayed, "0.95*0.5=0.475 < floor 0.9, must cross into decayed")
}

func TestDurableMemory_MalformedResponseStillDecays(t *testing.T) {
	store := newTestStore(t)
	dm := consolidation.NewDurableMemory(store, time.Millisecond, 0.5, 0.9, 5, nil)

	seed := types.StoredMemory{
		ID: "m1", Content: "old fact", Component: types.ComponentDurable, Category: "fact",
		Importance: 0.95, Status: types.StatusActive,
		CreatedAt: time.Now().Add(-time.Hour), UpdatedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.Insert(context.Background(), &seed))

	report := dm.Consolidate(context.Background(), []types.Episode{
		episode("s1", "hi", types.EpisodeConversation, time.Now()),
	}, func(ctx context.Context, sys, user string) (string, error) {
		return "not json", nil
	})

	assert.Equal(t, 0, report.ItemsCreated)
	assert.Equal(t, 1, report.ItemsDecayed)
}

func TestDurableMemory_ContradictionSupersedesExisting(t *testing.T) {
	store := newTestStore(t)
	dm := consolidation.NewDurableMemory(store, 90*24*time.Hour, 0.97, 0.05, 5, nil)

	seed := types.StoredMemory{
		ID: "old1", Content: "favorite color is red extraction marker", Component: types.ComponentDurable,
		Category: "preference", Importance: 0.6, Status: types.StatusActive,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.Insert(context.Background(), &seed))

	llm := func(ctx context.Context, sys, user string) (string, error) {
		return `{"facts": [{"content": "favorite color is red extraction marker but now blue",
			"category": "preference", "entities": [], "importance": 0.8, "conflict": "contradiction"}],
			"relationships": []}`, nil
	}

	report := dm.Consolidate(context.Background(), []types.Episode{
		episode("s1", "actually I like blue now", types.EpisodeConversation, time.Now()),
	}, llm)

	assert.Equal(t, 1, report.ItemsCreated)

	active, err := store.ActiveItemCount(context.Background(), types.ComponentDurable, "")
	require.NoError(t, err)
	assert.Equal(t, 1, active, "the old fact must be superseded, leaving only the new one active")
}

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

func TestEnvironmentalMemory_ExtractsItemsNoSessionScope(t *testing.T) {
	store := newTestStore(t)
	em := consolidation.NewEnvironmentalMemory(store, 14*24*time.Hour, 0.95, 0.1, 5, nil)

	llm := func(ctx context.Context, sys, user string) (string, error) {
		return `{"items": [{"content": "the build tool is Bazel", "category": "environment",
			"importance": 0.6, "action": "new"}]}`, nil
	}

	report := em.Consolidate(context.Background(), []types.Episode{
		episode("s1", "we use bazel here", types.EpisodeObservation, time.Now()),
	}, llm)

	assert.Equal(t, 1, report.ItemsCreated)

	active, err := store.ActiveItemCount(context.Background(), types.ComponentEnvironmental, "")
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestEnvironmentalMemory_EmptyBatchDecaysOnly(t *testing.T) {
	store := newTestStore(t)
	em := consolidation.NewEnvironmentalMemory(store, time.Millisecond, 0.1, 0.9, 5, nil)

	seed := types.StoredMemory{
		ID: "m1", Content: "old pattern", Component: types.ComponentEnvironmental, Category: "pattern",
		Importance: 0.95, Status: types.StatusActive,
		CreatedAt: time.Now().Add(-time.Hour), UpdatedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.Insert(context.Background(), &seed))

	report := em.Consolidate(context.Background(), nil, func(ctx context.Context, sys, user string) (string, error) {
		t.Fatal("llm must not be called for an empty batch")
		return "", nil
	})

	assert.Equal(t, 1, report.ItemsDecayed)
}

package consolidation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/souvenir/internal/ids"
	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

// buildTranscript renders episodes as a plain-text transcript for the LLM
// user prompt, one line per episode with its type tag.
func buildTranscript(episodes []types.Episode) string {
	var b strings.Builder
	for _, ep := range episodes {
		fmt.Fprintf(&b, "[%s] %s\n", ep.Type, ep.Content)
	}
	return b.String()
}

// resolvedItem is the common shape a component's extracted item is reduced
// to before conflict resolution, regardless of which LLM schema it came
// from.
type resolvedItem struct {
	Content          string
	Category         string
	Importance       float64
	SessionID        string
	EntityIDs        []string
	SourceEpisodeIDs []string
	Action           string // "new", "merge", "update", "contradiction", "duplicate", or "" (treated as new)
}

// resolutionOutcome reports what conflict resolution actually did, so the
// caller can tally items_created/items_merged.
type resolutionOutcome int

const (
	outcomeSkipped resolutionOutcome = iota
	outcomeCreated
	outcomeMerged
)

// resolveConflict finds the best existing candidate via FindSimilar
// (scoped to component/category/session), then applies the
// conflict-resolution rule matching item.Action.
func resolveConflict(ctx context.Context, store storage.MemoryStore, component string, item resolvedItem, findSimilarLimit int) (resolutionOutcome, error) {
	var existing *types.StoredMemory
	matches, err := store.FindSimilar(ctx, item.Content, component, item.Category, item.SessionID, findSimilarLimit)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("consolidation: findSimilar: %w", err)
	}
	if len(matches) > 0 {
		existing = &matches[0]
	}

	switch item.Action {
	case types.ActionMerge, types.ActionUpdate:
		if existing == nil {
			return insertFresh(ctx, store, component, item)
		}
		return mergeInto(ctx, store, existing, item)

	case types.ActionContradiction:
		newMem := newStoredMemory(component, item)
		if err := store.Insert(ctx, newMem); err != nil {
			return outcomeSkipped, fmt.Errorf("consolidation: insert contradiction: %w", err)
		}
		if existing != nil {
			if err := store.Supersede(ctx, existing.ID, newMem.ID); err != nil {
				return outcomeSkipped, fmt.Errorf("consolidation: supersede: %w", err)
			}
		}
		return outcomeCreated, nil

	case types.ActionDuplicate:
		if existing == nil {
			return insertFresh(ctx, store, component, item)
		}
		if existing.Importance >= item.Importance {
			return outcomeSkipped, nil
		}
		return mergeInto(ctx, store, existing, item)

	default: // "new" or unset
		if existing == nil {
			return insertFresh(ctx, store, component, item)
		}
		return mergeInto(ctx, store, existing, item)
	}
}

func insertFresh(ctx context.Context, store storage.MemoryStore, component string, item resolvedItem) (resolutionOutcome, error) {
	mem := newStoredMemory(component, item)
	if err := store.Insert(ctx, mem); err != nil {
		return outcomeSkipped, fmt.Errorf("consolidation: insert: %w", err)
	}
	return outcomeCreated, nil
}

func mergeInto(ctx context.Context, store storage.MemoryStore, existing *types.StoredMemory, item resolvedItem) (resolutionOutcome, error) {
	content := item.Content
	importance := max(existing.Importance, item.Importance)
	entityIDs := unionStrings(existing.EntityIDs, item.EntityIDs)
	sourceIDs := unionStrings(existing.SourceEpisodeIDs, item.SourceEpisodeIDs)

	err := store.Update(ctx, existing.ID, storage.MemoryUpdate{
		Content:          &content,
		Importance:       &importance,
		EntityIDs:        &entityIDs,
		SourceEpisodeIDs: &sourceIDs,
	})
	if err != nil {
		return outcomeSkipped, fmt.Errorf("consolidation: merge update: %w", err)
	}
	return outcomeMerged, nil
}

func newStoredMemory(component string, item resolvedItem) *types.StoredMemory {
	now := time.Now().UTC()
	return &types.StoredMemory{
		ID:               ids.NewMemoryID(component),
		CreatedAt:        now,
		UpdatedAt:        now,
		Content:          item.Content,
		Component:        component,
		Category:         item.Category,
		Importance:       item.Importance,
		SessionID:        item.SessionID,
		SourceEpisodeIDs: item.SourceEpisodeIDs,
		EntityIDs:        item.EntityIDs,
		Status:           types.StatusActive,
		ContentHash:      contentHash(item.Content),
	}
}

// upsertEntities resolves entity extractions (name+type pairs) into stored
// entity ids via get-or-create.
func upsertEntities(ctx context.Context, store storage.MemoryStore, entities []EntityExtraction) ([]string, error) {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		stored, err := store.UpsertEntity(ctx, &types.Entity{Name: e.Name, Type: e.Type})
		if err != nil {
			return nil, fmt.Errorf("consolidation: upsertEntity %q: %w", e.Name, err)
		}
		ids = append(ids, stored.ID)
	}
	return ids, nil
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

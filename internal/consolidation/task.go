package consolidation

import (
	"context"
	"log/slog"

	"github.com/scrypster/souvenir/internal/callbacks"
	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

// TaskMemory is the session-scoped reference component: an
// aggressive, low-bar extractor for goal/decision/result/context items,
// expiring the previous session's items whenever a new session id appears.
type TaskMemory struct {
	store              storage.MemoryStore
	maxItemsPerSession int
	findSimilarLimit   int
	logger             *slog.Logger

	// lastSessionID is the only state TaskMemory keeps outside the shared
	// store; it tracks the most recent session seen so boundary crossings
	// can expire the prior session's items.
	lastSessionID string
}

// NewTaskMemory constructs a TaskMemory component. maxItemsPerSession is the
// per-session active-item cap (default 50); findSimilarLimit bounds
// the merge-candidate search.
func NewTaskMemory(store storage.MemoryStore, maxItemsPerSession, findSimilarLimit int, logger *slog.Logger) *TaskMemory {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskMemory{store: store, maxItemsPerSession: maxItemsPerSession, findSimilarLimit: findSimilarLimit, logger: logger}
}

func (t *TaskMemory) Name() string { return types.ComponentTask }

func (t *TaskMemory) Initialize(ctx context.Context) error { return nil }

func (t *TaskMemory) Close() error { return nil }

// Consolidate groups episodes by session id preserving first-seen order,
// so multi-session batches are handled deterministically, expiring the prior
// session's task memories at every transition before extracting the new
// session's items.
func (t *TaskMemory) Consolidate(ctx context.Context, episodes []types.Episode, llm callbacks.LLMFunc) types.ConsolidationReport {
	report := types.ConsolidationReport{ComponentName: types.ComponentTask}
	if len(episodes) == 0 {
		return report
	}
	report.EpisodesConsumed = len(episodes)

	groups := groupBySessionFirstSeen(episodes)

	for _, group := range groups {
		if t.lastSessionID != "" && t.lastSessionID != group.sessionID {
			if _, err := t.store.ExpireSession(ctx, t.lastSessionID, types.ComponentTask); err != nil {
				t.logger.Warn("task: expire previous session failed", "session", t.lastSessionID, "error", err)
			}
		}
		t.lastSessionID = group.sessionID

		transcript := buildTranscript(group.episodes)
		raw, err := llm(ctx, taskSystemPrompt, transcript)
		if err != nil {
			t.logger.Warn("task: llm call failed, skipping session group", "session", group.sessionID, "error", err)
			continue
		}

		extraction, err := parseItems(raw)
		if err != nil {
			t.logger.Warn("task: response parse failed, skipping session group", "session", group.sessionID, "error", err)
			continue
		}

		sourceIDs := episodeIDs(group.episodes)
		for _, it := range extraction.Items {
			importance := it.Importance
			if importance <= 0 {
				importance = 0.5
			}
			outcome, err := resolveConflict(ctx, t.store, types.ComponentTask, resolvedItem{
				Content:          it.Content,
				Category:         it.Category,
				Importance:       importance,
				SessionID:        group.sessionID,
				SourceEpisodeIDs: sourceIDs,
				Action:           it.Action,
			}, t.findSimilarLimit)
			if err != nil {
				t.logger.Warn("task: resolve conflict failed", "error", err)
				continue
			}
			tally(&report, outcome)
		}

		t.enforceCap(ctx, group.sessionID, &report)
	}

	return report
}

// enforceCap evicts the lowest-importance active item in the session once
// the per-session cap is exceeded.
func (t *TaskMemory) enforceCap(ctx context.Context, sessionID string, report *types.ConsolidationReport) {
	active, err := t.store.ActiveItemsForSession(ctx, sessionID, types.ComponentTask)
	if err != nil {
		t.logger.Warn("task: list active items for cap check failed", "session", sessionID, "error", err)
		return
	}
	for len(active) > t.maxItemsPerSession {
		lowest := 0
		for i := range active {
			if active[i].Importance < active[lowest].Importance {
				lowest = i
			}
		}
		if err := t.store.ExpireItem(ctx, active[lowest].ID); err != nil {
			t.logger.Warn("task: cap eviction failed", "id", active[lowest].ID, "error", err)
			return
		}
		active = append(active[:lowest], active[lowest+1:]...)
	}
}

type sessionGroup struct {
	sessionID string
	episodes  []types.Episode
}

// groupBySessionFirstSeen partitions episodes (already timestamp-ordered by
// EpisodeStore.FetchUnconsolidated) into contiguous-by-appearance groups
// keyed by session id, preserving the order each session id is first seen
// in — not map iteration order — so session-boundary detection is
// deterministic across runs given the same input.
func groupBySessionFirstSeen(episodes []types.Episode) []sessionGroup {
	index := map[string]int{}
	var groups []sessionGroup
	for _, ep := range episodes {
		if i, ok := index[ep.SessionID]; ok {
			groups[i].episodes = append(groups[i].episodes, ep)
			continue
		}
		index[ep.SessionID] = len(groups)
		groups = append(groups, sessionGroup{sessionID: ep.SessionID, episodes: []types.Episode{ep}})
	}
	return groups
}

func episodeIDs(episodes []types.Episode) []string {
	ids := make([]string, len(episodes))
	for i, ep := range episodes {
		ids[i] = ep.ID
	}
	return ids
}

func tally(report *types.ConsolidationReport, outcome resolutionOutcome) {
	switch outcome {
	case outcomeCreated:
		report.ItemsCreated++
	case outcomeMerged:
		report.ItemsMerged++
	}
}

package storage

import (
	"context"
	"time"

	"github.com/scrypster/souvenir/pkg/types"
)

// ScoredMemory pairs a memory with a raw signal score. searchFts returns
// these with the BM25 score already sign-flipped so higher is better.
type ScoredMemory struct {
	Memory types.StoredMemory
	Score  float64
}

// MemoryStore is the unified persistent corpus: the
// only place StoredMemory, Entity, and Relationship rows live. Every
// operation's behaviour is a contract, documented on the method.
type MemoryStore interface {
	// Insert adds a new StoredMemory, keeping the FTS index consistent.
	// Fails with ErrStoreInvariantViolation if the id collides.
	Insert(ctx context.Context, memory *types.StoredMemory) error

	// Update applies a partial update. updated_at is always bumped. The FTS
	// index is kept consistent when Content changes.
	Update(ctx context.Context, id string, fields MemoryUpdate) error

	// FindSimilar returns candidates in the same component (optionally
	// scoped to category and/or sessionID) ranked by textual similarity to
	// content. Used exclusively for merge detection during consolidation —
	// intentionally not cross-component. Only active, temporally-valid
	// memories are considered.
	FindSimilar(ctx context.Context, content, component, category, sessionID string, limit int) ([]types.StoredMemory, error)

	// SearchFTS returns (memory, bm25_score) pairs across all components
	// for active, temporally-valid memories ranked by BM25. The query is
	// sanitized before reaching the FTS engine.
	SearchFTS(ctx context.Context, query string, limit int) ([]ScoredMemory, error)

	// LoadActiveWithEmbeddings returns every active, temporally-valid
	// memory that has an embedding.
	LoadActiveWithEmbeddings(ctx context.Context) ([]types.StoredMemory, error)

	// FindUnembeddedMemories returns active memories with no embedding, for
	// backfill.
	FindUnembeddedMemories(ctx context.Context, limit int) ([]types.StoredMemory, error)

	// UpsertEntity inserts or updates an entity by name (case-insensitive).
	UpsertEntity(ctx context.Context, entity *types.Entity) (*types.Entity, error)

	// UpsertRelationship inserts or updates by composite key
	// (from, to, relation).
	UpsertRelationship(ctx context.Context, rel *types.Relationship) error

	// FindEntitiesByName splits query into tokens of length > 2 and returns
	// entities whose name contains any token, case-insensitively. A missing
	// or too-short query returns an empty slice, not an error.
	FindEntitiesByName(ctx context.Context, query string) ([]types.Entity, error)

	// FindRelationshipsForEntity returns every edge incident to id in
	// either direction.
	FindRelationshipsForEntity(ctx context.Context, entityID string) ([]types.Relationship, error)

	// FindMemoriesByEntityIDs returns active, temporally-valid memories
	// whose entity_ids intersects ids.
	FindMemoriesByEntityIDs(ctx context.Context, ids []string) ([]types.StoredMemory, error)

	// UpdateAccessStats increments access_count and sets last_accessed=now
	// for every id.
	UpdateAccessStats(ctx context.Context, ids []string) error

	// ApplyImportanceDecay multiplies importance by decayRate for active
	// memories in component whose last activity predates
	// now-inactivePeriod. If floor is non-nil and the new importance falls
	// below it, the memory transitions to decayed. Returns the count that
	// crossed the floor.
	ApplyImportanceDecay(ctx context.Context, component string, inactivePeriod time.Duration, decayRate float64, floor *float64) (int, error)

	// ExpireSession transitions every active memory matching sessionID and
	// component to expired, setting invalid_at=now. Returns the count.
	ExpireSession(ctx context.Context, sessionID, component string) (int, error)

	// ExpireItem performs the same transition for a single memory.
	ExpireItem(ctx context.Context, id string) error

	// Supersede transitions oldID to superseded and records the link to
	// newID. No-ops silently if oldID does not exist.
	Supersede(ctx context.Context, oldID, newID string) error

	// ActiveItemCount returns the cardinality of active memories for
	// component, optionally scoped to sessionID (empty string = unscoped).
	ActiveItemCount(ctx context.Context, component, sessionID string) (int, error)

	// ActiveItemsForSession lists active memories for sessionID/component.
	ActiveItemsForSession(ctx context.Context, sessionID, component string) ([]types.StoredMemory, error)

	// DeleteTombstoned physically removes memories with the given status
	// whose updated_at < cutoff. Returns the count removed.
	DeleteTombstoned(ctx context.Context, status types.MemoryStatus, cutoff time.Time) (int, error)

	// DeleteOrphanedEntities removes entities referenced by no active
	// memory's entity_ids and no relationship endpoint.
	DeleteOrphanedEntities(ctx context.Context) (int, error)

	// DeleteOrphanedRelationships removes relationships whose endpoints no
	// longer exist.
	DeleteOrphanedRelationships(ctx context.Context) (int, error)

	// Stats returns counts by status and by component plus entity and
	// relationship counts.
	Stats(ctx context.Context) (types.Stats, error)

	// Close releases resources held by the store.
	Close() error
}

// EpisodeStore is the append-only buffer for raw episodes.
type EpisodeStore interface {
	// Insert appends a batch of episodes. Idempotent on an empty batch.
	Insert(ctx context.Context, batch []types.Episode) error

	// FetchUnconsolidated returns episodes with consolidated=false, ordered
	// by timestamp.
	FetchUnconsolidated(ctx context.Context) ([]types.Episode, error)

	// MarkConsolidated flips consolidated=true for the given ids. Never
	// un-flips.
	MarkConsolidated(ctx context.Context, ids []string) error

	// DeleteConsolidatedBefore removes consolidated episodes older than
	// cutoff. Returns the count removed. Unconsolidated episodes are never
	// dropped regardless of age.
	DeleteConsolidatedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases resources held by the store.
	Close() error
}

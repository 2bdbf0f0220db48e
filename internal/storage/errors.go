// Package storage defines the MemoryStore/EpisodeStore contracts shared by
// the sqlite and postgres backends, and the engine's sentinel errors.
package storage

import "errors"

var (
	// ErrNotInitialized is returned when an Engine operation is called
	// before Engine.Initialize has succeeded or after Engine.Close.
	ErrNotInitialized = errors.New("souvenir: not initialized")

	// ErrStoreInvariantViolation covers id collisions, dimension mismatches,
	// and malformed rows — programmer errors that are always surfaced.
	ErrStoreInvariantViolation = errors.New("souvenir: store invariant violation")

	// ErrNotFound indicates the requested memory/entity/relationship does
	// not exist.
	ErrNotFound = errors.New("souvenir: not found")

	// ErrGraphBoundsExceeded indicates a bounded graph expansion hit its cap.
	ErrGraphBoundsExceeded = errors.New("souvenir: graph bounds exceeded")

	// ErrEmbedding wraps a failure from the caller-supplied EmbeddingFunc.
	// It is never fatal: callers that see it logged know a memory was left
	// without a vector and will be retried on the next backfill pass.
	ErrEmbedding = errors.New("souvenir: embedding failed")

	// ErrSignalDegraded wraps a failure in one of UnifiedRecall's three
	// signals. Recall absorbs it and continues with whatever signals
	// still succeeded; it is logged, never returned.
	ErrSignalDegraded = errors.New("souvenir: recall signal degraded")
)

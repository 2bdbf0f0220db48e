// Package consolidation implements the three reference memory components
// (Task, Durable, Environmental) that turn raw episodes into curated
// StoredMemory rows via an LLM callback.
package consolidation

import (
	"context"
	"errors"

	"github.com/scrypster/souvenir/internal/callbacks"
	"github.com/scrypster/souvenir/pkg/types"
)

// ErrLlmExtraction covers a failed callback or an unparseable response. It
// is absorbed per-batch: the component returns a decay-only report instead
// of propagating the error to the engine.
var ErrLlmExtraction = errors.New("souvenir: llm extraction failed")

// Component is the contract every consolidation component satisfies.
// Recall is never implemented here — that is UnifiedRecall's job.
type Component interface {
	Initialize(ctx context.Context) error
	Consolidate(ctx context.Context, episodes []types.Episode, llm callbacks.LLMFunc) types.ConsolidationReport
	Close() error
	Name() string
}

package storage

import (
	"time"

	"github.com/scrypster/souvenir/pkg/types"
)

// MemoryUpdate is the partial-update payload for MemoryStore.Update.
// A nil field is left untouched; UpdatedAt is always bumped by the
// implementation regardless of which fields are set. InvalidAt is a pointer
// to a pointer: the outer pointer means "set this field", the inner pointer
// being nil means "clear invalid_at", matching the nullable TEXT column.
type MemoryUpdate struct {
	Content          *string
	Importance       *float64
	EntityIDs        *[]string
	SourceEpisodeIDs *[]string
	Embedding        *[]float32
	Status           *types.MemoryStatus
	SupersededBy     *string
	InvalidAt        **time.Time
}

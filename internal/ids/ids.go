// Package ids generates sortable identifiers for memories and episodes.
package ids

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewMemoryID produces an id of the form mem:<component>:<timestamp>-<uuid>.
// The timestamp prefix keeps ids roughly sort-stable by creation order even
// though uuid.NewString alone would not be; component is sanitized so the
// id stays safe to embed in log lines and file names.
func NewMemoryID(component string) string {
	return fmt.Sprintf("mem:%s:%s", sanitize(component), stamp())
}

// NewEpisodeID produces an id of the form ep:<session>:<timestamp>-<uuid>.
func NewEpisodeID(sessionID string) string {
	return fmt.Sprintf("ep:%s:%s", sanitize(sessionID), stamp())
}

func stamp() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())
}

func sanitize(s string) string {
	if s == "" {
		return "default"
	}
	return strings.ReplaceAll(strings.TrimSpace(s), ":", "-")
}

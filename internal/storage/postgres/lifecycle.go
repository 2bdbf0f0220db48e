package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/souvenir/pkg/types"
)

// UpdateAccessStats increments access_count and sets last_accessed=now for
// every id.
func (s *MemoryStore) UpdateAccessStats(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	now := time.Now().UTC()
	args = append(args, now)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET access_count = access_count + 1, last_accessed = $1
		WHERE id IN (%s)`, s.table("memories"), strings.Join(placeholders, ","))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: updateAccessStats: %w", err)
	}
	return nil
}

// ApplyImportanceDecay multiplies importance by decayRate for active
// memories in component whose last activity (max of last_accessed and
// updated_at) predates now-inactivePeriod. Memories whose importance falls
// below floor transition to decayed. Returns the count that crossed floor.
func (s *MemoryStore) ApplyImportanceDecay(ctx context.Context, component string, inactivePeriod time.Duration, decayRate float64, floor *float64) (int, error) {
	cutoff := time.Now().UTC().Add(-inactivePeriod)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, importance, last_accessed, updated_at FROM %s
		WHERE component = $1 AND status = $2`, s.table("memories")),
		component, string(types.StatusActive))
	if err != nil {
		return 0, fmt.Errorf("postgres: applyImportanceDecay select: %w", err)
	}

	type candidate struct {
		id         string
		importance float64
	}
	var stale []candidate
	for rows.Next() {
		var id string
		var importance float64
		var lastAccessed sql.NullTime
		var updatedAt time.Time
		if err := rows.Scan(&id, &importance, &lastAccessed, &updatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("postgres: applyImportanceDecay scan: %w", err)
		}
		activity := updatedAt
		if lastAccessed.Valid && lastAccessed.Time.After(activity) {
			activity = lastAccessed.Time
		}
		if activity.Before(cutoff) {
			stale = append(stale, candidate{id, importance})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("postgres: applyImportanceDecay rows: %w", err)
	}
	rows.Close()

	crossed := 0
	now := time.Now().UTC()
	for _, c := range stale {
		newImportance := c.importance * decayRate
		if floor != nil && newImportance < *floor {
			_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
				UPDATE %s SET importance = $1, status = $2, updated_at = $3 WHERE id = $4`, s.table("memories")),
				newImportance, string(types.StatusDecayed), now, c.id)
			if err != nil {
				return crossed, fmt.Errorf("postgres: applyImportanceDecay update (decayed): %w", err)
			}
			crossed++
			continue
		}
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET importance = $1, updated_at = $2 WHERE id = $3`, s.table("memories")),
			newImportance, now, c.id)
		if err != nil {
			return crossed, fmt.Errorf("postgres: applyImportanceDecay update: %w", err)
		}
	}
	return crossed, nil
}

// ExpireSession transitions every active memory matching sessionID and
// component to expired, setting invalid_at=now.
func (s *MemoryStore) ExpireSession(ctx context.Context, sessionID, component string) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $1, invalid_at = $2, updated_at = $3
		WHERE session_id = $4 AND component = $5 AND status = $6`, s.table("memories")),
		string(types.StatusExpired), now, now, sessionID, component, string(types.StatusActive))
	if err != nil {
		return 0, fmt.Errorf("postgres: expireSession: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ExpireItem performs the expiry transition for a single memory.
func (s *MemoryStore) ExpireItem(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $1, invalid_at = $2, updated_at = $3 WHERE id = $4`, s.table("memories")),
		string(types.StatusExpired), now, now, id)
	if err != nil {
		return fmt.Errorf("postgres: expireItem: %w", err)
	}
	return nil
}

// Supersede transitions oldID to superseded and records the link to newID.
// No-ops silently if oldID does not exist.
func (s *MemoryStore) Supersede(ctx context.Context, oldID, newID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $1, superseded_by = $2, updated_at = $3 WHERE id = $4`, s.table("memories")),
		string(types.StatusSuperseded), newID, now, oldID)
	if err != nil {
		return fmt.Errorf("postgres: supersede: %w", err)
	}
	return nil
}

// ActiveItemCount returns the cardinality of active memories for component,
// optionally scoped to sessionID (empty string = unscoped).
func (s *MemoryStore) ActiveItemCount(ctx context.Context, component, sessionID string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE component = $1 AND status = $2`, s.table("memories"))
	args := []any{component, string(types.StatusActive)}
	if sessionID != "" {
		query += " AND session_id = $3"
		args = append(args, sessionID)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: activeItemCount: %w", err)
	}
	return count, nil
}

// ActiveItemsForSession lists active memories for sessionID/component.
func (s *MemoryStore) ActiveItemsForSession(ctx context.Context, sessionID, component string) ([]types.StoredMemory, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE session_id = $1 AND component = $2 AND status = $3`,
		memoryColumns, s.table("memories"))

	rows, err := s.db.QueryContext(ctx, query, sessionID, component, string(types.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("postgres: activeItemsForSession: %w", err)
	}
	return scanMemoryRows(rows)
}

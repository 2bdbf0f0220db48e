package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scrypster/souvenir/pkg/types"
)

// DeleteTombstoned physically removes memories with the given status whose
// updated_at < cutoff.
func (s *MemoryStore) DeleteTombstoned(ctx context.Context, status types.MemoryStatus, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE status = ? AND updated_at < ?`, s.table("memories")),
		string(status), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleteTombstoned: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteOrphanedEntities removes entities referenced by no active memory's
// entity_ids and no relationship endpoint. An entity that is an endpoint of
// any relationship is kept, so this pass never orphans a relationship.
func (s *MemoryStore) DeleteOrphanedEntities(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id FROM %s", s.table("entities")))
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleteOrphanedEntities list: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sqlite: deleteOrphanedEntities scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sqlite: deleteOrphanedEntities rows: %w", err)
	}

	referenced, err := s.entityIDsReferencedByMemories(ctx)
	if err != nil {
		return 0, err
	}
	relReferenced, err := s.entityIDsReferencedByRelationships(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if referenced[id] || relReferenced[id] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table("entities")), id); err != nil {
			return removed, fmt.Errorf("sqlite: deleteOrphanedEntities delete %s: %w", id, err)
		}
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) entityIDsReferencedByMemories(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT entity_ids FROM %s WHERE status = ? AND entity_ids IS NOT NULL", s.table("memories")),
		string(types.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan entity_ids: %w", err)
	}
	defer rows.Close()

	referenced := map[string]bool{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan entity_ids row: %w", err)
		}
		var ids []string
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &ids); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal entity_ids: %w", err)
			}
		}
		for _, id := range ids {
			referenced[id] = true
		}
	}
	return referenced, rows.Err()
}

func (s *MemoryStore) entityIDsReferencedByRelationships(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT from_entity, to_entity FROM %s", s.table("relationships")))
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan relationship endpoints: %w", err)
	}
	defer rows.Close()

	referenced := map[string]bool{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("sqlite: scan relationship row: %w", err)
		}
		referenced[from] = true
		referenced[to] = true
	}
	return referenced, rows.Err()
}

// DeleteOrphanedRelationships removes relationships whose endpoints no
// longer exist in entities.
func (s *MemoryStore) DeleteOrphanedRelationships(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE from_entity NOT IN (SELECT id FROM %s) OR to_entity NOT IN (SELECT id FROM %s)`,
		s.table("relationships"), s.table("entities"), s.table("entities")))
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleteOrphanedRelationships: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns counts by status and by component plus entity/relationship
// counts.
func (s *MemoryStore) Stats(ctx context.Context) (types.Stats, error) {
	stats := types.Stats{
		CountByStatus:    map[types.MemoryStatus]int{},
		CountByComponent: map[string]int{},
	}

	statusRows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT status, COUNT(*) FROM %s GROUP BY status", s.table("memories")))
	if err != nil {
		return stats, fmt.Errorf("sqlite: stats by status: %w", err)
	}
	for statusRows.Next() {
		var status string
		var count int
		if err := statusRows.Scan(&status, &count); err != nil {
			statusRows.Close()
			return stats, fmt.Errorf("sqlite: scan status count: %w", err)
		}
		stats.CountByStatus[types.MemoryStatus(status)] = count
	}
	statusRows.Close()
	if err := statusRows.Err(); err != nil {
		return stats, fmt.Errorf("sqlite: stats by status rows: %w", err)
	}

	componentRows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT component, COUNT(*) FROM %s GROUP BY component", s.table("memories")))
	if err != nil {
		return stats, fmt.Errorf("sqlite: stats by component: %w", err)
	}
	for componentRows.Next() {
		var component string
		var count int
		if err := componentRows.Scan(&component, &count); err != nil {
			componentRows.Close()
			return stats, fmt.Errorf("sqlite: scan component count: %w", err)
		}
		stats.CountByComponent[component] = count
	}
	componentRows.Close()
	if err := componentRows.Err(); err != nil {
		return stats, fmt.Errorf("sqlite: stats by component rows: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table("entities"))).Scan(&stats.EntityCount); err != nil {
		return stats, fmt.Errorf("sqlite: entity count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table("relationships"))).Scan(&stats.RelationshipCount); err != nil {
		return stats, fmt.Errorf("sqlite: relationship count: %w", err)
	}

	return stats, nil
}
